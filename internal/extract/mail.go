package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"

	"github.com/loseme/loseme/internal/errors"
)

// MailExtractor walks the MIME structure of an RFC 5322 message and
// emits one part per leaf. text/plain bodies pass through, text/html
// is stripped to text, PDF attachments are delegated back through the
// registry, and anything else yields an empty placeholder part so the
// ordinal unit locators stay stable.
type MailExtractor struct {
	registry *Registry
}

// NewMailExtractor builds the composite extractor. The registry is a
// constructor parameter so attachment delegation has no global state.
func NewMailExtractor(registry *Registry) *MailExtractor {
	return &MailExtractor{registry: registry}
}

var _ Extractor = (*MailExtractor)(nil)

func (e *MailExtractor) Name() string    { return "mail" }
func (e *MailExtractor) Version() string { return "0.1" }
func (e *MailExtractor) Priority() int   { return 15 }

func (e *MailExtractor) CanExtract(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".eml")
}

func (e *MailExtractor) CanExtractBytes(_ []byte) bool { return false }

func (e *MailExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "opening %s", path)
	}
	defer func() { _ = f.Close() }()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return nil, errors.Wrap(errors.KindExtractionSkipped, err, "parsing message %s", path)
	}
	return e.ExtractMessage(ctx, msg)
}

func (e *MailExtractor) ExtractBytes(ctx context.Context, data []byte) (*Result, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(data)))
	if err != nil {
		return nil, errors.Wrap(errors.KindExtractionSkipped, err, "parsing message payload")
	}
	return e.ExtractMessage(ctx, msg)
}

// ExtractMessage walks an already-parsed message. The mailbox source
// calls this directly after mbox framing and header filtering.
func (e *MailExtractor) ExtractMessage(ctx context.Context, msg *mail.Message) (*Result, error) {
	res := &Result{}
	err := e.walk(ctx, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body, res)
	if err != nil {
		return nil, err
	}

	// Leaf ordinals address parts within the message
	for i := range res.UnitLocators {
		res.UnitLocators[i] = fmt.Sprintf("message_part://%d", i)
	}
	return res, nil
}

func (e *MailExtractor) walk(ctx context.Context, contentType, transferEncoding, filename string, body io.Reader, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if contentType == "" {
		contentType = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/octet-stream"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return errors.ExtractionSkipped("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// Truncated or malformed trailing parts end the walk
				return nil
			}
			err = e.walk(ctx,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				part.FileName(),
				part, res)
			if err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeBody(body, transferEncoding))
	if err != nil {
		return errors.Wrap(errors.KindExtractionSkipped, err, "reading message part")
	}

	meta := map[string]string{}
	if filename != "" {
		meta["filename"] = filename
	}

	switch {
	case mediaType == "text/plain":
		text := strings.ToValidUTF8(string(data), "")
		res.Append(text, mediaType, "", e.Name(), e.Version(), meta)

	case mediaType == "text/html":
		text := e.htmlToText(ctx, data)
		res.Append(text, mediaType, "", e.Name(), e.Version(), meta)

	case mediaType == "application/pdf" || strings.HasSuffix(strings.ToLower(filename), ".pdf"):
		text := ""
		if sub, err := e.registry.ExtractBytes(ctx, data); err == nil && sub.Len() > 0 {
			text = sub.Texts[0]
		}
		res.Append(text, "application/pdf", "", e.Name(), e.Version(), meta)

	default:
		// Unhandled leaf types keep their slot with empty text
		res.Append("", mediaType, "", e.Name(), e.Version(), meta)
	}
	return nil
}

func (e *MailExtractor) htmlToText(ctx context.Context, data []byte) string {
	if html, ok := e.registry.ByName("html"); ok {
		if sub, err := html.ExtractBytes(ctx, data); err == nil && sub.Len() > 0 {
			return sub.Texts[0]
		}
	}
	return strings.ToValidUTF8(string(data), "")
}

func decodeBody(body io.Reader, transferEncoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}
