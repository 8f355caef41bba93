package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/emersion/go-mbox"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/extract"
	"github.com/loseme/loseme/internal/ids"
	"github.com/loseme/loseme/internal/scope"
)

// messageExtractor is the composite extractor contract the mailbox
// source needs beyond the generic Extractor interface.
type messageExtractor interface {
	ExtractMessage(ctx context.Context, msg *mail.Message) (*extract.Result, error)
}

// MailboxSource reads an mbox file message by message. Each message
// becomes one document whose parts mirror the MIME leaves.
type MailboxSource struct {
	scope     *scope.Mailbox
	scopeJSON string
	opts      Options
}

var _ Source = (*MailboxSource)(nil)

// NewMailboxSource builds the source for a mailbox scope.
func NewMailboxSource(sc *scope.Mailbox, opts Options) (*MailboxSource, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	scopeJSON, err := sc.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return &MailboxSource{
		scope:     sc,
		scopeJSON: string(scopeJSON),
		opts:      opts.withDefaults(),
	}, nil
}

// Iter streams the mailbox in file order. Messages matching an ignore
// pattern are skipped, as are repeats of an already-seen message id
// within this pass.
func (s *MailboxSource) Iter(ctx context.Context, fn func(*Document) error) error {
	composite, ok := s.opts.Extractors.ByName("mail")
	if !ok {
		return errors.Fatal("mail extractor not registered")
	}
	walker, ok := composite.(messageExtractor)
	if !ok {
		return errors.Fatal("mail extractor cannot walk parsed messages")
	}

	localPath := s.opts.PathMap.Localize(s.scope.MboxPath)
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(errors.KindValidation, err, "opening mbox %s", localPath)
	}
	defer func() { _ = f.Close() }()

	reader := mbox.NewReader(f)
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.opts.ShouldStop() {
			return nil
		}

		msgReader, err := reader.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(errors.KindFatal, err, "reading mbox %s", localPath)
		}

		msg, err := mail.ReadMessage(msgReader)
		if err != nil {
			s.opts.Logger.Warn("message_unparseable", slog.String("error", err.Error()))
			continue
		}

		if s.ignored(msg) {
			continue
		}

		messageID := messageID(msg)
		if _, dup := seen[messageID]; dup {
			s.opts.Logger.Warn("duplicate_message_id", slog.String("message_id", messageID))
			continue
		}
		seen[messageID] = struct{}{}

		doc, err := s.buildDocument(ctx, walker, msg, messageID)
		if err != nil {
			s.opts.Logger.Warn("message_extraction_failed",
				slog.String("message_id", messageID), slog.String("error", err.Error()))
			continue
		}

		if err := fn(doc); err != nil {
			return err
		}
	}
}

func (s *MailboxSource) buildDocument(ctx context.Context, walker messageExtractor, msg *mail.Message, messageID string) (*Document, error) {
	res, err := walker.ExtractMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	sid, err := ids.MessageSourceID(s.opts.DeviceID, s.scope.MboxPath, messageID)
	if err != nil {
		return nil, err
	}

	// All parts of one message share the merged-text checksum, so a
	// change anywhere in the message reprocesses every part.
	checksum := ids.Checksum(strings.Join(res.Texts, "\n"))

	when := time.Now().UTC()
	if date, err := msg.Header.Date(); err == nil {
		when = date.UTC()
	}

	doc := &Document{SourceInstanceID: sid, SourcePath: s.scope.MboxPath}
	for i := 0; i < res.Len(); i++ {
		meta := res.Metadata[i]
		if meta == nil {
			meta = map[string]string{}
		}
		meta["message_id"] = messageID
		meta["subject"] = msg.Header.Get("Subject")
		meta["from"] = msg.Header.Get("From")
		meta["to"] = msg.Header.Get("To")

		doc.Parts = append(doc.Parts, &DocumentPart{
			DocumentPartID:   ids.DocumentPartID(sid, res.UnitLocators[i]),
			SourceInstanceID: sid,
			DeviceID:         s.opts.DeviceID,
			Kind:             scope.KindMailbox,
			SourcePath:       s.scope.MboxPath,
			UnitLocator:      res.UnitLocators[i],
			ContentType:      res.ContentTypes[i],
			ExtractorName:    res.ExtractorNames[i],
			ExtractorVersion: res.ExtractorVersions[i],
			Checksum:         checksum,
			Metadata:         meta,
			ScopeJSON:        s.scopeJSON,
			Text:             res.Texts[i],
			CreatedAt:        when,
			UpdatedAt:        when,
		})
	}
	return doc, nil
}

// ignored applies the scope's header ignore patterns.
func (s *MailboxSource) ignored(msg *mail.Message) bool {
	for _, p := range s.scope.IgnorePatterns {
		value := msg.Header.Get(p.Field)
		if value == "" {
			continue
		}
		if wildcard.Match(strings.ToLower(p.Pattern), strings.ToLower(value)) {
			return true
		}
	}
	return false
}

// messageID returns the Message-ID header, or a digest of the
// identifying headers when a message lacks one.
func messageID(msg *mail.Message) string {
	if id := strings.TrimSpace(msg.Header.Get("Message-ID")); id != "" {
		return id
	}
	key := fmt.Sprintf("%s|%s|%s|%s",
		msg.Header.Get("From"),
		msg.Header.Get("To"),
		msg.Header.Get("Date"),
		msg.Header.Get("Subject"))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
