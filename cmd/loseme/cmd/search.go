package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents on a server",
		Long: `Runs a semantic query against a running server.

Examples:
  loseme search "tax documents from 2024"
  loseme search "flight booking confirmation" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			c, err := apiClient()
			if err != nil {
				return err
			}
			hits, err := c.Search(cmd.Context(), query, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}

			if len(hits) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, hit := range hits {
				fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, hit.Score, hit.Metadata["source_path"])
				if loc := hit.Metadata["unit_locator"]; loc != "" {
					fmt.Fprintf(out, "   %s\n", loc)
				}
				fmt.Fprintf(out, "   %s\n", snippet(hit.Text, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// snippet flattens whitespace and truncates for terminal display.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
