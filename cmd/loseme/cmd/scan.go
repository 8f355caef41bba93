package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loseme/loseme/internal/scope"
)

func newScanCmd() *cobra.Command {
	var (
		recursive bool
		include   []string
		exclude   []string
		mbox      bool
		ignore    []string
	)

	cmd := &cobra.Command{
		Use:   "scan <path>...",
		Short: "Index local directories or a mailbox in one shot",
		Long: `Runs a full local pass: discover, extract, embed, store. No server
needed. With --mbox the path is read as an mbox file.

Examples:
  loseme scan ~/Documents
  loseme scan ~/notes ~/projects --include '*.md'
  loseme scan ~/mail/archive.mbox --mbox --ignore 'From=noreply@*'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			var sc scope.Scope
			if mbox {
				if len(args) != 1 {
					return fmt.Errorf("--mbox takes exactly one mbox file")
				}
				patterns, err := parseHeaderPatterns(ignore)
				if err != nil {
					return err
				}
				sc = &scope.Mailbox{MboxPath: args[0], IgnorePatterns: patterns}
			} else {
				sc = &scope.Filesystem{
					Directories:     args,
					Recursive:       recursive,
					IncludePatterns: include,
					ExcludePatterns: exclude,
				}
			}

			app, err := buildStack(cfg, logger)
			if err != nil {
				return err
			}
			defer app.close(logger)

			run, err := app.controller.Scan(cmd.Context(), sc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s %s\n", run.ID, run.Status)
			fmt.Fprintf(out, "  discovered: %d\n", run.DiscoveredCount)
			fmt.Fprintf(out, "  indexed:    %d\n", run.IndexedCount)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Descend into subdirectories")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Glob patterns of file names to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns of file names to exclude")
	cmd.Flags().BoolVar(&mbox, "mbox", false, "Treat the path as an mbox mailbox")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "Header=pattern pairs of messages to skip (mbox only)")
	return cmd
}

// parseHeaderPatterns turns "Field=pattern" flags into header
// patterns.
func parseHeaderPatterns(pairs []string) ([]scope.HeaderPattern, error) {
	var out []scope.HeaderPattern
	for _, pair := range pairs {
		field, pattern, ok := strings.Cut(pair, "=")
		if !ok || field == "" || pattern == "" {
			return nil, fmt.Errorf("ignore pattern %q must be Field=pattern", pair)
		}
		out = append(out, scope.HeaderPattern{Field: field, Pattern: pattern})
	}
	return out, nil
}
