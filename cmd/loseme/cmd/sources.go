package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loseme/loseme/internal/scope"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage monitored sources on a server",
	}
	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesScanCmd())
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var (
		recursive bool
		include   []string
		exclude   []string
		mbox      bool
		ignore    []string
	)

	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Register directories or a mailbox for on-demand rescans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// The canonical form carries the kind discriminator the
			// server's decoder expects
			envelope, err := sc.CanonicalJSON()
			if err != nil {
				return err
			}

			c, err := apiClient()
			if err != nil {
				return err
			}
			src, err := c.AddSource(cmd.Context(), envelope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source %s registered (%s)\n", src.ID, src.Locator)
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

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List monitored sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			sources, err := c.ListSources(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tKIND\tLOCATOR\tENABLED")
			for _, src := range sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", src.ID, src.Kind, src.Locator, src.Enabled)
			}
			return w.Flush()
		},
	}
}

func newSourcesScanCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "scan [source-id]",
		Short: "Start a run for a monitored source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if all {
				runs, err := c.ScanAll(cmd.Context())
				if err != nil {
					return err
				}
				for _, run := range runs {
					fmt.Fprintf(out, "Run %s started (%s)\n", run.ID, run.Kind)
				}
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("source id required unless --all")
			}
			run, err := c.ScanSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run %s started (%s)\n", run.ID, run.Kind)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Scan every enabled source")
	return cmd
}
