package cli

import (
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show local and server scan statistics",
		Long: `Show the cached ticket count, offline scans and pending sync count. In
online mode the operator's scan totals are fetched from the server too.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(nil)
			if err != nil {
				return fail(f, "stats", err)
			}
			defer a.Close()

			report, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return fail(f, "stats", err)
			}
			return f.Success(statsResult(report))
		},
	}
}
