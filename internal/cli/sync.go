package cli

import (
	"github.com/spf13/cobra"
)

// NewDownloadCommand creates the download command.
func NewDownloadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the offline ticket catalog",
		Long: `Fetch the campaigns and tickets for offline validation and replace the
local catalog. Scan progress recorded locally is overwritten by the server's
counts; pending offline scans stay in the ledger until synced.

Transient server failures are retried (sync.download_attempts).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(nil)
			if err != nil {
				return fail(f, "download", err)
			}
			defer a.Close()

			summary, err := a.svc.Download(cmd.Context())
			if err != nil {
				return fail(f, "download", err)
			}
			return f.Success(downloadResult(summary))
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload offline scans to the server",
		Long: `Send every unsynced offline scan to the server in one batch. On success
the uploaded scans are marked synced; on failure the ledger is left untouched
and the next sync sends the same scans again.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(nil)
			if err != nil {
				return fail(f, "sync", err)
			}
			defer a.Close()

			summary, err := a.svc.Sync(cmd.Context())
			if err != nil {
				return fail(f, "sync", err)
			}
			return f.Success(syncResult(summary))
		},
	}
}
