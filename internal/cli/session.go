package cli

import (
	"github.com/spf13/cobra"
)

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the offline catalog and scan ledger",
		Long: `Delete every cached campaign, ticket and offline scan, including scans
not yet synced, and switch offline mode off.

Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !yes {
				_ = f.Error("CONFIRMATION_REQUIRED", "clear deletes unsynced scans; pass --yes to confirm", nil)
				return NewExitError(ExitCommandError, "clear not confirmed")
			}

			a, err := rootOpts.openApp(nil)
			if err != nil {
				return fail(f, "clear", err)
			}
			defer a.Close()

			pending, err := a.store.Stats(cmd.Context())
			if err != nil {
				return fail(f, "clear", err)
			}
			if pending.UnsyncedScans > 0 {
				f.VerboseLog("Discarding %d unsynced scans", pending.UnsyncedScans)
			}
			if err := a.svc.Clear(cmd.Context()); err != nil {
				return fail(f, "clear", err)
			}
			return f.Success("Offline data cleared")
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the server session and clear offline data",
		Long: `Notify the server that the session ended, then clear offline data the way
clear does. A server that cannot be reached does not block the local clear.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(nil)
			if err != nil {
				return fail(f, "logout", err)
			}
			defer a.Close()

			if err := a.svc.Logout(cmd.Context()); err != nil {
				return fail(f, "logout", err)
			}
			return f.Success("Logged out")
		},
	}
}
