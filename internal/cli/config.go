package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/gatescan/internal/config"
)

// configResult is the effective configuration with secrets redacted.
type configResult struct {
	Config config.Config `json:"config"`
	yaml   string
}

func (r configResult) renderText(*message.Printer) string {
	return strings.TrimRight(r.yaml, "\n")
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, environment
overrides and flags are applied. The session cookie value is redacted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return fail(f, "config", err)
			}
			cfg.Server.SessionCookie = redactCookie(cfg.Server.SessionCookie)

			out, err := cfg.Marshal()
			if err != nil {
				return fail(f, "config", WrapExitError(ExitCommandError, "failed to render config", err))
			}
			return f.Success(configResult{Config: cfg, yaml: string(out)})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration against the schema",
		Long: `Load the configuration and check every value against the built-in
schema, reporting each problem found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			_, err := rootOpts.loadConfig()
			if err != nil {
				var verr *config.ValidationError
				if errors.As(err, &verr) {
					_ = f.Error("INVALID_CONFIG", verr.Error(), verr.Problems)
					return NewExitError(ExitCommandError, "invalid config")
				}
				return fail(f, "config", err)
			}
			return f.Success("Configuration valid")
		},
	})

	return cmd
}

func redactCookie(cookie string) string {
	name, _, ok := strings.Cut(cookie, "=")
	if !ok {
		return cookie
	}
	return name + "=REDACTED"
}
