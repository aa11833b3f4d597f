package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gatescan/internal/engine"
)

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [payload...]",
		Short: "Validate scanned ticket payloads",
		Long: `Validate one or more QR payloads.

In online mode each payload is checked by the ticketing server. With
--offline (or scanner.offline_mode in the config) payloads are checked
against the downloaded catalog and recorded for the next sync.

With no arguments, or "-", payloads are read one per line from stdin, which
suits keyboard-wedge barcode readers.

Exits 1 if any payload is rejected or fails to validate.

Example:
  gatescan scan TICKET-QR-123
  gatescan --offline scan < payloads.txt`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rootOpts, args)
		},
	}

	return cmd
}

func runScan(cmd *cobra.Command, opts *RootOptions, args []string) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(nil)
	if err != nil {
		return fail(f, "scan", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var scanned, rejected, failed int
	handle := func(payload string) {
		scanned++
		outcome, err := a.svc.Scan(ctx, payload)
		if err != nil {
			failed++
			_ = fail(f, "scan", err)
			return
		}
		if outcome.Verdict == engine.VerdictRejected {
			rejected++
		}
		_ = f.Success(ScanResult{Payload: payload, Outcome: outcome, Tier: outcome.Tier()})
	}

	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		f.VerboseLog("Reading payloads from stdin (mode: %s)", a.svc.Mode().Effective())
		if err := readPayloads(cmd.InOrStdin(), handle); err != nil {
			return WrapExitError(ExitCommandError, "failed to read payloads", err)
		}
	} else {
		for _, payload := range args {
			handle(payload)
		}
	}

	if rejected+failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scans not accepted", rejected+failed, scanned))
	}
	return nil
}

// readPayloads calls fn for each non-blank line of r.
func readPayloads(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
