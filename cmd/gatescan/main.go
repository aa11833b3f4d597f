// Command gatescan validates event tickets at the gate, online or against an
// offline catalog, and syncs offline scans back to the ticketing server.
package main

import (
	"os"

	"github.com/roach88/gatescan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
