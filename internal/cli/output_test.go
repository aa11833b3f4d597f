package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/syncer"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("UNREACHABLE", "server unreachable", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "UNREACHABLE", resp.Error.Code)
	assert.Equal(t, "server unreachable", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := []string{"server.url: must be an absolute URL"}
	err := formatter.Error("INVALID_CONFIG", "invalid config", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Offline data cleared")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Offline data cleared")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("UNREACHABLE", "server unreachable", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [UNREACHABLE]")
	assert.Contains(t, buf.String(), "server unreachable")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := []string{"server.url: required"}
	err := formatter.Error("UNREACHABLE", "server unreachable", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [UNREACHABLE]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Discarding %d unsynced scans", 4)

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Discarding 4 unsynced scans")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "INVALID_CONFIG",
		Message: "invalid config",
		Details: []string{"server.url: required"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_CONFIG", decoded.Code)
	assert.Equal(t, "invalid config", decoded.Message)
}

func TestOutputFormatter_VerboseLogToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("Reading payloads from stdin")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Reading payloads from stdin")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := WrapExitError(ExitFailure, "sync failed", errors.New("timeout"))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "sync failed: timeout", wrapped.Error())
}

func TestNewPrinter(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"", "12,345"},
		{"C", "12,345"},
		{"POSIX", "12,345"},
		{"en_US.UTF-8", "12,345"},
		{"de_DE.UTF-8", "12.345"},
		{"de_DE@euro", "12.345"},
		{"not a locale!", "12,345"},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, newPrinter(tt.locale).Sprintf("%d", 12345))
		})
	}
}

func TestScanResult_RenderText(t *testing.T) {
	p := newPrinter("en")

	accepted := engine.Outcome{
		Verdict:  engine.VerdictAccepted,
		Message:  "Ticket validated successfully",
		Customer: &engine.Customer{FirstName: "Ada", LastName: "Lovelace"},
	}
	r := ScanResult{Payload: "QR-t1", Outcome: accepted, Tier: accepted.Tier()}
	assert.Equal(t, "[SUCCESS] Ticket validated successfully - Ada Lovelace", r.renderText(p))

	rejected := engine.NotFound()
	r = ScanResult{Payload: "QR-x", Outcome: rejected, Tier: rejected.Tier()}
	assert.Equal(t, "[ERROR] Ticket not found in offline database", r.renderText(p))
}

func TestSyncResult_RenderText(t *testing.T) {
	p := newPrinter("en")
	assert.Equal(t, "Nothing to sync", syncResult{}.renderText(p))
	assert.Equal(t, "Synced 1,200 scans", syncResult(syncer.SyncSummary{Synced: 1200, Uploaded: 1200}).renderText(p))
	assert.Equal(t, "Synced 2 scans (1 conflicts)", syncResult(syncer.SyncSummary{Synced: 2, Conflicts: 1, Uploaded: 3}).renderText(p))
}

func TestStatsResult_RenderText(t *testing.T) {
	r := statsResult(scanner.Report{Mode: "offline"})
	r.Local.TotalTickets = 1500
	r.Local.UnsyncedScans = 3

	text := r.renderText(newPrinter("de_DE"))
	assert.Contains(t, text, "Mode:            offline")
	assert.Contains(t, text, "Cached tickets:  1.500")
	assert.Contains(t, text, "Pending sync:    3")
	assert.Contains(t, text, "Last download:   never")
	assert.NotContains(t, text, "Scans today")

	r.Online = &remote.OnlineStats{Today: 4, Total: 9}
	r.LastUploadAt = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	text = r.renderText(newPrinter("en"))
	assert.Contains(t, text, "Scans today:     4")
	assert.NotContains(t, text, "Last sync:       never")
}

func TestOutputFormatter_TextRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(downloadResult(syncer.DownloadSummary{CampaignCount: 2, TicketCount: 3400})))
	assert.Equal(t, "Downloaded 2 campaigns and 3,400 tickets\n", buf.String())
}
