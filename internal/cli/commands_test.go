package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/testutil"
)

// gate runs CLI commands against one database and a fake ticketing server.
type gate struct {
	t          *testing.T
	configPath string
	authority  *testutil.FakeAuthority
}

func newGate(t *testing.T) *gate {
	t.Helper()

	authority := testutil.NewFakeAuthority(t,
		[]model.Campaign{{ID: "c1", Name: "Opening Night"}},
		[]model.Ticket{
			{TicketID: "t1", QRPayload: "QR-t1", MaxScans: 2, Status: "active"},
			{TicketID: "t2", QRPayload: "QR-t2", MaxScans: 1, Status: "active"},
		},
	)
	return &gate{
		t:          t,
		configPath: writeConfig(t, authority.URL()),
		authority:  authority,
	}
}

func writeConfig(t *testing.T, serverURL string, extra ...string) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`server:
  url: %s
  timeout: 5s
  session_cookie: session=abc123
store:
  path: %s
scanner:
  debounce: 0s
sync:
  download_attempts: 1
  retry_interval: 10ms
`, serverURL, filepath.Join(dir, "gate.db"))
	content += strings.Join(extra, "\n")

	path := filepath.Join(dir, "gatescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (g *gate) run(stdin string, args ...string) (stdout, stderr string, code int) {
	g.t.Helper()

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", g.configPath, "--locale", "en_US"}, args...))

	err := cmd.Execute()
	return out.String(), errOut.String(), GetExitCode(err)
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestCommands_OfflineRoundTrip(t *testing.T) {
	g := newGate(t)

	out, _, code := g.run("", "download")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Downloaded 1 campaigns and 2 tickets\n", out)

	out, _, code = g.run("", "--offline", "scan", "QR-t1")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "[SUCCESS] Validated (Scan 1/2)\n", out)

	out, _, code = g.run("", "--offline", "scan", "QR-t1", "QR-t1", "QR-nope")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t,
		"[WARNING] Validated (Scan 2/2)\n"+
			"[ERROR] Already used (2/2)\n"+
			"[ERROR] Ticket not found in offline database\n", out)

	out, _, code = g.run("", "--format", "json", "stats")
	require.Equal(t, ExitSuccess, code, out)
	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	local := data["local"].(map[string]any)
	assert.Equal(t, float64(2), local["unsyncedScans"])
	assert.Equal(t, "online", data["mode"])

	out, _, code = g.run("", "sync")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Synced 2 scans\n", out)

	out, _, code = g.run("", "sync")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Nothing to sync\n", out)

	tk, ok := g.authority.Ticket("t1")
	require.True(t, ok)
	assert.Equal(t, 2, tk.ScanCount)
}

func TestCommands_ScanFromStdin(t *testing.T) {
	g := newGate(t)

	_, _, code := g.run("", "download")
	require.Equal(t, ExitSuccess, code)

	out, _, code := g.run("QR-t2\n\n  QR-t1  \n", "--offline", "--format", "json", "scan", "-")
	require.Equal(t, ExitSuccess, code, out)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	first := decodeResponse(t, lines[0]).Data.(map[string]any)
	assert.Equal(t, "QR-t2", first["payload"])
	assert.Equal(t, "warning", first["tier"])

	second := decodeResponse(t, lines[1]).Data.(map[string]any)
	assert.Equal(t, "QR-t1", second["payload"])
	outcome := second["outcome"].(map[string]any)
	assert.Equal(t, "accepted", outcome["verdict"])
	assert.Equal(t, "offline", outcome["source"])
	assert.NotEmpty(t, outcome["scanId"])
}

func TestCommands_OnlineScan(t *testing.T) {
	g := newGate(t)
	g.authority.RequireSession("abc123")

	out, _, code := g.run("", "scan", "QR-t2")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "[WARNING] Ticket validated successfully - Test Holder\n", out)

	out, _, code = g.run("", "scan", "QR-t2")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "[ERROR] Ticket has already been used - Test Holder\n", out)

	out, _, code = g.run("", "scan", "QR-unknown")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "[ERROR] Invalid ticket\n", out)
}

func TestCommands_Unauthorized(t *testing.T) {
	g := newGate(t)
	g.authority.RequireSession("another-session")

	out, _, code := g.run("", "--format", "json", "download")
	assert.Equal(t, ExitFailure, code)
	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestCommands_Unreachable(t *testing.T) {
	g := &gate{t: t, configPath: writeConfig(t, "http://127.0.0.1:1/api/v1")}

	out, _, code := g.run("", "--format", "json", "download")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "UNREACHABLE", decodeResponse(t, out).Error.Code)

	out, _, code = g.run("", "scan", "QR-t1")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "Error [UNREACHABLE]")
}

func TestCommands_Disconnected(t *testing.T) {
	g := newGate(t)

	_, _, code := g.run("", "download")
	require.Equal(t, ExitSuccess, code)

	out, _, code := g.run("", "--disconnected", "scan", "QR-t1")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "[SUCCESS] Validated (Scan 1/2)\n", out)
	assert.Equal(t, 0, g.authority.Calls("/validation/scan"))

	out, _, code = g.run("", "--disconnected", "--format", "json", "sync")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "DISCONNECTED", decodeResponse(t, out).Error.Code)
	assert.Equal(t, 0, g.authority.Calls("/validation/offline/sync"))

	out, _, code = g.run("", "--disconnected", "--format", "json", "download")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "DISCONNECTED", decodeResponse(t, out).Error.Code)
	assert.Equal(t, 1, g.authority.Calls("/validation/offline/download"))

	out, _, code = g.run("", "sync")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Synced 1 scans\n", out)
}

func TestCommands_ClearRequiresConfirmation(t *testing.T) {
	g := newGate(t)

	_, _, code := g.run("", "download")
	require.Equal(t, ExitSuccess, code)

	out, _, code := g.run("", "clear")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "CONFIRMATION_REQUIRED")

	out, _, code = g.run("", "clear", "--yes")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Offline data cleared\n", out)

	out, _, code = g.run("", "--offline", "scan", "QR-t1")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "Ticket not found in offline database")
}

func TestCommands_Logout(t *testing.T) {
	g := newGate(t)

	out, _, code := g.run("", "logout")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Logged out\n", out)
	assert.Equal(t, 1, g.authority.Calls("/auth/logout"))
}

func TestCommands_ConfigShow(t *testing.T) {
	g := newGate(t)

	out, _, code := g.run("", "config", "show")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "session_cookie: session=REDACTED")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, g.authority.URL())
}

func TestCommands_ConfigValidate(t *testing.T) {
	g := newGate(t)

	out, _, code := g.run("", "config", "validate")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Configuration valid\n", out)

	bad := &gate{t: t, configPath: writeConfig(t, "ftp://example.com", "api:\n  listen: nowhere\n")}
	out, _, code = bad.run("", "--format", "json", "config", "validate")
	assert.Equal(t, ExitCommandError, code)

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_CONFIG", resp.Error.Code)
	problems, ok := resp.Error.Details.([]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(problems), 2)
}

func TestCommands_BadConfigPath(t *testing.T) {
	g := &gate{t: t, configPath: filepath.Join(t.TempDir(), "missing.yaml")}

	out, _, code := g.run("", "stats")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "Error [COMMAND_ERROR]: failed to load config")
}
