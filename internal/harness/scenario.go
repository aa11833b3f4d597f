package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gatescan/internal/model"
)

// Scenario is a scripted gate session: a server-side catalog, a flow of
// operator actions with expected outcomes, and assertions on the trace and
// the final local and server state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is what the fake ticketing server serves.
	Catalog CatalogSpec `yaml:"catalog"`

	// Debounce is the duplicate-scan window. Zero disables it.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Flow contains the operator actions, executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// CatalogSpec is the server-side catalog of a scenario.
type CatalogSpec struct {
	Campaigns []CampaignSpec `yaml:"campaigns,omitempty"`
	Tickets   []TicketSpec   `yaml:"tickets"`
}

// CampaignSpec is a campaign row.
type CampaignSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TicketSpec is a ticket row. Status defaults to "active".
type TicketSpec struct {
	TicketID  string `yaml:"ticket_id"`
	QRPayload string `yaml:"qr_payload"`
	MaxScans  int    `yaml:"max_scans"`
	ScanCount int    `yaml:"scan_count,omitempty"`
	Status    string `yaml:"status,omitempty"`
}

// Step actions.
const (
	ActionScan       = "scan"
	ActionDownload   = "download"
	ActionSync       = "sync"
	ActionStats      = "stats"
	ActionClear      = "clear"
	ActionLogout     = "logout"
	ActionSetMode    = "set_mode"
	ActionAdvance    = "advance"
	ActionFailNext   = "fail_next"
	ActionServerScan = "server_scan" // another gate redeems a ticket on the server
)

var stepActions = map[string]bool{
	ActionScan:       true,
	ActionDownload:   true,
	ActionSync:       true,
	ActionStats:      true,
	ActionClear:      true,
	ActionLogout:     true,
	ActionSetMode:    true,
	ActionAdvance:    true,
	ActionFailNext:   true,
	ActionServerScan: true,
}

// Step is one operator action.
type Step struct {
	Action string `yaml:"action"`

	// Payload is the scanned QR payload (scan, server_scan).
	Payload string `yaml:"payload,omitempty"`

	// Mode pins a scan to "online" or "offline" regardless of the current
	// mode state.
	Mode string `yaml:"mode,omitempty"`

	// OfflineMode and Online are applied by set_mode when present.
	OfflineMode *bool `yaml:"offline_mode,omitempty"`
	Online      *bool `yaml:"online,omitempty"`

	// Duration is how far advance moves the clock.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Path and Status describe the fault queued by fail_next.
	Path   string `yaml:"path,omitempty"`
	Status int    `yaml:"status,omitempty"`

	// Expect specifies the expected completion. If nil the step must not
	// fail but its result is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is the expected output case: a verdict for scans, "ok" for other
	// actions, or an error code such as "DISCONNECTED".
	Case string `yaml:"case"`

	// Result is a subset match against the completion result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check action appears in trace with args
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check action appears exactly N times
	// - "final_state": Query a local table and verify expected values
	// - "server_ticket": Verify the server-side ticket after the flow
	// - "server_calls": Verify how many requests reached a server path
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args are the expected action arguments (trace_contains, subset match).
	Args map[string]any `yaml:"args,omitempty"`

	// Table and Where select the row checked by final_state.
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Ticket is the server-side ticket id checked by server_ticket.
	Ticket string `yaml:"ticket,omitempty"`

	// Path is the server path counted by server_calls.
	Path string `yaml:"path,omitempty"`

	// Expect contains expected field values (final_state, server_ticket).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count, server_calls).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertServerTicket  = "server_ticket"
	AssertServerCalls   = "server_calls"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ModelTickets converts the catalog's tickets to model tickets.
func (c CatalogSpec) ModelTickets() []model.Ticket {
	out := make([]model.Ticket, len(c.Tickets))
	for i, t := range c.Tickets {
		status := t.Status
		if status == "" {
			status = "active"
		}
		out[i] = model.Ticket{
			TicketID:  t.TicketID,
			QRPayload: t.QRPayload,
			MaxScans:  t.MaxScans,
			ScanCount: t.ScanCount,
			Status:    status,
		}
	}
	return out
}

// ModelCampaigns converts the catalog's campaigns to model campaigns.
func (c CatalogSpec) ModelCampaigns() []model.Campaign {
	out := make([]model.Campaign, len(c.Campaigns))
	for i, cp := range c.Campaigns {
		out[i] = model.Campaign{ID: cp.ID, Name: cp.Name}
	}
	return out
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Debounce < 0 {
		return fmt.Errorf("debounce must be non-negative")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	if s.Action == "" {
		return fmt.Errorf("flow[%d]: action is required", index)
	}
	if !stepActions[s.Action] {
		return fmt.Errorf("flow[%d]: unknown action %q", index, s.Action)
	}

	switch s.Action {
	case ActionScan, ActionServerScan:
		if s.Payload == "" {
			return fmt.Errorf("flow[%d]: payload is required for %s", index, s.Action)
		}
		if s.Mode != "" && s.Mode != "online" && s.Mode != "offline" {
			return fmt.Errorf("flow[%d]: mode must be online or offline, got %q", index, s.Mode)
		}
	case ActionSetMode:
		if s.OfflineMode == nil && s.Online == nil {
			return fmt.Errorf("flow[%d]: set_mode needs offline_mode or online", index)
		}
	case ActionAdvance:
		if s.Duration <= 0 {
			return fmt.Errorf("flow[%d]: duration must be positive for advance", index)
		}
	case ActionFailNext:
		if s.Path == "" {
			return fmt.Errorf("flow[%d]: path is required for fail_next", index)
		}
		if s.Status < 400 || s.Status > 599 {
			return fmt.Errorf("flow[%d]: status must be a 4xx or 5xx code for fail_next", index)
		}
	}

	if s.Expect != nil && s.Expect.Case == "" {
		return fmt.Errorf("flow[%d].expect: case is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertServerTicket:
		if a.Ticket == "" {
			return fmt.Errorf("assertions[%d]: ticket is required for server_ticket", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for server_ticket", index)
		}
	case AssertServerCalls:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for server_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for server_calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
