package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/mode"
	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/syncer"
	"github.com/roach88/gatescan/internal/telemetry"
)

// DefaultDebounce is how long an identical payload is ignored after a scan.
// It matches how long a result stays on screen.
const DefaultDebounce = 2100 * time.Millisecond

// MessageOfflineFailure is shown when the local engine could not record a
// scan.
const MessageOfflineFailure = "Offline validation failed"

var (
	// ErrDuplicateScan is returned for a repeat of the previous payload
	// inside the debounce window. Nothing was decided or recorded.
	ErrDuplicateScan = errors.New("duplicate scan ignored")

	// ErrScanInFlight is returned when a scan arrives while another is
	// being decided.
	ErrScanInFlight = errors.New("scan already in flight")

	// ErrDisconnected is returned by operations that need the authority
	// while the device has no connectivity.
	ErrDisconnected = errors.New("no connectivity")
)

// Authority is the remote surface the service uses.
type Authority interface {
	syncer.Authority
	ValidateOnline(ctx context.Context, payload string) (remote.ScanResult, error)
	MyStats(ctx context.Context) (remote.OnlineStats, error)
	Logout(ctx context.Context) error
}

// Event is published to listeners after every decided scan.
type Event struct {
	Payload string         `json:"payload"`
	Mode    mode.Mode      `json:"mode"`
	Outcome engine.Outcome `json:"outcome"`
	At      time.Time      `json:"at"`

	// Error is set when the scan could not be decided.
	Error string `json:"error,omitempty"`
}

// Listener receives scan events. Listeners run synchronously after the scan
// completes and must not block.
type Listener func(Event)

// Service is the facade. Safe for concurrent use.
type Service struct {
	store     *store.Store
	engine    *engine.Engine
	sync      *syncer.Coordinator
	authority Authority
	mode      *mode.Controller
	clock     engine.Clock
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	debounce  time.Duration

	engineOpts []engine.Option
	syncOpts   []syncer.Option

	scanMu      sync.Mutex // guards inFlight, lastPayload, lastAt
	inFlight    bool
	lastPayload string
	lastAt      time.Time

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock for debounce, ledger timestamps and sync times.
func WithClock(c engine.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records scans, syncs and mode changes in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDebounce sets the duplicate-payload window. Zero disables it.
// Default: DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithEngineOptions passes extra options to the offline engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithSyncOptions passes extra options to the sync coordinator.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *Service) {
		s.syncOpts = append(s.syncOpts, opts...)
	}
}

// New creates a Service over an initialized store.
func New(st *store.Store, authority Authority, ctl *mode.Controller, opts ...Option) *Service {
	s := &Service{
		store:     st,
		authority: authority,
		mode:      ctl,
		clock:     engine.SystemClock{},
		logger:    slog.Default(),
		debounce:  DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = engine.New(st, append([]engine.Option{
		engine.WithClock(s.clock),
		engine.WithLogger(s.logger),
	}, s.engineOpts...)...)

	s.sync = syncer.New(st, authority, append([]syncer.Option{
		syncer.WithClock(s.clock),
		syncer.WithLogger(s.logger),
		syncer.WithMetrics(s.metrics),
	}, s.syncOpts...)...)

	if s.metrics != nil {
		s.metrics.SetOfflineMode(ctl.Effective() == mode.Offline)
		ctl.Subscribe(func(_, next mode.State) {
			s.metrics.SetOfflineMode(next.Effective() == mode.Offline)
		})
		s.refreshGauges(context.Background())
	}
	return s
}

// Mode returns the mode controller.
func (s *Service) Mode() *mode.Controller {
	return s.mode
}

// Subscribe registers l for scan events.
func (s *Service) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Scan decides one scan of payload.
//
// Rejections are returned as Outcomes. An error means nothing was decided:
// ErrDuplicateScan, ErrScanInFlight, an EngineError when the local store
// failed, or a NetworkError when the authority could not decide an online
// scan.
func (s *Service) Scan(ctx context.Context, payload string) (engine.Outcome, error) {
	if err := s.begin(payload); err != nil {
		s.logger.Debug("scan ignored", "error", err)
		return engine.Outcome{}, err
	}
	defer s.end(payload)

	state := s.mode.Snapshot()
	return s.ScanWithState(ctx, payload, state)
}

// ScanWithState decides payload against an explicit mode state, bypassing
// the debounce and in-flight checks.
func (s *Service) ScanWithState(ctx context.Context, payload string, state mode.State) (engine.Outcome, error) {
	effective := state.Effective()

	ctx, span := telemetry.StartServiceSpan(ctx, "scanner", "scan")
	defer span.End()
	span.SetAttributes(attribute.String("scan.mode", string(effective)))

	var (
		outcome engine.Outcome
		err     error
	)
	if effective == mode.Offline {
		outcome, err = s.engine.Validate(ctx, payload)
	} else {
		outcome, err = s.validateOnline(ctx, payload)
	}

	ev := Event{Payload: payload, Mode: effective, Outcome: outcome, At: s.clock.Now()}
	if err != nil {
		telemetry.RecordError(span, err)
		ev.Error = err.Error()
		if effective == mode.Offline {
			ev.Outcome = engine.Outcome{
				Verdict: engine.VerdictRejected,
				Message: MessageOfflineFailure,
				Source:  engine.SourceOffline,
			}
		}
		s.publish(ev)
		return engine.Outcome{}, err
	}

	span.SetAttributes(
		attribute.String("scan.verdict", string(outcome.Verdict)),
		attribute.String("scan.tier", string(outcome.Tier())),
	)
	telemetry.SetSuccess(span)

	s.metrics.ObserveScan(string(outcome.Source), string(outcome.Verdict), string(outcome.Reason))
	if outcome.Source == engine.SourceOffline && outcome.Validated() {
		s.refreshGauges(ctx)
	}

	s.logger.Info("scan decided",
		"mode", effective,
		"ticket_id", outcome.TicketID,
		"verdict", outcome.Verdict,
		"tier", outcome.Tier(),
	)
	s.publish(ev)
	return outcome, nil
}

func (s *Service) begin(payload string) error {
	now := s.clock.Now()

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.inFlight {
		return ErrScanInFlight
	}
	if s.debounce > 0 && payload == s.lastPayload && now.Sub(s.lastAt) < s.debounce {
		return ErrDuplicateScan
	}
	s.inFlight = true
	return nil
}

// end releases the in-flight slot. The debounce window starts when the
// result is shown, not when the scan arrived.
func (s *Service) end(payload string) {
	now := s.clock.Now()

	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.inFlight = false
	s.lastPayload = payload
	s.lastAt = now
}

func (s *Service) validateOnline(ctx context.Context, payload string) (engine.Outcome, error) {
	res, err := s.authority.ValidateOnline(ctx, payload)
	if err != nil {
		if msg, ok := deniedMessage(err); ok {
			return engine.Denied(msg), nil
		}
		return engine.Outcome{}, fmt.Errorf("validate online: %w", err)
	}

	outcome := onlineOutcome(res)
	if outcome.Validated() {
		s.refreshCachedTicket(ctx, payload, res.Ticket.ScanCount)
	}
	return outcome, nil
}

// deniedMessage reports whether err is the authority refusing the scan
// itself rather than failing to decide it: a 4xx other than 401.
func deniedMessage(err error) (string, bool) {
	var ne *remote.NetworkError
	if !errors.As(err, &ne) || ne.Kind != remote.KindServerError {
		return "", false
	}
	if ne.Status < 400 || ne.Status > 499 || ne.Status == http.StatusUnauthorized {
		return "", false
	}
	return ne.Message, true
}

func onlineOutcome(res remote.ScanResult) engine.Outcome {
	var outcome engine.Outcome
	switch {
	case !res.Valid:
		outcome = engine.Denied(res.Message)
	case res.Ticket.RemainingScans <= 0:
		outcome = engine.Outcome{Verdict: engine.VerdictAcceptedFinal, Source: engine.SourceOnline}
	default:
		outcome = engine.Outcome{Verdict: engine.VerdictAccepted, Source: engine.SourceOnline}
	}

	outcome.TicketID = res.Ticket.TicketNumber
	outcome.ScanCount = res.Ticket.ScanCount
	outcome.MaxScans = res.Ticket.MaxScans
	if outcome.Validated() {
		outcome.Message = res.Message
		if outcome.Message == "" {
			outcome.Message = fmt.Sprintf("Validated (Scan %d/%d)", res.Ticket.ScanCount, res.Ticket.MaxScans)
		}
	}
	if res.Customer != nil {
		outcome.Customer = &engine.Customer{FirstName: res.Customer.FirstName, LastName: res.Customer.LastName}
	}
	return outcome
}

// refreshCachedTicket copies the authority's count onto the cached ticket.
// Best effort.
func (s *Service) refreshCachedTicket(ctx context.Context, payload string, serverCount int) {
	if _, err := s.engine.ApplyServerCount(ctx, payload, serverCount); err != nil {
		s.logger.Warn("cached ticket refresh failed", "error", err)
	}
}

func (s *Service) publish(ev Event) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Download replaces the cached catalog with the authority's.
func (s *Service) Download(ctx context.Context) (syncer.DownloadSummary, error) {
	if !s.mode.Snapshot().IsOnline {
		return syncer.DownloadSummary{}, fmt.Errorf("download catalog: %w", ErrDisconnected)
	}
	return s.sync.Download(ctx)
}

// Sync uploads the unsynced ledger.
func (s *Service) Sync(ctx context.Context) (syncer.SyncSummary, error) {
	if !s.mode.Snapshot().IsOnline {
		return syncer.SyncSummary{}, fmt.Errorf("upload ledger: %w", ErrDisconnected)
	}
	return s.sync.Upload(ctx)
}

// Report is the stats view for the current mode.
type Report struct {
	Mode  mode.Mode  `json:"mode"`
	State mode.State `json:"state"`

	// Local counts are always present: unsynced scans matter in any mode.
	Local model.Stats `json:"local"`

	// Online is the authority's view, present only in online mode.
	Online *remote.OnlineStats `json:"online,omitempty"`

	LastDownloadAt time.Time `json:"lastDownloadAt,omitzero"`
	LastUploadAt   time.Time `json:"lastUploadAt,omitzero"`
}

// Stats builds a Report. In online mode the authority's counts are fetched
// too; a failure there fails the call.
func (s *Service) Stats(ctx context.Context) (Report, error) {
	state := s.mode.Snapshot()
	r := Report{Mode: state.Effective(), State: state}

	local, err := s.store.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("stats: %w", err)
	}
	r.Local = local

	if r.LastDownloadAt, err = s.sync.LastDownload(ctx); err != nil {
		return Report{}, fmt.Errorf("stats: %w", err)
	}
	if r.LastUploadAt, err = s.sync.LastUpload(ctx); err != nil {
		return Report{}, fmt.Errorf("stats: %w", err)
	}

	if r.Mode == mode.Online {
		online, err := s.authority.MyStats(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("stats: %w", err)
		}
		r.Online = &online
	}
	return r, nil
}

// Clear deletes the catalog and ledger and turns offline mode off.
// Unsynced scans are lost.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear offline data: %w", err)
	}
	s.mode.SetOfflineMode(false)
	s.refreshGauges(ctx)
	return nil
}

// Logout ends the remote session, then clears offline data. A remote
// failure is logged and does not stop the local clear.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.authority.Logout(ctx); err != nil {
		s.logger.Warn("remote logout failed", "error", err)
	}
	return s.Clear(ctx)
}

func (s *Service) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		return
	}
	s.metrics.SetStoreGauges(st.TotalTickets, st.UnsyncedScans)
}
