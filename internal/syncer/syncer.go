package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/telemetry"
)

// DefaultDownloadAttempts bounds catalog download retries.
const DefaultDownloadAttempts = 4

// ErrInvalidCatalog is returned when the downloaded catalog breaks a ticket
// invariant or repeats an id or payload. The cached catalog is left as is.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Authority is the subset of the remote client the coordinator needs.
type Authority interface {
	DownloadCatalog(ctx context.Context) (model.Catalog, error)
	UploadValidations(ctx context.Context, entries []model.LogEntry) (remote.UploadResult, error)
}

// DownloadSummary reports a completed catalog download.
type DownloadSummary struct {
	CampaignCount int `json:"campaignCount"`
	TicketCount   int `json:"ticketCount"`
}

// SyncSummary reports a completed ledger upload.
type SyncSummary struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`

	// Uploaded is the number of ledger rows sent and acknowledged.
	Uploaded int `json:"uploaded"`
}

// Coordinator runs downloads and uploads against one store.
type Coordinator struct {
	mu        sync.Mutex // serializes Download and Upload
	store     *store.Store
	authority Authority
	clock     engine.Clock
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	downloadAttempts int
	retryInterval    time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for last-sync timestamps.
func WithClock(c engine.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

// WithMetrics records sync operations in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// WithDownloadAttempts bounds download attempts. Values below 1 mean one
// attempt. Default: DefaultDownloadAttempts.
func WithDownloadAttempts(n int) Option {
	return func(co *Coordinator) {
		if n < 1 {
			n = 1
		}
		co.downloadAttempts = n
	}
}

// WithRetryInterval sets the first backoff interval between download
// attempts. Default: 500ms.
func WithRetryInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.retryInterval = d
		}
	}
}

// New creates a Coordinator.
func New(s *store.Store, authority Authority, opts ...Option) *Coordinator {
	co := &Coordinator{
		store:            s,
		authority:        authority,
		clock:            engine.SystemClock{},
		logger:           slog.Default(),
		downloadAttempts: DefaultDownloadAttempts,
		retryInterval:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Download fetches the authority's catalog, validates it, and replaces the
// cached catalog in one transaction.
//
// Unreachable and 5xx responses are retried with exponential backoff; the
// request is an idempotent read. Any other failure, including an invalid
// catalog, leaves the cached catalog untouched.
func (co *Coordinator) Download(ctx context.Context) (DownloadSummary, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "syncer", "download")
	defer span.End()
	start := time.Now()

	summary, err := co.download(ctx)
	co.metrics.ObserveSync("download", time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		co.logger.Error("catalog download failed", "error", err)
		return DownloadSummary{}, err
	}

	span.SetAttributes(
		attribute.Int("catalog.campaigns", summary.CampaignCount),
		attribute.Int("catalog.tickets", summary.TicketCount),
	)
	telemetry.SetSuccess(span)
	co.logger.Info("catalog downloaded",
		"campaigns", summary.CampaignCount,
		"tickets", summary.TicketCount,
	)
	return summary, nil
}

func (co *Coordinator) download(ctx context.Context) (DownloadSummary, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = co.retryInterval

	catalog, err := backoff.Retry(ctx,
		func() (model.Catalog, error) {
			c, err := co.authority.DownloadCatalog(ctx)
			if err != nil && !remote.IsRetryable(err) {
				return c, backoff.Permanent(err)
			}
			return c, err
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(co.downloadAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			co.logger.Warn("catalog download failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return DownloadSummary{}, fmt.Errorf("download catalog: %w", err)
	}

	if err := catalog.Validate(); err != nil {
		return DownloadSummary{}, fmt.Errorf("download catalog: %w: %w", ErrInvalidCatalog, err)
	}

	if err := co.store.ReplaceCatalog(ctx, catalog.Campaigns, catalog.Tickets); err != nil {
		return DownloadSummary{}, fmt.Errorf("download catalog: %w", err)
	}

	co.recordTime(ctx, store.MetaLastDownloadAt)
	co.refreshGauges(ctx)

	return DownloadSummary{
		CampaignCount: len(catalog.Campaigns),
		TicketCount:   len(catalog.Tickets),
	}, nil
}

// Upload submits every unsynced ledger row to the authority and
// acknowledges the rows it sent.
//
// An empty ledger returns a zero summary without a network call. The batch
// is never retried here: if the response is lost after the authority
// applied it, a retry would double count at any authority that ignores
// scanId.
func (co *Coordinator) Upload(ctx context.Context) (SyncSummary, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "syncer", "upload")
	defer span.End()

	entries, err := co.store.UnsyncedLogs(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return SyncSummary{}, fmt.Errorf("upload ledger: %w", err)
	}
	if len(entries) == 0 {
		co.logger.Debug("ledger empty, nothing to upload")
		telemetry.SetSuccess(span)
		return SyncSummary{}, nil
	}

	start := time.Now()
	summary, err := co.upload(ctx, entries)
	co.metrics.ObserveSync("upload", time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		co.logger.Error("ledger upload failed", "rows", len(entries), "error", err)
		return SyncSummary{}, err
	}

	co.metrics.ObserveUpload(summary.Synced, summary.Conflicts)
	span.SetAttributes(
		attribute.Int("ledger.uploaded", summary.Uploaded),
		attribute.Int("ledger.synced", summary.Synced),
		attribute.Int("ledger.conflicts", summary.Conflicts),
	)
	telemetry.SetSuccess(span)
	co.logger.Info("ledger uploaded",
		"rows", summary.Uploaded,
		"synced", summary.Synced,
		"conflicts", summary.Conflicts,
	)
	return summary, nil
}

func (co *Coordinator) upload(ctx context.Context, entries []model.LogEntry) (SyncSummary, error) {
	res, err := co.authority.UploadValidations(ctx, entries)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("upload ledger: %w", err)
	}
	if res.Synced < 0 || res.Conflicts < 0 {
		return SyncSummary{}, fmt.Errorf("upload ledger: %w", &remote.NetworkError{
			Kind:    remote.KindServerError,
			Method:  http.MethodPost,
			Path:    remote.PathUpload,
			Status:  http.StatusOK,
			Message: fmt.Sprintf("negative counts in upload result (synced=%d, conflicts=%d)", res.Synced, res.Conflicts),
		})
	}

	// Entries come back in id order; the last one is the high-water mark.
	through := entries[len(entries)-1].ID
	n, err := co.store.MarkSyncedThrough(ctx, through)
	if err != nil {
		// The authority has the batch. The rows stay unsynced and will be
		// sent again, which a scanId-aware authority ignores.
		return SyncSummary{}, fmt.Errorf("upload ledger: acknowledge through %d: %w", through, err)
	}

	co.recordTime(ctx, store.MetaLastUploadAt)
	co.refreshGauges(ctx)

	return SyncSummary{
		Synced:    res.Synced,
		Conflicts: res.Conflicts,
		Uploaded:  int(n),
	}, nil
}

// LastDownload returns when the catalog was last downloaded, or the zero
// time.
func (co *Coordinator) LastDownload(ctx context.Context) (time.Time, error) {
	return co.store.Time(ctx, store.MetaLastDownloadAt)
}

// LastUpload returns when the ledger was last uploaded, or the zero time.
func (co *Coordinator) LastUpload(ctx context.Context) (time.Time, error) {
	return co.store.Time(ctx, store.MetaLastUploadAt)
}

// recordTime stores a sync timestamp. The sync itself already succeeded,
// so a failure here is only logged.
func (co *Coordinator) recordTime(ctx context.Context, key string) {
	if err := co.store.SetTime(ctx, key, co.clock.Now()); err != nil {
		co.logger.Warn("failed to record sync time", "key", key, "error", err)
	}
}

func (co *Coordinator) refreshGauges(ctx context.Context) {
	if co.metrics == nil {
		return
	}
	st, err := co.store.Stats(ctx)
	if err != nil {
		return
	}
	co.metrics.SetStoreGauges(st.TotalTickets, st.UnsyncedScans)
}
