package cli

import (
	"strings"
	"time"

	"golang.org/x/text/message"

	"github.com/roach88/gatescan/internal/engine"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/syncer"
)

// ScanResult is one scanned payload and its outcome.
type ScanResult struct {
	Payload string         `json:"payload"`
	Outcome engine.Outcome `json:"outcome"`
	Tier    engine.Tier    `json:"tier"`
}

func (r ScanResult) renderText(p *message.Printer) string {
	line := p.Sprintf("[%s] %s", strings.ToUpper(string(r.Tier)), r.Outcome.Message)
	if c := r.Outcome.Customer; c != nil {
		line += p.Sprintf(" - %s", c.Name())
	}
	return line
}

type downloadResult syncer.DownloadSummary

func (r downloadResult) renderText(p *message.Printer) string {
	return p.Sprintf("Downloaded %d campaigns and %d tickets", r.CampaignCount, r.TicketCount)
}

type syncResult syncer.SyncSummary

func (r syncResult) renderText(p *message.Printer) string {
	if r.Uploaded == 0 {
		return "Nothing to sync"
	}
	if r.Conflicts > 0 {
		return p.Sprintf("Synced %d scans (%d conflicts)", r.Synced, r.Conflicts)
	}
	return p.Sprintf("Synced %d scans", r.Synced)
}

type statsResult scanner.Report

func (r statsResult) renderText(p *message.Printer) string {
	var b strings.Builder
	p.Fprintf(&b, "Mode:            %s\n", r.Mode)
	p.Fprintf(&b, "Cached tickets:  %d\n", r.Local.TotalTickets)
	p.Fprintf(&b, "Offline scans:   %d\n", r.Local.TotalScans)
	p.Fprintf(&b, "Pending sync:    %d\n", r.Local.UnsyncedScans)
	if r.Online != nil {
		p.Fprintf(&b, "Scans today:     %d\n", r.Online.Today)
		p.Fprintf(&b, "Scans total:     %d\n", r.Online.Total)
	}
	p.Fprintf(&b, "Last download:   %s\n", formatTime(r.LastDownloadAt))
	p.Fprintf(&b, "Last sync:       %s", formatTime(r.LastUploadAt))
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
