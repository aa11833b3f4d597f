package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/remote"
)

// SessionCookieName is the cookie the fake authority checks when a session
// is required.
const SessionCookieName = "session"

// Fault is a canned failure returned by the fake authority instead of the
// normal response.
type Fault struct {
	Status  int
	Message string

	// Body, when set, is written verbatim instead of a JSON envelope.
	Body string
}

// FakeAuthority is an in-memory ticketing authority served over httptest.
//
// It applies the same bounded-redemption rule as the real server: an online
// scan or an uploaded offline validation counts only while the ticket has
// scans left, and an uploaded validation that finds the ticket exhausted is
// reported as a conflict.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeAuthority struct {
	Server *httptest.Server

	mu        sync.Mutex
	campaigns []model.Campaign
	tickets   []*model.Ticket
	byPayload map[string]*model.Ticket
	byID      map[string]*model.Ticket
	uploads   [][]remote.OfflineValidation
	seenScans map[string]bool
	calls     map[string]int
	faults    map[string][]Fault
	session   string
	today     int
	total     int
}

// NewFakeAuthority starts a fake authority serving the given catalog. The
// server is closed when the test ends.
func NewFakeAuthority(t testing.TB, campaigns []model.Campaign, tickets []model.Ticket) *FakeAuthority {
	t.Helper()

	a := &FakeAuthority{
		calls:     make(map[string]int),
		faults:    make(map[string][]Fault),
		seenScans: make(map[string]bool),
	}
	a.SetCatalog(campaigns, tickets)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.count, a.fault, a.requireSession)
		r.Post(remote.PathScan, a.scan)
		r.Get(remote.PathDownload, a.download)
		r.Post(remote.PathUpload, a.upload)
		r.Get(remote.PathMyStats, a.myStats)
		r.Post(remote.PathLogout, a.logout)
	})

	a.Server = httptest.NewServer(r)
	t.Cleanup(a.Server.Close)
	return a
}

// URL returns the base URL to hand to remote.New.
func (a *FakeAuthority) URL() string {
	return a.Server.URL + "/api/v1"
}

// SetCatalog replaces the server-side catalog.
func (a *FakeAuthority) SetCatalog(campaigns []model.Campaign, tickets []model.Ticket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.campaigns = append([]model.Campaign(nil), campaigns...)
	a.tickets = make([]*model.Ticket, 0, len(tickets))
	a.byPayload = make(map[string]*model.Ticket, len(tickets))
	a.byID = make(map[string]*model.Ticket, len(tickets))
	for _, t := range tickets {
		tk := t
		a.tickets = append(a.tickets, &tk)
		a.byPayload[tk.QRPayload] = &tk
		a.byID[tk.TicketID] = &tk
	}
}

// Ticket returns the server-side state of a ticket.
func (a *FakeAuthority) Ticket(id string) (model.Ticket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.byID[id]
	if !ok {
		return model.Ticket{}, false
	}
	return *t, true
}

// RequireSession makes every request without the given session cookie
// fail with 401.
func (a *FakeAuthority) RequireSession(value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = value
}

// FailNext queues faults for the next requests to path (one of the
// remote.Path constants), consumed in order.
func (a *FakeAuthority) FailNext(path string, faults ...Fault) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[path] = append(a.faults[path], faults...)
}

// Calls returns how many requests reached path, failed ones included.
func (a *FakeAuthority) Calls(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

// Uploads returns every upload batch received, in order.
func (a *FakeAuthority) Uploads() [][]remote.OfflineValidation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]remote.OfflineValidation, len(a.uploads))
	copy(out, a.uploads)
	return out
}

func (a *FakeAuthority) route(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/api/v1")
}

func (a *FakeAuthority) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[a.route(r)]++
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (a *FakeAuthority) fault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := a.route(r)

		a.mu.Lock()
		queue := a.faults[path]
		var f *Fault
		if len(queue) > 0 {
			f = &queue[0]
			a.faults[path] = queue[1:]
		}
		a.mu.Unlock()

		if f == nil {
			next.ServeHTTP(w, r)
			return
		}
		if f.Body != "" {
			w.WriteHeader(f.Status)
			w.Write([]byte(f.Body))
			return
		}
		writeJSON(w, f.Status, map[string]any{"success": false, "message": f.Message})
	})
}

func (a *FakeAuthority) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		want := a.session
		a.mu.Unlock()

		if want != "" {
			c, err := r.Cookie(SessionCookieName)
			if err != nil || c.Value != want {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *FakeAuthority) scan(w http.ResponseWriter, r *http.Request) {
	var req remote.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QRData == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "qr_data is required"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.byPayload[req.QRData]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Invalid ticket"})
		return
	}

	res := remote.ScanResult{
		Success: true,
		Ticket: remote.ScanTicket{
			TicketNumber: t.TicketID,
			MaxScans:     t.MaxScans,
		},
		Customer: &remote.Customer{FirstName: "Test", LastName: "Holder"},
	}
	if t.ScanCount >= t.MaxScans {
		res.Valid = false
		res.Message = "Ticket has already been used"
	} else {
		t.ScanCount++
		a.today++
		a.total++
		res.Valid = true
		res.Message = "Ticket validated successfully"
	}
	res.Ticket.ScanCount = t.ScanCount
	res.Ticket.RemainingScans = t.MaxScans - t.ScanCount
	writeJSON(w, http.StatusOK, res)
}

func (a *FakeAuthority) download(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res remote.DownloadResponse
	ok := true
	res.Success = &ok
	res.Data.Campaigns = make([]remote.CatalogCampaign, 0, len(a.campaigns))
	for _, c := range a.campaigns {
		res.Data.Campaigns = append(res.Data.Campaigns, remote.CatalogCampaign{ID: c.ID, Name: c.Name})
	}
	res.Data.Tickets = make([]remote.CatalogTicket, 0, len(a.tickets))
	for _, t := range a.tickets {
		res.Data.Tickets = append(res.Data.Tickets, remote.CatalogTicket{
			TicketID:  t.TicketID,
			QRData:    t.QRPayload,
			MaxScans:  t.MaxScans,
			ScanCount: t.ScanCount,
			Status:    t.Status,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *FakeAuthority) upload(w http.ResponseWriter, r *http.Request) {
	var req remote.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid body"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.uploads = append(a.uploads, req.OfflineValidations)

	ok := true
	res := remote.UploadResult{Success: &ok}
	for _, v := range req.OfflineValidations {
		if v.ScanID != "" && a.seenScans[v.ScanID] {
			continue
		}
		if v.ScanID != "" {
			a.seenScans[v.ScanID] = true
		}
		t, ok := a.byID[v.TicketID]
		if !ok || t.ScanCount >= t.MaxScans {
			res.Conflicts++
			continue
		}
		t.ScanCount++
		a.total++
		res.Synced++
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *FakeAuthority) myStats(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    remote.OnlineStats{Today: a.today, Total: a.total},
	})
}

func (a *FakeAuthority) logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
