package remote

import "github.com/roach88/gatescan/internal/model"

// Authority API paths, relative to the base URL.
const (
	PathScan     = "/validation/scan"
	PathDownload = "/validation/offline/download"
	PathUpload   = "/validation/offline/sync"
	PathMyStats  = "/validation/my-stats"
	PathLogout   = "/auth/logout"
)

// envelope is the common response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ScanRequest is the online validation request body.
type ScanRequest struct {
	QRData string `json:"qr_data"`
}

// ScanTicket is the ticket state reported by an online validation.
type ScanTicket struct {
	TicketNumber   string `json:"ticketNumber"`
	ScanCount      int    `json:"scanCount"`
	MaxScans       int    `json:"maxScans"`
	RemainingScans int    `json:"remainingScans"`
}

// Customer is the ticket holder reported by an online validation.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ScanResult is the online validation response.
type ScanResult struct {
	Success  bool       `json:"success"`
	Valid    bool       `json:"valid"`
	Message  string     `json:"message"`
	Ticket   ScanTicket `json:"ticket"`
	Customer *Customer  `json:"customer,omitempty"`
}

// CatalogTicket is a ticket as served by the offline download.
type CatalogTicket struct {
	TicketID  string `json:"ticketId"`
	QRData    string `json:"qrData"`
	MaxScans  int    `json:"maxScans"`
	ScanCount int    `json:"scanCount"`
	Status    string `json:"status"`
}

// CatalogCampaign is a campaign as served by the offline download.
type CatalogCampaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DownloadResponse is the offline download response.
type DownloadResponse struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Campaigns []CatalogCampaign `json:"campaigns"`
		Tickets   []CatalogTicket   `json:"tickets"`
	} `json:"data"`
}

// Catalog converts the response to the domain catalog.
func (r DownloadResponse) Catalog() model.Catalog {
	c := model.Catalog{
		Campaigns: make([]model.Campaign, 0, len(r.Data.Campaigns)),
		Tickets:   make([]model.Ticket, 0, len(r.Data.Tickets)),
	}
	for _, cp := range r.Data.Campaigns {
		c.Campaigns = append(c.Campaigns, model.Campaign{ID: cp.ID, Name: cp.Name})
	}
	for _, t := range r.Data.Tickets {
		c.Tickets = append(c.Tickets, model.Ticket{
			TicketID:  t.TicketID,
			QRPayload: t.QRData,
			MaxScans:  t.MaxScans,
			ScanCount: t.ScanCount,
			Status:    t.Status,
		})
	}
	return c
}

// OfflineValidation is one ledger entry in an upload batch.
type OfflineValidation struct {
	TicketID   string `json:"ticketId"`
	CampaignID string `json:"campaignId"`
	Timestamp  string `json:"timestamp"`
	ScanID     string `json:"scanId,omitempty"`
}

// UploadRequest is the ledger upload request body.
type UploadRequest struct {
	OfflineValidations []OfflineValidation `json:"offlineValidations"`
}

// NewUploadRequest builds an upload batch from ledger entries, preserving
// their order.
func NewUploadRequest(entries []model.LogEntry) UploadRequest {
	req := UploadRequest{OfflineValidations: make([]OfflineValidation, 0, len(entries))}
	for _, e := range entries {
		req.OfflineValidations = append(req.OfflineValidations, OfflineValidation{
			TicketID:   e.TicketID,
			CampaignID: e.CampaignID,
			Timestamp:  model.FormatTimestamp(e.Timestamp),
			ScanID:     e.ScanID,
		})
	}
	return req
}

// UploadResult is the authority's verdict on an upload batch.
type UploadResult struct {
	Success   *bool  `json:"success,omitempty"`
	Message   string `json:"message,omitempty"`
	Synced    int    `json:"synced"`
	Conflicts int    `json:"conflicts"`
}

// OnlineStats are the operator's validation counts at the authority.
type OnlineStats struct {
	Today int `json:"today"`
	Total int `json:"total"`
}

type statsResponse struct {
	Success *bool       `json:"success,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    OnlineStats `json:"data"`
}

// refused reports whether a 2xx body explicitly carried "success": false.
// A missing flag counts as success.
func refused(success *bool) bool {
	return success != nil && !*success
}
