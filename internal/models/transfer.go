package models

import "time"

// TransferHeaders are caller-supplied HTTP headers, attached verbatim to an
// upload or download request.
type TransferHeaders map[string]string

// Clone returns an independent copy.
func (h TransferHeaders) Clone() TransferHeaders {
	if h == nil {
		return nil
	}
	out := make(TransferHeaders, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// TransferRecord is one finished upload or download in the transfer log
type TransferRecord struct {
	ID           int64      `json:"id"`
	Direction    string     `json:"direction"` // UPLOAD, DOWNLOAD
	URL          string     `json:"url"`
	LocalPath    string     `json:"local_path,omitempty"`
	StatusCode   int        `json:"status_code,omitempty"`
	Bytes        int64      `json:"bytes"`
	Status       string     `json:"status"` // COMPLETED, FAILED
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Transfer direction constants
const (
	TransferDirectionUpload   = "UPLOAD"
	TransferDirectionDownload = "DOWNLOAD"
)

// Transfer status constants
const (
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
)
