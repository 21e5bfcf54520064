package models

import "time"

// DateLayout is the storage and wire format of date-only columns.
const DateLayout = "2006-01-02"

// LgTracker is a lead-generation tracker record.
type LgTracker struct {
	ID            int64      `json:"id"`
	ClientID      int64      `json:"client_id"`
	NoOfDials     int        `json:"no_of_dials"`
	NoOfContacts  int        `json:"no_of_contacts"`
	GrossTransfer int        `json:"gross_transfer"`
	NetTransfer   int        `json:"net_transfer"`
	Date          string     `json:"date"`
	FileName      string     `json:"file_name"`
	Count         int        `json:"count"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	Client        *ClientRef `json:"client,omitempty"`
}

type ClientRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UploadLog is a standalone CSV upload batch.
type UploadLog struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	FileName  string    `json:"file_name"`
	Count     int       `json:"count"`
	Status    string    `json:"status"`
	Date      string    `json:"date,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UploadedData is one accepted CSV row, owned by an UploadLog or an LgTracker.
type UploadedData struct {
	ID           int64     `json:"id"`
	ClientID     int64     `json:"client_id"`
	UploadLogID  *int64    `json:"upload_log_id"`
	LgTrackerID  *int64    `json:"lg_tracker_id"`
	CustomerName string    `json:"customer_name"`
	PhoneNumber  string    `json:"phone_number"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LeadRow is a parsed CSV row before it is attached to a batch.
type LeadRow struct {
	CustomerName string
	PhoneNumber  string
	Status       string
}

// DailyMetrics are per-day tracker sums for one client.
type DailyMetrics struct {
	Date          string
	NoOfDials     int
	NoOfContacts  int
	GrossTransfer int
	NetTransfer   int
	Count         int
}

// DateWindow is an optional inclusive date filter; empty bounds are open.
type DateWindow struct {
	Start string
	End   string
}
