// Package campaign defines the broadcast campaign domain model shared by the
// engine, the store, and the admin API.
//
// A campaign is a recurring broadcast job: a message payload, an ordered list
// of delivery targets, and a cron schedule. Every scheduled run ("sweep")
// walks the full target list, records a per-target outcome, and returns the
// campaign to PENDING for the next occurrence.
package campaign

import "time"

// Status is the persisted lifecycle state of a campaign.
type Status string

const (
	// StatusPending: scheduled, waiting for the next trigger.
	StatusPending Status = "PENDING"
	// StatusRunning: a sweep is executing right now.
	StatusRunning Status = "RUNNING"
	// StatusPaused: operator-stopped; not scheduled until started again.
	StatusPaused Status = "PAUSED"
	// StatusFailed: last sweep or arm attempt hit an unrecoverable error;
	// requires an explicit operator start to resume.
	StatusFailed Status = "FAILED"
	// StatusCompleted is reserved for one-shot variants. The recurring engine
	// never produces it, but it is accepted in stored data and rejected by
	// start/pause.
	StatusCompleted Status = "COMPLETED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// PayloadKind selects which member of the payload union is set.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadFile  PayloadKind = "file"
)

// Payload is the content delivered to every target.
//
// Text carries the message body for PayloadText. Ref carries the image/file
// reference (URL or transport file id) for PayloadImage and PayloadFile;
// Caption is optional for those kinds.
type Payload struct {
	Kind    PayloadKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Ref     string      `json:"ref,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// Campaign is the durable record of one broadcast campaign.
//
// SuccessCount/FailureCount are cumulative across runs and reset only by
// deleting the campaign. NextRunAt/LastRunAt are maintained by the engine.
type Campaign struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Payload  Payload  `json:"payload"`
	Targets  []string `json:"targets"`
	Schedule string   `json:"schedule"`

	Status       Status    `json:"status"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	NextRunAt    time.Time `json:"next_run_at,omitzero"`
	LastRunAt    time.Time `json:"last_run_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the targets slice.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Targets = append([]string(nil), c.Targets...)
	return &cp
}

// Result is the outcome of one target within one sweep.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailed  Result = "FAILED"
)

// TargetLog is one append-only per-target outcome record. Entries are written
// in batches during a sweep and removed only when the owning campaign is
// deleted.
type TargetLog struct {
	ID         int64     `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Target     string    `json:"target"`
	Result     Result    `json:"result"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
