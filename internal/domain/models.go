package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Alert priorities as produced by classification.
const (
	PriorityP1            = "P1"
	PriorityP2            = "P2"
	PriorityP3            = "P3"
	PriorityInformational = "Informational"
	PriorityNA            = "NA"
)

// Maintenance window states. Stored state is advisory; the effective
// state is always computed against the clock (see StatusAt).
const (
	MaintenanceScheduled = "Scheduled"
	MaintenanceOngoing   = "Ongoing"
	MaintenanceCompleted = "Completed"
)

// ComputeEmailID derives the stable identity of an alert email:
// hex SHA-256 over subject + "|" + the RFC3339 receive time (UTC).
// Re-ingesting the same email always produces the same ID.
func ComputeEmailID(subject string, receivedAt time.Time) string {
	h := sha256.Sum256([]byte(subject + "|" + receivedAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h[:])
}

// RawEmail is an ingested alert email. Status flips to true once the
// email has been published to the classification queue.
type RawEmail struct {
	EmailID    string
	Sender     string
	Subject    string
	Body       string
	EmailPath  string
	ReceivedAt time.Time
	InsertedAt time.Time
	Status     bool
}

// SegregatedEmail is the classification result for one email.
// Status true means the row is final and the email was handed to the
// next stage (or intentionally stopped there).
type SegregatedEmail struct {
	EmailID           string
	Priority          string
	Type              string
	ResourceName      string
	TriggerName       string
	GeneratedSummary  string
	RecommendedAction string
	InsertedAt        time.Time
	Status            bool
}

// Summary is the generated summary for one email.
type Summary struct {
	EmailID    string
	Summary    string
	InsertedAt time.Time
	Status     bool
}

// JiraEntry records a tracker ticket created for an email, plus the
// notification bookkeeping for it.
type JiraEntry struct {
	JiraID       int64
	EmailID      string
	TicketID     string
	AssignedTo   string
	CreatedAt    time.Time
	TeamsFlag    bool
	TeamsChannel string
	InsertedAt   time.Time
}

// DuplicateEmail records an alert that was suppressed as a duplicate of
// another email, either within one ingest batch or by the time-window
// check.
type DuplicateEmail struct {
	DuplicateEmailID string
	EmailID          string
	Subject          string
	Body             string
	Sender           string
	ReceivedAt       time.Time
	InsertedAt       time.Time
}

// TriggerMapping is one row of the monitoring tool's trigger reference:
// which team owns a trigger, its priority, and the recommended action.
type TriggerMapping struct {
	ID                 int64
	TriggerName        string
	Category           string
	Priority           string
	Actionable         string
	RecommendedAction  string
	Team               string
	Department         string
	ResponsiblePersons string
}

// Server is one row of the server inventory, grouped by function.
type Server struct {
	ID                  int64
	ComputerName        string
	Group               string
	DescriptionFunction string
	ResponsiblePerson   string
}

// ParentChild is one edge of the infrastructure topology: alerts on a
// child are suppressed while the parent is in maintenance.
type ParentChild struct {
	Parent string
	Child  string
}

// MaintenanceWindow is a planned maintenance period for a server.
type MaintenanceWindow struct {
	ID          int64
	ServerGroup string
	ServerName  string
	OtherServer string
	Comments    string
	StartAt     time.Time
	EndAt       time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusAt computes the effective window state at the given instant.
// A window already marked Completed stays Completed.
func (w MaintenanceWindow) StatusAt(now time.Time) string {
	if w.Status == MaintenanceCompleted {
		return MaintenanceCompleted
	}
	switch {
	case now.Before(w.StartAt):
		return MaintenanceScheduled
	case now.After(w.EndAt):
		return MaintenanceCompleted
	default:
		return MaintenanceOngoing
	}
}

// JobRun is one execution record of a scheduled job. LastRunTime is the
// high-water mark the next run resumes from.
type JobRun struct {
	JobID       int64
	JobName     string
	StartedAt   time.Time
	EndedAt     time.Time
	LastRunTime time.Time
	Frequency   string
	InsertedAt  time.Time
}

// AlertMessage is the payload that flows through the pipeline queues.
// The ingester fills the email fields; the classifier adds the rest.
type AlertMessage struct {
	EmailID           string    `json:"email_id"`
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	EmailPath         string    `json:"email_path"`
	ReceivedAt        time.Time `json:"received_at"`
	Priority          string    `json:"priority,omitempty"`
	Type              string    `json:"type,omitempty"`
	ResourceName      string    `json:"resource_name,omitempty"`
	TriggerName       string    `json:"trigger_name,omitempty"`
	GeneratedSummary  string    `json:"generated_summary,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	Infrastructure    string    `json:"infrastructure,omitempty"`
	Team              string    `json:"team,omitempty"`
	Assignee          string    `json:"assignee,omitempty"`
}
