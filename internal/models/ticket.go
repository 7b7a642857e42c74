package models

import "time"

// Ticket is a customer's place in the service queue. The ticket number is
// printed on the kiosk receipt and shown on the public display; it is never
// rewritten once assigned.
type Ticket struct {
	ID                 int64      `json:"id"`
	TicketNumber       string     `json:"ticket_number"`
	AttentionType      string     `json:"attention_type"`
	ModuleID           int64      `json:"module_id"`
	ModuleName         string     `json:"module_name,omitempty"`
	State              string     `json:"state"`
	AssignedOperatorID *int64     `json:"assigned_operator_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ServiceStartedAt   *time.Time `json:"service_started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

const (
	StatePending   = "pending"
	StateInService = "in_service"
	StateFinished  = "finished"
)
