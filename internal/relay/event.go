package relay

// DefaultChannel is the Redis channel the queue API publishes to and the
// display relay subscribes to.
const DefaultChannel = "turnos"

const (
	TypeConnectionEstablished = "connection_established"
	TypeTicketCreated         = "ticket_created"
	TypeTicketCalled          = "ticket_called"
	TypeTicketFinished        = "ticket_finished"
	TypeTicketsReset          = "tickets_reset"
	TypeDayArchived           = "day_archived"
)

// Event is the wire format shared by the Redis channel and the display
// sockets. Fields beyond Type are filled per event type.
type Event struct {
	Type          string `json:"type"`
	TicketNumber  string `json:"ticket_number,omitempty"`
	AttentionType string `json:"attention_type,omitempty"`
	ModuleID      int64  `json:"module_id,omitempty"`
	ModuleName    string `json:"module_name,omitempty"`
	Count         int    `json:"count,omitempty"`
}
