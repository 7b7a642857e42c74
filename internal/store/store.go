package store

import (
	"context"
	"time"

	"github.com/cri-9/oficina-600/internal/models"
)

type CreateTicketInput struct {
	AttentionType string
	ModuleID      int64
	CreatedAt     time.Time
}

type CallNextInput struct {
	ModuleID   int64
	OperatorID int64
	CalledAt   time.Time
}

// CurrentSnapshot is what the public display renders when it (re)connects:
// every ticket currently being served plus the last few finished ones.
type CurrentSnapshot struct {
	Current        []models.Ticket `json:"current"`
	RecentFinished []models.Ticket `json:"recent_finished"`
}

type ArchiveResult struct {
	Archived       int `json:"archived"`
	ForcedFinished int `json:"forced_finished"`
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	FinalizeTicket(ctx context.Context, ticketID int64, finishedAt time.Time) (models.Ticket, bool, error)
	ResetTickets(ctx context.Context) (int, error)
	ArchiveDay(ctx context.Context, archivedAt time.Time) (ArchiveResult, error)
	CurrentTickets(ctx context.Context) (CurrentSnapshot, error)
	ListPending(ctx context.Context, moduleID int64) ([]models.Ticket, error)
	GetActiveTicket(ctx context.Context, moduleID int64) (models.Ticket, bool, error)
	ListModules(ctx context.Context) ([]models.Module, error)
}
