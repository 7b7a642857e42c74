package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cri-9/oficina-600/internal/models"
	"github.com/cri-9/oficina-600/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `t.id, t.ticket_number, t.attention_type, t.module_id, m.name,
	t.state, t.assigned_operator_id, t.created_at, t.service_started_at, t.finished_at`

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	moduleName, err := lookupModuleName(ctx, tx, input.ModuleID)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	seq, err := nextTicketNumber(ctx, tx, input.AttentionType, input.ModuleID, createdAt)
	if err != nil {
		return models.Ticket{}, err
	}
	formattedNumber := store.FormatTicketNumber(input.AttentionType, seq)

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_number, attention_type, module_id, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, ticket_number, attention_type, module_id, state, created_at
	`, formattedNumber, input.AttentionType, input.ModuleID, models.StatePending, createdAt)
	if err = row.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.AttentionType, &ticket.ModuleID, &ticket.State, &ticket.CreatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.ModuleName = moduleName

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		JOIN modules m ON m.id = t.module_id
		WHERE t.id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	if !store.ValidTransition("call_next", models.StatePending) {
		return models.Ticket{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the module row so concurrent call-next requests for the same
	// module serialize here; the in-service check below stays race-free.
	moduleName, err := lockModule(ctx, tx, input.ModuleID)
	if err != nil {
		return models.Ticket{}, err
	}

	var inService int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE module_id = $1 AND state = $2
	`, input.ModuleID, models.StateInService)
	if err = row.Scan(&inService); err != nil {
		return models.Ticket{}, err
	}
	if inService > 0 {
		err = store.ErrAlreadyInService
		return models.Ticket{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT id
			FROM tickets
			WHERE module_id = $1 AND state = $2
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET state = $3,
			service_started_at = $4,
			assigned_operator_id = $5
		FROM next_ticket
		WHERE tickets.id = next_ticket.id
		RETURNING tickets.id, tickets.ticket_number, tickets.attention_type, tickets.module_id,
			tickets.state, tickets.assigned_operator_id, tickets.created_at,
			tickets.service_started_at, tickets.finished_at
	`, input.ModuleID, models.StatePending, models.StateInService, calledAt, nullIfZero(input.OperatorID))
	ticket, err = scanTicketNoModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoPending
		}
		return models.Ticket{}, err
	}
	ticket.ModuleName = moduleName

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) FinalizeTicket(ctx context.Context, ticketID int64, finishedAt time.Time) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT id, ticket_number, attention_type, module_id, state, assigned_operator_id,
			created_at, service_started_at, finished_at
		FROM tickets
		WHERE id = $1
		FOR UPDATE
	`, ticketID)
	ticket, err := scanTicketNoModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, false, err
	}

	moduleName, err := lookupModuleName(ctx, tx, ticket.ModuleID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	ticket.ModuleName = moduleName

	if ticket.State == models.StateFinished {
		// Finalizing twice is not an error; the first call already holds.
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return ticket, false, nil
	}
	if !store.ValidTransition("finalize", ticket.State) {
		err = store.ErrNotInService
		return models.Ticket{}, false, err
	}

	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		UPDATE tickets SET state = $1, finished_at = $2 WHERE id = $3
	`, models.StateFinished, finishedAt, ticketID); err != nil {
		return models.Ticket{}, false, err
	}
	ticket.State = models.StateFinished
	ticket.FinishedAt = &finishedAt

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ResetTickets(ctx context.Context) (int, error) {
	if !store.ValidTransition("reset", models.StateInService) {
		return 0, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET state = $1,
			assigned_operator_id = NULL,
			service_started_at = NULL,
			finished_at = NULL
		WHERE state = $2
	`, models.StatePending, models.StateInService)
	if err != nil {
		return 0, err
	}
	count := int(tag.RowsAffected())

	var remaining int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE state = $1
	`, models.StateInService)
	if err = row.Scan(&remaining); err != nil {
		return 0, err
	}
	if remaining > 0 {
		err = store.ErrConsistency
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ArchiveDay(ctx context.Context, archivedAt time.Time) (store.ArchiveResult, error) {
	if !store.ValidTransition("archive", models.StatePending) || !store.ValidTransition("archive", models.StateInService) {
		return store.ArchiveResult{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ArchiveResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET state = $1, finished_at = COALESCE(finished_at, $2)
		WHERE state <> $1
	`, models.StateFinished, archivedAt)
	if err != nil {
		return store.ArchiveResult{}, err
	}
	forced := int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
		INSERT INTO archived_tickets (ticket_id, ticket_number, attention_type, module_id,
			state, assigned_operator_id, created_at, service_started_at, finished_at, archived_at)
		SELECT id, ticket_number, attention_type, module_id,
			state, assigned_operator_id, created_at, service_started_at, finished_at, $1
		FROM tickets
	`, archivedAt)
	if err != nil {
		return store.ArchiveResult{}, err
	}
	archived := int(tag.RowsAffected())

	if _, err = tx.Exec(ctx, `DELETE FROM tickets`); err != nil {
		return store.ArchiveResult{}, err
	}
	// Stale earlier days go too, in case a previous archive was skipped.
	if _, err = tx.Exec(ctx, `DELETE FROM ticket_sequences WHERE day <= $1`, archivedAt.UTC().Format("2006-01-02")); err != nil {
		return store.ArchiveResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ArchiveResult{}, err
	}
	return store.ArchiveResult{Archived: archived, ForcedFinished: forced}, nil
}

func (s *Store) CurrentTickets(ctx context.Context) (store.CurrentSnapshot, error) {
	current, err := s.queryTickets(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		JOIN modules m ON m.id = t.module_id
		WHERE t.state = $1
		ORDER BY t.service_started_at DESC
	`, models.StateInService)
	if err != nil {
		return store.CurrentSnapshot{}, err
	}

	finished, err := s.queryTickets(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		JOIN modules m ON m.id = t.module_id
		WHERE t.state = $1
		ORDER BY t.finished_at DESC
		LIMIT 5
	`, models.StateFinished)
	if err != nil {
		return store.CurrentSnapshot{}, err
	}

	return store.CurrentSnapshot{Current: current, RecentFinished: finished}, nil
}

func (s *Store) ListPending(ctx context.Context, moduleID int64) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		JOIN modules m ON m.id = t.module_id
		WHERE t.module_id = $1 AND t.state = $2
		ORDER BY t.created_at ASC, t.id ASC
	`, moduleID, models.StatePending)
}

func (s *Store) GetActiveTicket(ctx context.Context, moduleID int64) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		JOIN modules m ON m.id = t.module_id
		WHERE t.module_id = $1 AND t.state = $2
		ORDER BY t.service_started_at DESC
		LIMIT 1
	`, moduleID, models.StateInService)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListModules(ctx context.Context) ([]models.Module, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name FROM modules ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []models.Module
	for rows.Next() {
		var module models.Module
		if err := rows.Scan(&module.ID, &module.Name); err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return modules, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// nextTicketNumber advances the per-(attention type, module, day) sequence.
// The upsert runs inside the caller's transaction, so concurrent generation
// cannot hand out duplicate numbers.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, attentionType string, moduleID int64, createdAt time.Time) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (attention_type, module_id, day, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (attention_type, module_id, day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, attentionType, moduleID, createdAt.UTC().Format("2006-01-02"))
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func lookupModuleName(ctx context.Context, tx pgx.Tx, moduleID int64) (string, error) {
	var name string
	row := tx.QueryRow(ctx, `
		SELECT name FROM modules WHERE id = $1
	`, moduleID)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrModuleNotFound
		}
		return "", err
	}
	return name, nil
}

func lockModule(ctx context.Context, tx pgx.Tx, moduleID int64) (string, error) {
	var name string
	row := tx.QueryRow(ctx, `
		SELECT name FROM modules WHERE id = $1 FOR UPDATE
	`, moduleID)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrModuleNotFound
		}
		return "", err
	}
	return name, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var operatorNull sql.NullInt64
	var startedNull sql.NullTime
	var finishedNull sql.NullTime
	if err := row.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.AttentionType, &ticket.ModuleID,
		&ticket.ModuleName, &ticket.State, &operatorNull, &ticket.CreatedAt, &startedNull, &finishedNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.AssignedOperatorID = nullInt64Ptr(operatorNull)
	ticket.ServiceStartedAt = nullTimePtr(startedNull)
	ticket.FinishedAt = nullTimePtr(finishedNull)
	return ticket, nil
}

func scanTicketNoModule(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var operatorNull sql.NullInt64
	var startedNull sql.NullTime
	var finishedNull sql.NullTime
	if err := row.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.AttentionType, &ticket.ModuleID,
		&ticket.State, &operatorNull, &ticket.CreatedAt, &startedNull, &finishedNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.AssignedOperatorID = nullInt64Ptr(operatorNull)
	ticket.ServiceStartedAt = nullTimePtr(startedNull)
	ticket.FinishedAt = nullTimePtr(finishedNull)
	return ticket, nil
}

func nullIfZero(value int64) interface{} {
	if value == 0 {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}
