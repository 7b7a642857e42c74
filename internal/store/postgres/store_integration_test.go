package postgres

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cri-9/oficina-600/internal/models"
	"github.com/cri-9/oficina-600/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestTicketNumberSequence(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")

	for i, want := range []string{"SAE001", "SAE002", "SAE003"} {
		ticket := createTicket(t, ctx, st, "SAE", moduleID)
		if ticket.TicketNumber != want {
			t.Fatalf("ticket %d: expected number %s, got %s", i, want, ticket.TicketNumber)
		}
		if ticket.State != models.StatePending {
			t.Fatalf("expected pending state, got %s", ticket.State)
		}
	}

	// A different attention type starts its own sequence.
	other := createTicket(t, ctx, st, "C", moduleID)
	if other.TicketNumber != "C001" {
		t.Fatalf("expected C001, got %s", other.TicketNumber)
	}
}

func TestCreateTicketUnknownModule(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	_, err := st.CreateTicket(ctx, store.CreateTicketInput{
		AttentionType: "SAE",
		ModuleID:      9999,
		CreatedAt:     time.Now().UTC(),
	})
	if err != store.ErrModuleNotFound {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestCallNextSerializesPerModule(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")
	createTicket(t, ctx, st, "SAE", moduleID)
	createTicket(t, ctx, st, "SAE", moduleID)

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(operator int64) {
			defer wg.Done()
			ticket, err := st.CallNext(ctx, store.CallNextInput{
				ModuleID:   moduleID,
				OperatorID: operator,
				CalledAt:   time.Now().UTC(),
			})
			results <- callResult{ticket: ticket, err: err}
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	var won, blocked int
	for result := range results {
		switch {
		case result.err == nil:
			won++
			if result.ticket.TicketNumber != "SAE001" {
				t.Fatalf("expected oldest pending ticket SAE001, got %s", result.ticket.TicketNumber)
			}
		case result.err == store.ErrAlreadyInService:
			blocked++
		default:
			t.Fatalf("unexpected call-next error: %v", result.err)
		}
	}
	if won != 1 || blocked != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got won=%d blocked=%d", won, blocked)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")

	_, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, CalledAt: time.Now().UTC()})
	if err != store.ErrNoPending {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")
	createTicket(t, ctx, st, "SAE", moduleID)

	called, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, CalledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	first, changed, err := st.FinalizeTicket(ctx, called.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !changed {
		t.Fatal("first finalize must report a state change")
	}
	if first.FinishedAt == nil {
		t.Fatal("finalized ticket must carry finished_at")
	}

	stored, err := st.GetTicket(ctx, called.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}

	second, changed, err := st.FinalizeTicket(ctx, called.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat finalize: %v", err)
	}
	if changed {
		t.Fatal("repeat finalize must not report a change")
	}
	if second.FinishedAt == nil || !second.FinishedAt.Equal(*stored.FinishedAt) {
		t.Fatalf("repeat finalize must keep the original finished_at, got %v want %v", second.FinishedAt, stored.FinishedAt)
	}
}

func TestFinalizePendingTicket(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")
	ticket := createTicket(t, ctx, st, "SAE", moduleID)

	_, _, err := st.FinalizeTicket(ctx, ticket.ID, time.Now().UTC())
	if err != store.ErrNotInService {
		t.Fatalf("expected ErrNotInService, got %v", err)
	}
}

func TestResetTickets(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleA := seedModule(t, ctx, pool, "Modulo 1")
	moduleB := seedModule(t, ctx, pool, "Modulo 2")
	createTicket(t, ctx, st, "SAE", moduleA)
	createTicket(t, ctx, st, "C", moduleB)

	if _, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleA, CalledAt: time.Now().UTC()}); err != nil {
		t.Fatalf("call next A: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleB, CalledAt: time.Now().UTC()}); err != nil {
		t.Fatalf("call next B: %v", err)
	}

	count, err := st.ResetTickets(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 reset tickets, got %d", count)
	}

	pending, err := st.ListPending(ctx, moduleA)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected ticket back in queue, got %d pending", len(pending))
	}
	if pending[0].AssignedOperatorID != nil || pending[0].ServiceStartedAt != nil {
		t.Fatalf("reset must clear operator and service timestamps: %+v", pending[0])
	}
}

func TestArchiveDay(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")
	createTicket(t, ctx, st, "SAE", moduleID)
	createTicket(t, ctx, st, "SAE", moduleID)

	// A leftover from the previous day, as if that archive run was missed.
	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{
		AttentionType: "SAE",
		ModuleID:      moduleID,
		CreatedAt:     time.Now().UTC().Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("create stale ticket: %v", err)
	}

	called, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, CalledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, _, err := st.FinalizeTicket(ctx, called.ID, time.Now().UTC()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	result, err := st.ArchiveDay(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("archive day: %v", err)
	}
	if result.Archived != 3 {
		t.Fatalf("expected 3 archived tickets, got %d", result.Archived)
	}
	if result.ForcedFinished != 2 {
		t.Fatalf("expected 2 forced finishes, got %d", result.ForcedFinished)
	}

	var live int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&live); err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	if live != 0 {
		t.Fatalf("expected empty tickets table, got %d rows", live)
	}

	var sequences int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_sequences`).Scan(&sequences); err != nil {
		t.Fatalf("count sequences: %v", err)
	}
	if sequences != 0 {
		t.Fatalf("expected archive to clear sequence rows through the archived day, got %d", sequences)
	}

	// Numbering restarts after the archive clears the sequences.
	fresh := createTicket(t, ctx, st, "SAE", moduleID)
	if fresh.TicketNumber != "SAE001" {
		t.Fatalf("expected numbering restart at SAE001, got %s", fresh.TicketNumber)
	}
}

func TestCurrentTicketsSnapshot(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")
	createTicket(t, ctx, st, "SAE", moduleID)
	createTicket(t, ctx, st, "SAE", moduleID)

	called, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, CalledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, _, err := st.FinalizeTicket(ctx, called.ID, time.Now().UTC()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	inService, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, CalledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("second call next: %v", err)
	}

	snapshot, err := st.CurrentTickets(ctx)
	if err != nil {
		t.Fatalf("current tickets: %v", err)
	}
	if len(snapshot.Current) != 1 || snapshot.Current[0].ID != inService.ID {
		t.Fatalf("unexpected current tickets: %+v", snapshot.Current)
	}
	if len(snapshot.RecentFinished) != 1 || snapshot.RecentFinished[0].ID != called.ID {
		t.Fatalf("unexpected recent finished: %+v", snapshot.RecentFinished)
	}
	if snapshot.Current[0].ModuleName != "Modulo 1" {
		t.Fatalf("expected module name on snapshot, got %q", snapshot.Current[0].ModuleName)
	}
}

func TestGetActiveTicket(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	moduleID := seedModule(t, ctx, pool, "Modulo 1")

	_, found, err := st.GetActiveTicket(ctx, moduleID)
	if err != nil {
		t.Fatalf("active ticket: %v", err)
	}
	if found {
		t.Fatal("expected no active ticket")
	}

	createTicket(t, ctx, st, "SAE", moduleID)
	called, err := st.CallNext(ctx, store.CallNextInput{ModuleID: moduleID, OperatorID: 5, CalledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	active, found, err := st.GetActiveTicket(ctx, moduleID)
	if err != nil {
		t.Fatalf("active ticket: %v", err)
	}
	if !found || active.ID != called.ID {
		t.Fatalf("expected active ticket %d, got %+v found=%v", called.ID, active, found)
	}
	if active.AssignedOperatorID == nil || *active.AssignedOperatorID != 5 {
		t.Fatalf("expected operator 5, got %v", active.AssignedOperatorID)
	}
}

type callResult struct {
	ticket models.Ticket
	err    error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedModule(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) int64 {
	t.Helper()
	var id int64
	row := pool.QueryRow(ctx, `
		INSERT INTO modules (name) VALUES ($1) RETURNING id
	`, name)
	if err := row.Scan(&id); err != nil {
		t.Fatalf("insert module: %v", err)
	}
	return id
}

func createTicket(t *testing.T, ctx context.Context, st *Store, attentionType string, moduleID int64) models.Ticket {
	t.Helper()
	ticket, err := st.CreateTicket(ctx, store.CreateTicketInput{
		AttentionType: attentionType,
		ModuleID:      moduleID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
