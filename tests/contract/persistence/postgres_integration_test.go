package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clawpizza/agent/internal/domain/queuestore"
	"github.com/clawpizza/agent/internal/infra/persistence/migrations"
	pgstore "github.com/clawpizza/agent/internal/infra/persistence/postgres"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "claw_pizza_agent"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/claw_pizza_agent?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestPostgresQueueStoreContract(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewQueueStore(testPool)

	playPayload := mustMarshal(t, queuestore.PlayEvent{
		MachineID: "m-1",
		Result:    "win",
		PrizeID:   "p-golden-slice",
		PlayedAt:  time.Now().UTC(),
	})
	claimPayload := mustMarshal(t, queuestore.ClaimEvent{
		Kind:      queuestore.ClaimKindFaucet,
		Amount:    decimal.RequireFromString("12.5"),
		ClaimedAt: time.Now().UTC(),
	})

	playRecord, err := store.Enqueue(ctx, queuestore.CategoryPlays, playPayload)
	if err != nil {
		t.Fatalf("enqueue play: %v", err)
	}
	if playRecord.ID == 0 {
		t.Fatal("expected auto-assigned id")
	}
	claimRecord, err := store.Enqueue(ctx, queuestore.CategoryClaims, claimPayload)
	if err != nil {
		t.Fatalf("enqueue claim: %v", err)
	}

	// Malformed payloads never reach the table.
	if _, err := store.Enqueue(ctx, queuestore.CategoryPlays, json.RawMessage(`{"result":"win"}`)); err == nil {
		t.Fatal("expected enqueue of invalid payload to fail")
	}

	plays, err := store.List(ctx, queuestore.CategoryPlays)
	if err != nil {
		t.Fatalf("list plays: %v", err)
	}
	if len(plays) != 1 {
		t.Fatalf("plays = %d, want 1", len(plays))
	}
	var gotPlay queuestore.PlayEvent
	if err := json.Unmarshal(plays[0].Payload, &gotPlay); err != nil {
		t.Fatalf("decode queued play: %v", err)
	}
	if gotPlay.MachineID != "m-1" || gotPlay.PrizeID != "p-golden-slice" {
		t.Fatalf("queued play = %+v", gotPlay)
	}

	claims, err := store.List(ctx, queuestore.CategoryClaims)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(claims))
	}
	var gotClaim queuestore.ClaimEvent
	if err := json.Unmarshal(claims[0].Payload, &gotClaim); err != nil {
		t.Fatalf("decode queued claim: %v", err)
	}
	if !gotClaim.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("claim amount = %s", gotClaim.Amount)
	}

	// Failed delivery attempts accumulate.
	if err := store.MarkFailed(ctx, queuestore.CategoryClaims, claimRecord.ID, "origin rejected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(ctx, queuestore.CategoryClaims, claimRecord.ID, "origin rejected again"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	claims, err = store.List(ctx, queuestore.CategoryClaims)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if claims[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", claims[0].Attempts)
	}
	if claims[0].LastError != "origin rejected again" {
		t.Fatalf("last error = %q", claims[0].LastError)
	}

	// Marking an absent entry fails; deleting one does not.
	if err := store.MarkFailed(ctx, queuestore.CategoryPlays, 999999, "nope"); err == nil {
		t.Fatal("expected mark failed on absent entry to error")
	}
	if err := store.Delete(ctx, queuestore.CategoryPlays, playRecord.ID); err != nil {
		t.Fatalf("delete play: %v", err)
	}
	if err := store.Delete(ctx, queuestore.CategoryPlays, playRecord.ID); err != nil {
		t.Fatalf("repeat delete must be a no-op: %v", err)
	}

	plays, err = store.List(ctx, queuestore.CategoryPlays)
	if err != nil {
		t.Fatalf("list plays: %v", err)
	}
	if len(plays) != 0 {
		t.Fatalf("plays = %d after delete, want 0", len(plays))
	}

	if err := store.Delete(ctx, queuestore.CategoryClaims, claimRecord.ID); err != nil {
		t.Fatalf("delete claim: %v", err)
	}
}

func TestPostgresQueueStoreOrdering(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewQueueStore(testPool)

	var ids []int64
	for i := 0; i < 3; i++ {
		payload := mustMarshal(t, queuestore.PlayEvent{
			MachineID: fmt.Sprintf("m-%d", i),
			Result:    "lose",
			PlayedAt:  time.Now().UTC(),
		})
		record, err := store.Enqueue(ctx, queuestore.CategoryPlays, payload)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, record.ID)
	}
	t.Cleanup(func() {
		for _, id := range ids {
			_ = store.Delete(ctx, queuestore.CategoryPlays, id)
		}
	})

	records, err := store.List(ctx, queuestore.CategoryPlays)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].ID >= records[i].ID {
			t.Fatal("records must list in id order")
		}
	}
}
