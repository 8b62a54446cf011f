package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a throwaway Postgres container. It requires Docker.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("skuscan_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func TestSkuCatalogue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if codes, err := s.ListSkus(ctx); err != nil || len(codes) != 0 {
		t.Fatalf("Expected empty catalogue, got %v (%v)", codes, err)
	}

	for label, code := range map[string]int{"wraps": 1601, "salads": 1101} {
		if err := s.UpsertSku(ctx, label, code); err != nil {
			t.Fatalf("UpsertSku(%s) failed: %v", label, err)
		}
	}
	// Overwrite keeps one row per label
	if err := s.UpsertSku(ctx, "wraps", 1700); err != nil {
		t.Fatal(err)
	}

	codes, err := s.ListSkus(ctx)
	if err != nil {
		t.Fatalf("ListSkus failed: %v", err)
	}
	if len(codes) != 2 || codes[0].Label != "salads" || codes[1].Code != 1700 {
		t.Errorf("Unexpected catalogue %+v", codes)
	}

	m, err := s.SkuMap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m["wraps"] != 1700 || m["salads"] != 1101 {
		t.Errorf("Unexpected map %v", m)
	}

	if err := s.UpsertSku(ctx, "pudding", 0); err == nil {
		t.Error("Expected error for non-positive code")
	}

	if err := s.DeleteSku(ctx, "salads"); err != nil {
		t.Fatalf("DeleteSku failed: %v", err)
	}
	if err := s.DeleteSku(ctx, "salads"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunHistoryAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		r := RunRecord{
			RunID:           id,
			VideoID:         "vid_123",
			VideoPath:       "/tmp/shelf.mp4",
			StartedAt:       base.Add(time.Duration(i) * time.Minute),
			FinishedAt:      base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			FramesRead:      150,
			FramesDropped:   3,
			FramesForwarded: 30,
		}
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-b" || runs[0].FramesForwarded != 30 {
		t.Errorf("Unexpected latest run %+v", runs)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListRuns(ctx, 0); err == nil {
		t.Error("Expected error after tables were dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
