package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assaylab/assay/pkg/orchestrator"
	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		DBPath: filepath.Join(t.TempDir(), "audit.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult(runID string) *orchestrator.Result {
	agg := &validate.Aggregate{
		Pass:        false,
		Reasoning:   "[regex] response does not name the capital",
		Suggestions: []string{"mention the capital city"},
		Results: []validate.NamedResult{{
			Type: "regex",
			Result: validate.Result{
				Pass:        false,
				Reasoning:   "response does not name the capital",
				Suggestions: []string{"mention the capital city"},
			},
		}},
	}

	return &orchestrator.Result{
		ID:        runID,
		Status:    orchestrator.StatusNeedsHumanReview,
		Reasoning: "[regex] response does not name the capital",
		Mode:      orchestrator.ModeHumanEscalation,
		Attempts: []orchestrator.AttemptRecord{
			{
				Attempt:    1,
				Cycle:      1,
				Mode:       orchestrator.ModeInitial,
				Response:   "Lyon.",
				Validation: agg,
				Duration:   120 * time.Millisecond,
			},
			{
				Attempt:  2,
				Cycle:    2,
				Mode:     orchestrator.ModeSelfCorrect,
				Err:      "provider anthropic: rate limited",
				Duration: 40 * time.Millisecond,
			},
		},
		History: []provider.Message{
			{Role: "user", Content: "What is the capital of France?"},
			{Role: "assistant", Content: "Lyon."},
			{Role: "user", Content: "Your previous response did not pass validation."},
		},
		Duration:      1500 * time.Millisecond,
		ProviderCalls: 2,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should require a database path", func(t *testing.T) {
		_, err := NewStore(Config{Logger: zerolog.Nop()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database path is required")
	})

	t.Run("should create missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deep", "audit.db")
		store, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer store.Close()

		_, err = os.Stat(path)
		require.NoError(t, err)
	})

	t.Run("should reopen an existing database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.db")

		first, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		require.NoError(t, first.RecordRun(context.Background(), sampleResult("run-1")))
		require.NoError(t, first.Close())

		second, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer second.Close()

		rec, err := second.GetRun(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, orchestrator.StatusNeedsHumanReview, rec.Status)
	})
}

func TestStoreRecordRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip a run with its attempt log", func(t *testing.T) {
		store := newTestStore(t)
		result := sampleResult("run-roundtrip")
		require.NoError(t, store.RecordRun(ctx, result))

		rec, err := store.GetRun(ctx, "run-roundtrip")
		require.NoError(t, err)

		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, result.ID, rec.RunID)
		assert.Equal(t, result.Status, rec.Status)
		assert.Equal(t, result.Mode, rec.Mode)
		assert.Equal(t, result.Content, rec.Content)
		assert.Equal(t, result.Reasoning, rec.Reasoning)
		assert.Equal(t, result.Error, rec.Error)
		assert.Equal(t, result.ProviderCalls, rec.ProviderCalls)
		assert.Equal(t, result.Duration, rec.Duration)
		assert.Equal(t, result.History, rec.History)
		assert.Equal(t, result.Attempts, rec.Attempts)
		assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)
	})

	t.Run("should require a result", func(t *testing.T) {
		store := newTestStore(t)
		err := store.RecordRun(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "result is required")
	})

	t.Run("should return the newest record for a reused run ID", func(t *testing.T) {
		store := newTestStore(t)

		first := sampleResult("run-reused")
		require.NoError(t, store.RecordRun(ctx, first))

		second := sampleResult("run-reused")
		second.Status = orchestrator.StatusSuccess
		second.Mode = orchestrator.ModeSelfCorrect
		require.NoError(t, store.RecordRun(ctx, second))

		rec, err := store.GetRun(ctx, "run-reused")
		require.NoError(t, err)
		assert.Equal(t, orchestrator.StatusSuccess, rec.Status)
	})

	t.Run("should report unknown run IDs", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetRun(ctx, "no-such-run")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.RecordRun(ctx, sampleResult(id)))
	}

	t.Run("should list newest first without attempt logs", func(t *testing.T) {
		records, err := store.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 3)

		assert.Equal(t, "run-c", records[0].RunID)
		assert.Equal(t, "run-a", records[2].RunID)
		assert.Empty(t, records[0].Attempts)
		assert.Empty(t, records[0].History)
	})

	t.Run("should honor the limit", func(t *testing.T) {
		records, err := store.ListRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "run-c", records[0].RunID)
	})

	t.Run("should default a non-positive limit", func(t *testing.T) {
		records, err := store.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

// age rewrites a run's creation time so purge tests do not have to wait.
func age(t *testing.T, store *Store, runID string, d time.Duration) {
	t.Helper()

	ts := time.Now().Add(-d).UnixMilli()
	_, err := store.db.Exec("UPDATE runs SET created_at_ms = ? WHERE run_id = ?", ts, runID)
	require.NoError(t, err)
}

func TestStorePurgeOlderThan(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete only aged runs and cascade to attempts", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.RecordRun(ctx, sampleResult("run-old")))
		require.NoError(t, store.RecordRun(ctx, sampleResult("run-new")))
		age(t, store, "run-old", 2*time.Hour)

		purged, err := store.PurgeOlderThan(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		_, err = store.GetRun(ctx, "run-old")
		assert.ErrorIs(t, err, ErrNotFound)

		rec, err := store.GetRun(ctx, "run-new")
		require.NoError(t, err)
		assert.Len(t, rec.Attempts, 2)

		var remaining int
		require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM attempts").Scan(&remaining))
		assert.Equal(t, 2, remaining)
	})

	t.Run("should report zero when nothing is aged", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.RecordRun(ctx, sampleResult("run-fresh")))

		purged, err := store.PurgeOlderThan(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, purged)
	})
}

type okGateway struct{}

func (okGateway) Name() string { return "static" }

func (okGateway) Invoke(ctx context.Context, req provider.Request) (*provider.Response, error) {
	return &provider.Response{Content: "All good.", FinishReason: "stop"}, nil
}

func TestStoreAsSink(t *testing.T) {
	t.Run("should record engine results", func(t *testing.T) {
		store := newTestStore(t)

		engine, err := orchestrator.New(okGateway{}, validate.NewRegistry(),
			orchestrator.WithLogger(zerolog.Nop()),
			orchestrator.WithAuditSink(store),
		)
		require.NoError(t, err)

		result, err := engine.Run(context.Background(), orchestrator.RequestConfig{
			RunID:    "audited-run",
			Model:    "test-model",
			Messages: []provider.Message{{Role: "user", Content: "ping"}},
		})
		require.NoError(t, err)
		require.Equal(t, orchestrator.StatusSuccess, result.Status)

		rec, err := store.GetRun(context.Background(), "audited-run")
		require.NoError(t, err)
		assert.Equal(t, orchestrator.StatusSuccess, rec.Status)
		assert.Equal(t, "All good.", rec.Content)
		require.Len(t, rec.Attempts, 1)
		assert.Equal(t, result.History, rec.History)
	})
}
