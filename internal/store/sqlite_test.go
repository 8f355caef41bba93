package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/source"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPart(id, checksum string) *source.DocumentPart {
	return &source.DocumentPart{
		DocumentPartID:   id,
		SourceInstanceID: "sid-" + id,
		DeviceID:         "dev-1",
		Kind:             "filesystem",
		SourcePath:       "/docs/" + id + ".txt",
		UnitLocator:      "filesystem:/docs/" + id + ".txt",
		ContentType:      "text/plain",
		ExtractorName:    "plaintext",
		ExtractorVersion: "0.1",
		Checksum:         checksum,
		Metadata:         map[string]string{"origin": "test"},
		ScopeJSON:        `{"kind":"filesystem"}`,
		Text:             "text of " + id,
	}
}

func TestMigrations(t *testing.T) {
	t.Run("all migrations are recorded once", func(t *testing.T) {
		s := newTestStore(t)

		var count int
		require.NoError(t, s.db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
		assert.Equal(t, len(migrations), count)
	})

	t.Run("reopening does not reapply migrations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metadata.db")
		s1, err := NewSQLiteStore(path)
		require.NoError(t, err)
		require.NoError(t, s1.Close())

		s2, err := NewSQLiteStore(path)
		require.NoError(t, err)
		defer func() { _ = s2.Close() }()

		var count int
		require.NoError(t, s2.db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
		assert.Equal(t, len(migrations), count)
	})
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("create starts a running discovering run", func(t *testing.T) {
		s := newTestStore(t)

		run, err := s.CreateRun(ctx, "filesystem", `{"kind":"filesystem"}`)
		require.NoError(t, err)

		assert.NotEmpty(t, run.ID)
		assert.Equal(t, RunRunning, run.Status)
		assert.True(t, run.IsDiscovering)
		assert.False(t, run.StopRequested)
		assert.False(t, run.StartedAt.IsZero())
	})

	t.Run("terminal runs refuse transitions", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		// Given a completed run
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, RunCompleted))

		// When moving it again
		err = s.UpdateRunStatus(ctx, run.ID, RunRunning)

		// Then the transition conflicts
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("stop request on a terminal run is a no-op", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, RunCompleted))

		require.NoError(t, s.RequestStop(ctx, run.ID))

		stop, err := s.IsStopRequested(ctx, run.ID)
		require.NoError(t, err)
		assert.False(t, stop)
	})

	t.Run("stop request flags a running run", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		require.NoError(t, s.RequestStop(ctx, run.ID))

		stop, err := s.IsStopRequested(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, stop)
	})

	t.Run("interrupted runs resume with a cleared stop flag", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "mailbox", `{"x":1}`)
		require.NoError(t, err)
		require.NoError(t, s.RequestStop(ctx, run.ID))
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, RunInterrupted))

		require.NoError(t, s.ResumeRun(ctx, run.ID))

		resumed, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunRunning, resumed.Status)
		assert.False(t, resumed.StopRequested)
		assert.True(t, resumed.IsDiscovering)
	})

	t.Run("only interrupted runs resume", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "mailbox", `{"x":1}`)
		require.NoError(t, err)

		err = s.ResumeRun(ctx, run.ID)
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("latest run by status finds the newest match", func(t *testing.T) {
		s := newTestStore(t)
		r1, err := s.CreateRun(ctx, "filesystem", `{"n":1}`)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, RunInterrupted))
		_, err = s.CreateRun(ctx, "filesystem", `{"n":2}`)
		require.NoError(t, err)

		latest, err := s.LatestRunByStatus(ctx, "filesystem", RunInterrupted)
		require.NoError(t, err)
		assert.Equal(t, r1.ID, latest.ID)

		_, err = s.LatestRunByStatus(ctx, "mailbox", RunInterrupted)
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("latest run ignores status", func(t *testing.T) {
		s := newTestStore(t)
		r1, err := s.CreateRun(ctx, "filesystem", `{"n":1}`)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, RunCompleted))
		r2, err := s.CreateRun(ctx, "filesystem", `{"n":2}`)
		require.NoError(t, err)

		latest, err := s.LatestRun(ctx, "filesystem")
		require.NoError(t, err)
		assert.Equal(t, r2.ID, latest.ID)

		_, err = s.LatestRun(ctx, "mailbox")
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("missing run is not found", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.GetRun(ctx, "ghost")
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("FIFO order follows enqueue order", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart(fmt.Sprintf("p%d", i), "c")))
		}

		for i := 0; i < 3; i++ {
			entry, err := s.NextQueued(ctx, run.ID)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, fmt.Sprintf("p%d", i), entry.Part.DocumentPartID)
			assert.Equal(t, "text of "+entry.Part.DocumentPartID, entry.Part.Text)
			require.NoError(t, s.RemoveQueued(ctx, run.ID, entry.Part.DocumentPartID))
		}

		entry, err := s.NextQueued(ctx, run.ID)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("enqueue bumps the discovered counter atomically", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart("a", "c")))
		require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart("b", "c")))
		// Duplicate enqueue is ignored and not double counted
		require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart("a", "c")))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.DiscoveredCount)

		length, err := s.QueueLength(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, length)
	})

	t.Run("a part this run already indexed is not re-enqueued", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		// Given a part the run fully processed and removed from the
		// queue
		require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart("a", "c")))
		require.NoError(t, s.UpsertDocumentPart(ctx, testPart("a", "c")))
		require.NoError(t, s.MarkPartIndexed(ctx, run.ID, "a", []string{"ch1"}))
		require.NoError(t, s.RemoveQueued(ctx, run.ID, "a"))

		// When a resumed discovery pass offers the same part again
		require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart("a", "c")))

		// Then neither the queue nor the counters move
		length, err := s.QueueLength(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, length)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.DiscoveredCount)
		assert.Equal(t, 1, got.IndexedCount)

		// A different run still gets to queue it
		other, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)
		require.NoError(t, s.EnqueuePart(ctx, other.ID, testPart("a", "c")))
		length, err = s.QueueLength(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, length)
	})

	t.Run("listing returns pending entries in FIFO order", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.EnqueuePart(ctx, run.ID, testPart(fmt.Sprintf("p%d", i), "c")))
		}

		entries, err := s.ListQueued(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, entry := range entries {
			assert.Equal(t, fmt.Sprintf("p%d", i), entry.Part.DocumentPartID)
		}

		empty, err := s.ListQueued(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("enqueue for an unknown run fails", func(t *testing.T) {
		s := newTestStore(t)
		err := s.EnqueuePart(ctx, "ghost", testPart("a", "c"))
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("clearing a run's queue leaves other runs alone", func(t *testing.T) {
		s := newTestStore(t)
		r1, err := s.CreateRun(ctx, "filesystem", `{"n":1}`)
		require.NoError(t, err)
		r2, err := s.CreateRun(ctx, "filesystem", `{"n":2}`)
		require.NoError(t, err)
		require.NoError(t, s.EnqueuePart(ctx, r1.ID, testPart("a", "c")))
		require.NoError(t, s.EnqueuePart(ctx, r2.ID, testPart("b", "c")))

		require.NoError(t, s.ClearQueue(ctx, r1.ID))

		l1, _ := s.QueueLength(ctx, r1.ID)
		l2, _ := s.QueueLength(ctx, r2.ID)
		assert.Equal(t, 0, l1)
		assert.Equal(t, 1, l2)

		require.NoError(t, s.ClearAllQueues(ctx))
		l2, _ = s.QueueLength(ctx, r2.ID)
		assert.Equal(t, 0, l2)
	})
}

func TestDocumentParts(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert then get round-trips", func(t *testing.T) {
		s := newTestStore(t)
		part := testPart("a", "check-1")

		require.NoError(t, s.UpsertDocumentPart(ctx, part))

		got, err := s.GetDocumentPart(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, part.SourcePath, got.SourcePath)
		assert.Equal(t, "check-1", got.Checksum)
		assert.Equal(t, "test", got.Metadata["origin"])
		assert.Empty(t, got.ChunkIDs)
		assert.Empty(t, got.LastIndexedRunID)
	})

	t.Run("upsert refreshes fields but keeps chunk bookkeeping", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		require.NoError(t, s.UpsertDocumentPart(ctx, testPart("a", "check-1")))
		require.NoError(t, s.MarkDocumentPartProcessed(ctx, "a", run.ID, []string{"ch1", "ch2"}))

		// New content arrives
		updated := testPart("a", "check-2")
		updated.ExtractorVersion = "0.2"
		require.NoError(t, s.UpsertDocumentPart(ctx, updated))

		got, err := s.GetDocumentPart(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "check-2", got.Checksum)
		assert.Equal(t, "0.2", got.ExtractorVersion)
		// Chunk bookkeeping untouched until the part is reprocessed
		assert.Equal(t, []string{"ch1", "ch2"}, got.ChunkIDs)
		assert.Equal(t, run.ID, got.LastIndexedRunID)
	})

	t.Run("mark processed without chunk ids keeps the old chunks", func(t *testing.T) {
		s := newTestStore(t)
		r1, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)
		r2, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)

		require.NoError(t, s.UpsertDocumentPart(ctx, testPart("a", "c")))
		require.NoError(t, s.MarkDocumentPartProcessed(ctx, "a", r1.ID, []string{"ch1"}))

		// The skip path: processed by r2 with no re-embedding
		require.NoError(t, s.MarkDocumentPartProcessed(ctx, "a", r2.ID, nil))

		got, err := s.GetDocumentPart(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"ch1"}, got.ChunkIDs)
		assert.Equal(t, r2.ID, got.LastIndexedRunID)
		require.NotNil(t, got.LastIndexedAt)
	})

	t.Run("mark part indexed bumps the counter transactionally", func(t *testing.T) {
		s := newTestStore(t)
		run, err := s.CreateRun(ctx, "filesystem", `{"x":1}`)
		require.NoError(t, err)
		require.NoError(t, s.UpsertDocumentPart(ctx, testPart("a", "c")))

		require.NoError(t, s.MarkPartIndexed(ctx, run.ID, "a", []string{"ch1"}))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.IndexedCount)

		// An unknown part rolls back without touching the counter
		err = s.MarkPartIndexed(ctx, run.ID, "ghost", []string{"chX"})
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
		got, err = s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.IndexedCount)
	})

	t.Run("missing part is not found", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.GetDocumentPart(ctx, "ghost")
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

func TestStaleParts(t *testing.T) {
	ctx := context.Background()
	scopeJSON := `{"kind":"filesystem","dirs":["/docs"]}`

	setupRun := func(t *testing.T, s *SQLiteStore, parts ...string) *Run {
		run, err := s.CreateRun(ctx, "filesystem", scopeJSON)
		require.NoError(t, err)
		for _, id := range parts {
			p := testPart(id, "c-"+id)
			p.ScopeJSON = scopeJSON
			require.NoError(t, s.UpsertDocumentPart(ctx, p))
			require.NoError(t, s.MarkDocumentPartProcessed(ctx, id, run.ID, []string{"chunk-" + id}))
		}
		return run
	}

	t.Run("parts untouched by the new run over the same scope are stale", func(t *testing.T) {
		s := newTestStore(t)

		// Given a completed first pass over three files
		r1 := setupRun(t, s, "a", "b", "c")
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, RunCompleted))

		// And a second pass that only saw a and b
		r2, err := s.CreateRun(ctx, "filesystem", scopeJSON)
		require.NoError(t, err)
		for _, id := range []string{"a", "b"} {
			require.NoError(t, s.MarkDocumentPartProcessed(ctx, id, r2.ID, nil))
		}

		// Then only c is stale
		stale, err := s.StaleParts(ctx, r2.ID)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "c", stale[0].DocumentPartID)
		assert.Equal(t, []string{"chunk-c"}, stale[0].ChunkIDs)
	})

	t.Run("parts of other scopes are never stale", func(t *testing.T) {
		s := newTestStore(t)

		// A completed run over a different scope
		other, err := s.CreateRun(ctx, "filesystem", `{"kind":"filesystem","dirs":["/other"]}`)
		require.NoError(t, err)
		p := testPart("x", "c")
		p.ScopeJSON = `{"kind":"filesystem","dirs":["/other"]}`
		require.NoError(t, s.UpsertDocumentPart(ctx, p))
		require.NoError(t, s.MarkDocumentPartProcessed(ctx, "x", other.ID, []string{"chx"}))
		require.NoError(t, s.UpdateRunStatus(ctx, other.ID, RunCompleted))

		// A new run over this scope sees no stale parts
		r := setupRun(t, s, "a")
		stale, err := s.StaleParts(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("parts owned by a still-running run are protected", func(t *testing.T) {
		s := newTestStore(t)

		// r1 is still running when r2 computes staleness
		_ = setupRun(t, s, "a")
		r2, err := s.CreateRun(ctx, "filesystem", scopeJSON)
		require.NoError(t, err)

		stale, err := s.StaleParts(ctx, r2.ID)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("delete removes stale rows", func(t *testing.T) {
		s := newTestStore(t)
		r1 := setupRun(t, s, "a", "b")
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, RunCompleted))

		require.NoError(t, s.DeleteDocumentParts(ctx, []string{"a", "b"}))

		count, err := s.CountParts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestMonitoredSources(t *testing.T) {
	ctx := context.Background()

	t.Run("add then list round-trips", func(t *testing.T) {
		s := newTestStore(t)

		m, err := s.AddMonitoredSource(ctx, "filesystem", "filesystem:/docs", `{"kind":"filesystem"}`)
		require.NoError(t, err)
		assert.NotEmpty(t, m.ID)
		assert.True(t, m.Enabled)

		all, err := s.ListMonitoredSources(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, m.ID, all[0].ID)
	})

	t.Run("duplicate scope conflicts", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.AddMonitoredSource(ctx, "filesystem", "filesystem:/docs", `{"same":true}`)
		require.NoError(t, err)

		_, err = s.AddMonitoredSource(ctx, "filesystem", "filesystem:/docs", `{"same":true}`)
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("touch records check and ingest times", func(t *testing.T) {
		s := newTestStore(t)
		m, err := s.AddMonitoredSource(ctx, "mailbox", "mailbox:/var/mail/u", `{"m":1}`)
		require.NoError(t, err)

		require.NoError(t, s.TouchMonitoredSource(ctx, m.ID, "fp-1", false))
		got, err := s.GetMonitoredSource(ctx, m.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.LastCheckedAt)
		assert.Nil(t, got.LastIngestedAt)
		assert.Equal(t, "fp-1", got.LastFingerprint)

		require.NoError(t, s.TouchMonitoredSource(ctx, m.ID, "fp-2", true))
		got, err = s.GetMonitoredSource(ctx, m.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.LastIngestedAt)
	})

	t.Run("disable and delete", func(t *testing.T) {
		s := newTestStore(t)
		m, err := s.AddMonitoredSource(ctx, "filesystem", "filesystem:/x", `{"x":1}`)
		require.NoError(t, err)

		require.NoError(t, s.SetMonitoredSourceEnabled(ctx, m.ID, false))
		got, err := s.GetMonitoredSource(ctx, m.ID)
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		require.NoError(t, s.DeleteMonitoredSource(ctx, m.ID))
		_, err = s.GetMonitoredSource(ctx, m.ID)
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.GetRun(context.Background(), "any")
	assert.Error(t, err)
}
