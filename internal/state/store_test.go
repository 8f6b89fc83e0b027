package state

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/pkg/detloader"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "data", "etl_state.json")
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(path, logging.NewNullLogger(), opts...), clock
}

func TestStore_Load_MissingFileIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	st, err := s.Load()
	require.NoError(t, err)
	assert.True(t, st.IsEmpty())
	assert.Equal(t, CurrentVersion, st.Version)
}

func TestStore_CommitThenReload(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	next, err := s.Commit(Delta{
		ProcessedFiles: map[string]int{"video_a.csv": 3},
		Flushed:        []detloader.SourceType{detloader.SourceVideo},
		Fingerprints:   []string{"fp1", "fp2"},
		Stats: Stats{
			LoadedRows:    2,
			TotalBatches:  1,
			BatchesByType: map[detloader.SourceType]int64{detloader.SourceVideo: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, next.IsProcessed("video_a.csv"))
	assert.Equal(t, clock.Now(), next.LastFlushAt(detloader.SourceVideo))

	reloaded, err := NewStore(s.Path(), logging.NewNullLogger()).Load()
	require.NoError(t, err)
	assert.True(t, reloaded.IsProcessed("video_a.csv"))
	assert.Equal(t, 3, reloaded.ProcessedFiles["video_a.csv"].Records)
	assert.True(t, reloaded.Ledger.Contains("fp1"))
	assert.True(t, reloaded.Ledger.Contains("fp2"))
	assert.Equal(t, int64(2), reloaded.Stats.LoadedRows)
	assert.Equal(t, int64(1), reloaded.Stats.BatchesByType[detloader.SourceVideo])
	assert.True(t, clock.Now().Equal(reloaded.LastFlushAt(detloader.SourceVideo)))
}

func TestStore_Commit_DoesNotMutatePreviousSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	before, err := s.Load()
	require.NoError(t, err)

	_, err = s.Commit(Delta{
		ProcessedFiles: map[string]int{"image_a.csv": 1},
		Fingerprints:   []string{"fp"},
	})
	require.NoError(t, err)

	assert.False(t, before.IsProcessed("image_a.csv"))
	assert.False(t, before.Ledger.Contains("fp"))
}

func TestStore_Commit_BeforeLoad(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Commit(Delta{})
	require.Error(t, err)
}

func TestStore_Commit_LedgerFirstSeenWins(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	first := clock.Now()
	_, err = s.Commit(Delta{Fingerprints: []string{"fp"}})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	st, err := s.Commit(Delta{Fingerprints: []string{"fp"}})
	require.NoError(t, err)

	assert.Equal(t, 1, st.Ledger.Len())
	oldest, ok := st.Ledger.Oldest()
	require.True(t, ok)
	assert.Equal(t, first, oldest)
}

func TestStore_Commit_LedgerRetention(t *testing.T) {
	s, clock := newTestStore(t, WithOptions(Options{LedgerRetention: 24 * time.Hour}))
	_, err := s.Load()
	require.NoError(t, err)

	_, err = s.Commit(Delta{Fingerprints: []string{"old"}})
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	st, err := s.Commit(Delta{Fingerprints: []string{"new"}})
	require.NoError(t, err)

	assert.False(t, st.Ledger.Contains("old"))
	assert.True(t, st.Ledger.Contains("new"))
}

func TestStore_Commit_LedgerMaxEntries(t *testing.T) {
	s, _ := newTestStore(t, WithOptions(Options{LedgerMaxEntries: 2}))
	_, err := s.Load()
	require.NoError(t, err)

	st, err := s.Commit(Delta{Fingerprints: []string{"a", "b", "c"}})
	require.NoError(t, err)

	assert.Equal(t, 2, st.Ledger.Len())
	assert.False(t, st.Ledger.Contains("a"))
	assert.True(t, st.Ledger.Contains("c"))
}

func TestStore_Commit_Quarantine(t *testing.T) {
	s, _ := newTestStore(t, WithOptions(Options{QuarantineMaxRows: 2}))
	_, err := s.Load()
	require.NoError(t, err)

	st, err := s.Commit(Delta{
		QuarantineFiles: map[string]string{"video_bad.csv": "header missing required columns"},
		QuarantineRows: []detloader.RejectedRow{
			{Fingerprint: "a", Reason: detloader.ReasonSinkUnavailable},
			{Fingerprint: "b", Reason: detloader.ReasonSinkUnavailable},
			{Fingerprint: "c", Reason: detloader.ReasonSinkUnavailable},
		},
	})
	require.NoError(t, err)
	require.Contains(t, st.QuarantinedFiles, "video_bad.csv")
	assert.Equal(t, 1, st.QuarantinedFiles["video_bad.csv"].Attempts)
	require.Len(t, st.QuarantinedRows, 2)
	assert.Equal(t, "b", st.QuarantinedRows[0].Fingerprint)

	st, err = s.Commit(Delta{QuarantineFiles: map[string]string{"video_bad.csv": "again"}})
	require.NoError(t, err)
	assert.Equal(t, 2, st.QuarantinedFiles["video_bad.csv"].Attempts)

	st, err = s.Commit(Delta{ProcessedFiles: map[string]int{"video_bad.csv": 0}})
	require.NoError(t, err)
	assert.NotContains(t, st.QuarantinedFiles, "video_bad.csv", "processing clears quarantine")
}

func TestStore_Commit_LoadedRowsLeaveQuarantine(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	_, err = s.Commit(Delta{QuarantineRows: []detloader.RejectedRow{
		{Fingerprint: "a", StagedFile: "video_a.csv", Line: 2, Reason: detloader.ReasonSinkUnavailable},
		{Fingerprint: "b", StagedFile: "video_a.csv", Line: 3, Reason: detloader.ReasonSinkUnavailable},
	}})
	require.NoError(t, err)

	st, err := s.Commit(Delta{Fingerprints: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, st.QuarantinedRows, 1)
	assert.Equal(t, "b", st.QuarantinedRows[0].Fingerprint)
	assert.True(t, st.Ledger.Contains("a"))
}

func TestStore_Load_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"version": 1, "processed_files": {`},
		{"not json", "garbage"},
		{"missing version", `{"processed_files": {}}`},
		{"future version", `{"version": 99}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
			require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0o644))

			_, err := s.Load()
			require.Error(t, err)

			var corrupt *detloader.StateCorruptionError
			assert.True(t, errors.As(err, &corrupt))
			assert.True(t, errors.Is(err, detloader.ErrStateCorrupt))
			assert.Equal(t, detloader.ExitStateCorrupt, detloader.ExitCodeForError(err))
		})
	}
}

func TestStore_Reset_PreservesCorruptFile(t *testing.T) {
	s, clock := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))

	h := s.Inspect()
	require.True(t, h.Exists)
	require.Error(t, h.Corrupt)

	require.NoError(t, s.Reset())

	backup := s.Path() + ".corrupt-" + strconv.FormatInt(clock.Now().Unix(), 10)
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))

	st, err := s.Load()
	require.NoError(t, err)
	assert.True(t, st.IsEmpty())
}

func TestStore_Reset_Healthy(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)
	_, err = s.Commit(Delta{ProcessedFiles: map[string]int{"image_a.csv": 1}})
	require.NoError(t, err)

	h := s.Inspect()
	assert.True(t, h.Exists)
	assert.NoError(t, h.Corrupt)
	assert.False(t, h.Empty)

	require.NoError(t, s.Reset())
	assert.True(t, s.Current().IsEmpty())
	assert.True(t, s.Inspect().Empty)
}

func TestStore_Write_LeavesNoTempFiles(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Commit(Delta{Fingerprints: []string{strconv.Itoa(i)}})
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestStore_Write_FailureKeepsPreviousState(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)
	_, err = s.Commit(Delta{ProcessedFiles: map[string]int{"image_a.csv": 1}})
	require.NoError(t, err)

	// Replace the state path with a directory so rename fails.
	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, os.Mkdir(s.Path(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), "blocker"), []byte("x"), 0o644))

	_, err = s.Commit(Delta{ProcessedFiles: map[string]int{"image_b.csv": 1}})
	require.Error(t, err)

	cur := s.Current()
	assert.True(t, cur.IsProcessed("image_a.csv"))
	assert.False(t, cur.IsProcessed("image_b.csv"))
}

func TestStats_Add(t *testing.T) {
	a := Stats{LoadedRows: 1, BatchesByType: map[detloader.SourceType]int64{detloader.SourceImage: 1}}
	b := Stats{LoadedRows: 2, BatchesByType: map[detloader.SourceType]int64{detloader.SourceImage: 2}}

	sum := a.Add(b)
	assert.Equal(t, int64(3), sum.LoadedRows)
	assert.Equal(t, int64(3), sum.BatchesByType[detloader.SourceImage])
	assert.Equal(t, int64(1), a.BatchesByType[detloader.SourceImage], "Add must not alias the receiver map")
	assert.True(t, Stats{}.IsZero())
	assert.False(t, sum.IsZero())
}
