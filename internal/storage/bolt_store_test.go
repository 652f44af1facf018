package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedload/internal/report"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func artifact(id string, started time.Time) report.Artifact {
	return report.Artifact{
		RunID:   id,
		Region:  "usa",
		Started: started,
		Summary: report.SummaryReport{Count: 10, Passed: true},
	}
}

func TestSaveListNewestFirst(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1700000000, 0)

	require.NoError(t, s.Save(artifact("b", base.Add(time.Minute))))
	require.NoError(t, s.Save(artifact("a", base)))
	require.NoError(t, s.Save(artifact("c", base.Add(2*time.Minute))))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].RunID)
	assert.Equal(t, "b", items[1].RunID)
	assert.Equal(t, "a", items[2].RunID)
	assert.Equal(t, 10, items[0].Summary.Count)
}

func TestGetByPrefix(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1700000000, 0)
	require.NoError(t, s.Save(artifact("3f2a-1111", base)))
	require.NoError(t, s.Save(artifact("3f2b-2222", base.Add(time.Second))))
	require.NoError(t, s.Save(artifact("3f2b", base.Add(2*time.Second))))

	got, err := s.Get("3f2a")
	require.NoError(t, err)
	assert.Equal(t, "3f2a-1111", got.RunID)

	got, err = s.Get("3f2b")
	require.NoError(t, err)
	assert.Equal(t, "3f2b", got.RunID)

	_, err = s.Get("3f2")
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = s.Get("zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSavePrunesOldest(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1700000000, 0)
	for i := 0; i < MaxRuns+5; i++ {
		require.NoError(t, s.Save(artifact(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Second))))
	}

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, MaxRuns)
	assert.Equal(t, fmt.Sprintf("run-%03d", MaxRuns+4), items[0].RunID)
	assert.Equal(t, "run-005", items[len(items)-1].RunID)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(artifact("persisted", time.Unix(1700000000, 0))))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, "usa", got.Region)
}
