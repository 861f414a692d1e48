package retention

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2021, 5, 14, 12, 0, 0, 0, time.UTC)

// makeFiles creates one byte files named after their age
func makeFiles(t *testing.T, dir string, ages ...time.Duration) {
	for _, age := range ages {
		path := filepath.Join(dir, age.String())
		require.NoError(t, ioutil.WriteFile(path, []byte("x"), 0600))
		mtime := testNow.Add(-age)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func remaining(t *testing.T, dir string) []string {
	fileInfos, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, fi := range fileInfos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}

const (
	week = 7 * 24 * time.Hour
	day  = 24 * time.Hour
)

func TestCleanupFiles(t *testing.T) {
	testCases := []struct {
		name      string
		maxBytes  int64
		maxAge    time.Duration
		remaining []string
		deleted   int
	}{
		{
			name:      "size cap evicts the oldest",
			maxBytes:  2,
			remaining: []string{day.String(), time.Hour.String()},
			deleted:   1,
		},
		{
			name:      "within cap",
			maxBytes:  3,
			remaining: []string{day.String(), week.String(), time.Hour.String()},
		},
		{
			name:      "age evicts old files",
			maxBytes:  100,
			maxAge:    2 * day,
			remaining: []string{day.String(), time.Hour.String()},
			deleted:   1,
		},
		{
			name:     "everything expired",
			maxBytes: 100,
			maxAge:   time.Minute,
			deleted:  3,
		},
		{
			name:     "zero cap",
			maxBytes: 0,
			deleted:  3,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			makeFiles(t, dir, week, day, time.Hour)

			stats, err := CleanupFiles(context.Background(), dir, tc.maxBytes, tc.maxAge, testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.deleted, stats.Deleted)
			assert.Equal(t, int64(tc.deleted), stats.DeletedBytes)
			assert.Equal(t, int64(3-tc.deleted), stats.RemainingBytes)
			want := append([]string(nil), tc.remaining...)
			sort.Strings(want)
			assert.Equal(t, want, remaining(t, dir))
		})
	}
}

func TestCleanupMissingDirectory(t *testing.T) {
	stats, err := CleanupFiles(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, time.Minute, testNow)
	assert.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestCleanupIsNotRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0700))
	makeFiles(t, sub, week)

	stats, err := CleanupFiles(context.Background(), dir, 0, time.Minute, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, []string{week.String()}, remaining(t, sub))
}

func TestTaskUsesSettings(t *testing.T) {
	dir := t.TempDir()
	makeFiles(t, dir, week, day, time.Hour)

	task := &Task{
		Dir:      dir,
		Settings: settings.Static{StagingMaxBytes: 100, StagingMaxAgeSeconds: int64((2 * day).Seconds())},
		Metrics:  metrics.Discard,
		now:      func() time.Time { return testNow },
	}
	assert.Equal(t, runner.Success, task.RunOnce(context.Background()))
	assert.Len(t, remaining(t, dir), 2)
}
