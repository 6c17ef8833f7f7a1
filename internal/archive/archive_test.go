package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

func testRecord(id string, at time.Time) Record {
	a := escalation.NewAlarm("task-"+id, "Water plants", at.Add(-2*time.Hour), at.Add(-3*time.Hour))
	a.ID = id
	a.Escalate(at.Add(-time.Hour))
	a.Acknowledge()
	return Record{Alarm: a, Reason: ReasonAcknowledged, ArchivedAt: at}
}

func TestFileArchive_Path(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchive(dir)
	require.NoError(t, err)

	at := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	want := filepath.Join(dir, "history", "2026", "03", "alarms-2026-03-10.jsonl.zst")
	assert.Equal(t, want, a.Path(at))
}

func TestFileArchive_AppendAndRead(t *testing.T) {
	a, err := NewFileArchive(t.TempDir())
	require.NoError(t, err)

	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.Archive(context.Background(), testRecord("alm_1", at)))
	require.NoError(t, a.Archive(context.Background(), testRecord("alm_2", at.Add(time.Minute))))

	records, err := ReadFile(a.Path(at))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "alm_1", records[0].Alarm.ID)
	assert.Equal(t, ReasonAcknowledged, records[0].Reason)
	assert.False(t, records[0].Alarm.Active)
	require.Len(t, records[0].Alarm.History, 1)
	assert.Equal(t, escalation.LevelPersistent, records[0].Alarm.History[0].ToLevel)
	assert.Equal(t, "alm_2", records[1].Alarm.ID)
}

func TestFileArchive_ConcurrentWriters(t *testing.T) {
	a, err := NewFileArchive(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, a.Archive(context.Background(), testRecord(escalation.NewAlarmID(), at)))
		}(i)
	}
	wg.Wait()

	records, err := ReadFile(a.Path(at))
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestFileArchive_CancelledContext(t *testing.T) {
	a, err := NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Archive(ctx, testRecord("alm_1", time.Now())), context.Canceled)
}

func TestFileArchive_UnwritablePartition(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchive(dir)
	require.NoError(t, err)

	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	// A file where the year directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "2026"), []byte("x"), 0o644))

	err = a.Archive(context.Background(), testRecord("alm_1", at))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalArchive))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Archive(context.Background(), Record{}))
}
