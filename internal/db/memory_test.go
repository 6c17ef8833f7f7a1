package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalarm/internal/escalation"
)

func TestMemoryStore_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := newTestAlarm()
	b := newTestAlarm()
	b.ID = "alm_2"

	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	// Re-saving keeps the original position.
	a.Level = escalation.LevelUrgent
	require.NoError(t, s.Save(ctx, a))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alm_1", list[0].ID)
	assert.Equal(t, escalation.LevelUrgent, list[0].Level)
	assert.Equal(t, "alm_2", list[1].ID)

	require.NoError(t, s.Delete(ctx, "alm_1"))
	require.NoError(t, s.Delete(ctx, "alm_unknown"))

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alm_2", list[0].ID)
}

func TestMemoryStore_IsolatesHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newTestAlarm()
	require.NoError(t, s.Save(ctx, a))

	a.History[0].ID = "mutated"

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", list[0].History[0].ID)

	list[0].History[0].ID = "mutated-again"
	again, _ := s.List(ctx)
	assert.Equal(t, "evt_1", again[0].History[0].ID)
}
