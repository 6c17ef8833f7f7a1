package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

var repoNow = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

func newTestAlarm() escalation.Alarm {
	snooze := repoNow.Add(10 * time.Minute)
	return escalation.Alarm{
		ID:            "alm_1",
		TaskID:        "task-1",
		Title:         "Call dentist",
		DueDate:       repoNow.Add(-20 * time.Minute),
		Level:         escalation.LevelPersistent,
		Active:        true,
		SnoozeUntil:   &snooze,
		SnoozeCount:   2,
		LastEscalated: repoNow.Add(-5 * time.Minute),
		History: []escalation.EscalationEvent{
			{ID: "evt_1", FromLevel: escalation.LevelGentle, ToLevel: escalation.LevelPersistent, Timestamp: repoNow.Add(-5 * time.Minute)},
		},
		CreatedAt: repoNow.Add(-time.Hour),
	}
}

// scanAlarm fills dest in alarmColumns order.
func scanAlarm(a escalation.Alarm, dest ...any) error {
	history, _ := json.Marshal(a.History)
	*dest[0].(*string) = a.ID
	*dest[1].(*string) = a.TaskID
	*dest[2].(*string) = a.Title
	*dest[3].(*time.Time) = a.DueDate
	*dest[4].(*int16) = int16(a.Level)
	*dest[5].(*bool) = a.Active
	*dest[6].(**time.Time) = a.SnoozeUntil
	*dest[7].(*int) = a.SnoozeCount
	*dest[8].(*time.Time) = a.LastEscalated
	*dest[9].(*[]byte) = history
	*dest[10].(*time.Time) = a.CreatedAt
	return nil
}

func TestAlarmRepository_Save_Upserts(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)
	alarm := newTestAlarm()

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (id) DO UPDATE")
	}), mock.MatchedBy(func(args []any) bool {
		if len(args) != 12 || args[0] != "alm_1" || args[4] != int16(2) {
			return false
		}
		var events []escalation.EscalationEvent
		return json.Unmarshal(args[9].([]byte), &events) == nil && len(events) == 1
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Save(context.Background(), alarm))
	db.AssertExpectations(t)
}

func TestAlarmRepository_Save_NilHistoryStoredAsEmptyArray(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)
	alarm := newTestAlarm()
	alarm.History = nil

	db.On("Exec", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		return string(args[9].([]byte)) == "[]"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Save(context.Background(), alarm))
	db.AssertExpectations(t)
}

func TestAlarmRepository_Save_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Save(context.Background(), newTestAlarm())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAlarmRepository_Delete(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	db.On("Exec", mock.Anything, "DELETE FROM alarms WHERE id = $1", []any{"alm_gone"}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	require.NoError(t, repo.Delete(context.Background(), "alm_gone"))
	db.AssertExpectations(t)
}

func TestAlarmRepository_List(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	first := newTestAlarm()
	second := newTestAlarm()
	second.ID = "alm_2"
	second.SnoozeUntil = nil
	second.History = nil

	stored := []escalation.Alarm{first, second}
	rows := newMockRows(2, func(i int, dest ...any) error { return scanAlarm(stored[i], dest...) })
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	alarms, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 2)

	assert.Equal(t, first.ID, alarms[0].ID)
	assert.Equal(t, escalation.LevelPersistent, alarms[0].Level)
	require.NotNil(t, alarms[0].SnoozeUntil)
	assert.True(t, first.SnoozeUntil.Equal(*alarms[0].SnoozeUntil))
	assert.Equal(t, first.History, alarms[0].History)

	assert.Nil(t, alarms[1].SnoozeUntil)
	assert.NotNil(t, alarms[1].History)
	assert.Empty(t, alarms[1].History)
	assert.True(t, rows.closed)
}

func TestAlarmRepository_List_CorruptHistory(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	rows := newMockRows(1, func(_ int, dest ...any) error {
		_ = scanAlarm(newTestAlarm(), dest...)
		*dest[9].(*[]byte) = []byte("{not json")
		return nil
	})
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := repo.List(context.Background())
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "alm_1", appErr.Details["alarm_id"])
}

func TestAlarmRepository_List_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := repo.List(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAlarmRepository_List_RowsErr(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	rows := newMockRows(0, nil)
	rows.errVal = errors.New("stream reset")
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := repo.List(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAlarmRepository_EnsureSchema(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlarmRepository(db)

	db.On("Exec", mock.Anything, Schema, mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	db.AssertExpectations(t)
}
