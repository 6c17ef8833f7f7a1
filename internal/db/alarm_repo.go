package db

import (
	"context"
	"encoding/json"
	"time"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// Schema creates the alarms table. EnsureSchema runs it at startup.
const Schema = `CREATE TABLE IF NOT EXISTS alarms (
	id             TEXT PRIMARY KEY,
	task_id        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	due_date       TIMESTAMPTZ NOT NULL,
	level          SMALLINT NOT NULL CHECK (level BETWEEN 1 AND 5),
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	snooze_until   TIMESTAMPTZ,
	snooze_count   INTEGER NOT NULL DEFAULT 0,
	last_escalated TIMESTAMPTZ NOT NULL,
	history        JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alarms_task_id_idx ON alarms (task_id);`

const alarmColumns = `id, task_id, title, due_date, level, active, snooze_until,
	snooze_count, last_escalated, history, created_at`

var _ AlarmStore = (*AlarmRepository)(nil)

// AlarmRepository stores alarms in the alarms table. The escalation history
// lives in a JSONB column.
type AlarmRepository struct {
	db DBTX
}

// NewAlarmRepository creates a new AlarmRepository backed by the given
// database connection (pool or transaction).
func NewAlarmRepository(db DBTX) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// EnsureSchema creates the alarms table if it does not exist.
func (r *AlarmRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure alarm schema", err)
	}
	return nil
}

// Save upserts the alarm.
func (r *AlarmRepository) Save(ctx context.Context, a escalation.Alarm) error {
	history, err := marshalHistory(a.History)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode alarm history", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO alarms (`+alarmColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			title = EXCLUDED.title,
			due_date = EXCLUDED.due_date,
			level = EXCLUDED.level,
			active = EXCLUDED.active,
			snooze_until = EXCLUDED.snooze_until,
			snooze_count = EXCLUDED.snooze_count,
			last_escalated = EXCLUDED.last_escalated,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at`,
		a.ID,
		a.TaskID,
		a.Title,
		a.DueDate,
		int16(a.Level),
		a.Active,
		a.SnoozeUntil,
		a.SnoozeCount,
		a.LastEscalated,
		history,
		a.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save alarm", err)
	}
	return nil
}

// Delete removes the alarm. Deleting an absent alarm succeeds.
func (r *AlarmRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM alarms WHERE id = $1`, id); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete alarm", err)
	}
	return nil
}

// List returns every stored alarm in creation order.
func (r *AlarmRepository) List(ctx context.Context) ([]escalation.Alarm, error) {
	rows, err := r.db.Query(ctx, `SELECT `+alarmColumns+` FROM alarms ORDER BY created_at, id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alarms", err)
	}
	defer rows.Close()

	var alarms []escalation.Alarm
	for rows.Next() {
		var (
			a       escalation.Alarm
			level   int16
			history []byte
		)
		if err := rows.Scan(
			&a.ID,
			&a.TaskID,
			&a.Title,
			&a.DueDate,
			&level,
			&a.Active,
			&a.SnoozeUntil,
			&a.SnoozeCount,
			&a.LastEscalated,
			&history,
			&a.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alarm row", err)
		}
		a.Level = escalation.Level(level)
		if a.History, err = unmarshalHistory(history); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode alarm history", err).
				WithDetails(map[string]any{"alarm_id": a.ID})
		}
		alarms = append(alarms, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alarm rows", err)
	}
	return alarms, nil
}

func marshalHistory(events []escalation.EscalationEvent) ([]byte, error) {
	if events == nil {
		events = []escalation.EscalationEvent{}
	}
	return json.Marshal(events)
}

func unmarshalHistory(data []byte) ([]escalation.EscalationEvent, error) {
	events := []escalation.EscalationEvent{}
	if len(data) == 0 {
		return events, nil
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
