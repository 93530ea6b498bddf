package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	escalation "safeflame/internal/escalation/domain"
)

const schemaAlertArchive = `
CREATE TABLE IF NOT EXISTS alert_archive (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	zone TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	object TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// AlertRepository archives alerts in Postgres.
type AlertRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the archive table when missing.
func (r *AlertRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, schemaAlertArchive)
	return err
}

// Save inserts an alert. Re-saving the same id is a no-op.
func (r *AlertRepository) Save(ctx context.Context, alert escalation.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert.ID == "" {
		return errors.New("alert repo: empty alert id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_archive (
	id, kind, zone, severity, message, object, occurred_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id) DO NOTHING`, alert.ID, string(alert.Kind), alert.Zone, string(alert.Severity),
		alert.Message, alert.Object, alert.Timestamp.UTC(), r.now())
	return err
}

// ListRecent returns archived alerts newest first.
func (r *AlertRepository) ListRecent(ctx context.Context, zone string, limit int) ([]escalation.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if zone == "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, kind, zone, severity, message, object, occurred_at
FROM alert_archive
ORDER BY occurred_at DESC
LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, kind, zone, severity, message, object, occurred_at
FROM alert_archive
WHERE zone = $1
ORDER BY occurred_at DESC
LIMIT $2`, zone, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []escalation.Alert
	for rows.Next() {
		var (
			alert    escalation.Alert
			kind     string
			severity string
		)
		if err := rows.Scan(&alert.ID, &kind, &alert.Zone, &severity, &alert.Message, &alert.Object, &alert.Timestamp); err != nil {
			return nil, err
		}
		alert.Kind = escalation.AlertKind(kind)
		alert.Severity = escalation.Severity(severity)
		alert.Timestamp = alert.Timestamp.UTC()
		result = append(result, alert)
	}
	return result, rows.Err()
}
