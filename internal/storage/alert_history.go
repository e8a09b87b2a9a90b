package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/model"
)

// SQLiteAlertHistory keeps a durable audit of dispatched alerts and suppressed decisions
type SQLiteAlertHistory struct {
	logger   *zap.Logger
	db       *sql.DB
	recorder *diagnostics.Recorder
}

// NewSQLiteAlertHistory opens (or creates) the history database at dbPath. recorder may
// be nil; when set, every query is timed as a diagnostics operation.
func NewSQLiteAlertHistory(logger *zap.Logger, dbPath string, recorder *diagnostics.Recorder) (*SQLiteAlertHistory, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	storage := &SQLiteAlertHistory{
		logger:   logger.Named("alert-history"),
		db:       db,
		recorder: recorder,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteAlertHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			alert_key TEXT NOT NULL,
			type TEXT NOT NULL,
			severity INTEGER NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			value REAL NOT NULL,
			threshold REAL NOT NULL,
			channels TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(alert_key);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);

		CREATE TABLE IF NOT EXISTS suppressions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_key TEXT NOT NULL,
			reason TEXT NOT NULL,
			channel TEXT,
			consecutive_failures INTEGER NOT NULL,
			value REAL NOT NULL,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_suppressions_at ON suppressions(at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func (s *SQLiteAlertHistory) track(identifier string) func() {
	if s.recorder == nil {
		return func() {}
	}
	return s.recorder.Track(model.OperationQuery, identifier, map[string]string{"store": "sqlite"})
}

// RecordAlert implements monitor.AlertHistory
func (s *SQLiteAlertHistory) RecordAlert(ctx context.Context, alert *model.Alert) error {
	defer s.track("INSERT INTO alerts")()

	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, alert_key, type, severity, subject, body, value, threshold, channels, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		string(alert.Key),
		string(alert.Type),
		int(alert.Severity),
		alert.Subject,
		alert.Body,
		alert.Value,
		alert.Threshold,
		string(channels),
		alert.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// RecordSuppression implements monitor.AlertHistory
func (s *SQLiteAlertHistory) RecordSuppression(ctx context.Context, event model.SuppressionEvent) error {
	defer s.track("INSERT INTO suppressions")()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppressions (
			alert_key, reason, channel, consecutive_failures, value, at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.Key),
		string(event.Reason),
		sql.NullString{String: event.Channel, Valid: event.Channel != ""},
		int64(event.ConsecutiveFailures),
		event.Value,
		event.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store suppression: %w", err)
	}
	return nil
}

// ListAlerts returns alerts created at or after since, newest first
func (s *SQLiteAlertHistory) ListAlerts(ctx context.Context, since time.Time, limit int) ([]model.Alert, error) {
	defer s.track("SELECT FROM alerts")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_key, type, severity, subject, body, value, threshold, channels, created_at
		FROM alerts
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			alert     model.Alert
			key       string
			alertType string
			severity  int
			channels  sql.NullString
			createdAt int64
		)
		err := rows.Scan(
			&alert.ID,
			&key,
			&alertType,
			&severity,
			&alert.Subject,
			&alert.Body,
			&alert.Value,
			&alert.Threshold,
			&channels,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		alert.Key = model.AlertKey(key)
		alert.Type = model.AlertType(alertType)
		alert.Severity = model.SeverityLevel(severity)
		alert.CreatedAt = time.Unix(0, createdAt).UTC()
		if channels.Valid && channels.String != "" && channels.String != "null" {
			if err := json.Unmarshal([]byte(channels.String), &alert.Channels); err != nil {
				return nil, fmt.Errorf("failed to decode channels of alert %s: %w", alert.ID, err)
			}
		}

		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return alerts, nil
}

// CountSuppressions returns the number of suppression events recorded for key
func (s *SQLiteAlertHistory) CountSuppressions(ctx context.Context, key model.AlertKey) (int, error) {
	defer s.track("SELECT COUNT FROM suppressions")()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM suppressions WHERE alert_key = ?", string(key)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count suppressions: %w", err)
	}
	return count, nil
}

// DeleteBefore deletes alerts and suppressions older than before
func (s *SQLiteAlertHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	defer s.track("DELETE FROM alerts, suppressions")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, stmt := range []string{
		"DELETE FROM alerts WHERE created_at < ?",
		"DELETE FROM suppressions WHERE at < ?",
	} {
		result, err := tx.ExecContext(ctx, stmt, before.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("failed to delete alert history: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		deleted += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	s.logger.Info("Deleted old alert history records",
		zap.Time("before", before),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// Close closes the database connection
func (s *SQLiteAlertHistory) Close() error {
	return s.db.Close()
}
