package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// InsightStorage handles append-only storage of generated insights.
type InsightStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewInsightStorage creates a new SQLite insight storage.
func NewInsightStorage(db *sql.DB, logger *logger.Logger) *InsightStorage {
	storage := &InsightStorage{
		db:     db,
		logger: logger.Named("sqlite-insights"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize insight storage", Error(err))
	}

	return storage
}

func (s *InsightStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			generated_at TIMESTAMP NOT NULL,
			scope TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence REAL NOT NULL,
			generated_by TEXT NOT NULL,
			fallback INTEGER NOT NULL DEFAULT 0,
			supporting_summary_ids TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create insights table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_insights_generated_at ON insights(generated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_scope ON insights(scope)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_kind ON insights(kind)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create insight index: %w", err)
		}
	}

	return nil
}

// InsertBatch stores a batch of insights inside one transaction.
func (s *InsightStorage) InsertBatch(insights []*market.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO insights
		(id, generated_at, scope, title, text, kind, confidence, generated_by, fallback, supporting_summary_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insight insert: %w", err)
	}
	defer stmt.Close()

	for _, insight := range insights {
		supportingIDs, err := json.Marshal(insight.SupportingSummaryIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal supporting summary IDs: %w", err)
		}

		fallback := 0
		if insight.Fallback {
			fallback = 1
		}

		if _, err := stmt.Exec(
			insight.ID,
			insight.GeneratedAt.Format(time.RFC3339),
			insight.Scope,
			insight.Title,
			insight.Text,
			insight.Kind,
			insight.Confidence,
			insight.GeneratedBy,
			fallback,
			string(supportingIDs),
		); err != nil {
			return fmt.Errorf("failed to insert insight %s: %w", insight.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insight batch: %w", err)
	}

	return nil
}

// Recent returns the most recently generated insights.
func (s *InsightStorage) Recent(limit int) ([]*market.Insight, error) {
	rows, err := s.db.Query(
		`SELECT id, generated_at, scope, title, text, kind, confidence, generated_by, fallback, supporting_summary_ids
		FROM insights
		ORDER BY generated_at DESC, id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent insights: %w", err)
	}
	defer rows.Close()

	return s.scanInsightRows(rows)
}

// ByScope returns recent insights for a single scope (route key or
// "global").
func (s *InsightStorage) ByScope(scope string, limit int) ([]*market.Insight, error) {
	rows, err := s.db.Query(
		`SELECT id, generated_at, scope, title, text, kind, confidence, generated_by, fallback, supporting_summary_ids
		FROM insights
		WHERE scope = ?
		ORDER BY generated_at DESC, id
		LIMIT ?`,
		scope, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights by scope: %w", err)
	}
	defer rows.Close()

	return s.scanInsightRows(rows)
}

// scanInsightRows scans database rows into Insight structs.
func (s *InsightStorage) scanInsightRows(rows *sql.Rows) ([]*market.Insight, error) {
	var insights []*market.Insight
	for rows.Next() {
		var insight market.Insight
		var generatedAt string
		var fallback int
		var supportingIDs sql.NullString

		if err := rows.Scan(
			&insight.ID,
			&generatedAt,
			&insight.Scope,
			&insight.Title,
			&insight.Text,
			&insight.Kind,
			&insight.Confidence,
			&insight.GeneratedBy,
			&fallback,
			&supportingIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}

		insight.Fallback = fallback != 0

		var err error
		if insight.GeneratedAt, err = time.Parse(time.RFC3339, generatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse generated_at: %w", err)
		}

		if supportingIDs.Valid && supportingIDs.String != "" && supportingIDs.String != "null" {
			if err := json.Unmarshal([]byte(supportingIDs.String), &insight.SupportingSummaryIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal supporting summary IDs: %w", err)
			}
		}

		insights = append(insights, &insight)
	}

	return insights, rows.Err()
}
