package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// DemandStorage handles storage of demand signals.
type DemandStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewDemandStorage creates a new SQLite demand storage.
func NewDemandStorage(db *sql.DB, logger *logger.Logger) *DemandStorage {
	storage := &DemandStorage{
		db:     db,
		logger: logger.Named("sqlite-demand"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize demand storage", Error(err))
	}

	return storage
}

func (s *DemandStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS demand_signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			demand_level TEXT NOT NULL,
			search_volume INTEGER,
			basis TEXT NOT NULL,
			computed_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create demand_signals table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_demand_route_window ON demand_signals(origin, destination, window_start)`,
		`CREATE INDEX IF NOT EXISTS idx_demand_level ON demand_signals(demand_level)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create demand index: %w", err)
		}
	}

	return nil
}

// Insert stores a demand signal row and returns its ID.
func (s *DemandStorage) Insert(signal *market.DemandSignal) (int64, error) {
	var searchVolume sql.NullInt64
	if signal.SearchVolume != nil {
		searchVolume = sql.NullInt64{Int64: int64(*signal.SearchVolume), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO demand_signals
		(origin, destination, window_start, window_end, demand_level, search_volume, basis, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.Route.Origin,
		signal.Route.Destination,
		signal.WindowStart.Format(time.RFC3339),
		signal.WindowEnd.Format(time.RFC3339),
		string(signal.DemandLevel),
		searchVolume,
		signal.Basis,
		signal.ComputedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert demand signal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// LatestForRoute returns the most recently computed demand signal for a
// route, or nil when none exists.
func (s *DemandStorage) LatestForRoute(route market.Route) (*market.DemandSignal, error) {
	rows, err := s.db.Query(
		`SELECT id, origin, destination, window_start, window_end, demand_level, search_volume, basis, computed_at
		FROM demand_signals
		WHERE origin = ? AND destination = ?
		ORDER BY id DESC
		LIMIT 1`,
		route.Origin, route.Destination,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query demand for route: %w", err)
	}
	defer rows.Close()

	signals, err := s.scanDemandRows(rows)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, nil
	}
	return signals[0], nil
}

// LatestPerRoute returns the most recent demand signal for each route.
func (s *DemandStorage) LatestPerRoute(limit int) ([]*market.DemandSignal, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.Query(
		`SELECT ds.id, ds.origin, ds.destination, ds.window_start, ds.window_end, ds.demand_level, ds.search_volume, ds.basis, ds.computed_at
		FROM demand_signals ds
		JOIN (
			SELECT origin, destination, MAX(id) AS max_id
			FROM demand_signals
			GROUP BY origin, destination
		) latest ON ds.id = latest.max_id
		ORDER BY ds.window_start DESC, ds.origin, ds.destination
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest demand signals: %w", err)
	}
	defer rows.Close()

	return s.scanDemandRows(rows)
}

// LevelCount is one row of the demand-level distribution.
type LevelCount struct {
	Level market.DemandLevel `json:"level"`
	Count int                `json:"count"`
}

// Distribution returns how many routes sit at each demand level,
// counting only the latest signal per route.
func (s *DemandStorage) Distribution() ([]LevelCount, error) {
	rows, err := s.db.Query(
		`SELECT ds.demand_level, COUNT(*)
		FROM demand_signals ds
		JOIN (
			SELECT origin, destination, MAX(id) AS max_id
			FROM demand_signals
			GROUP BY origin, destination
		) latest ON ds.id = latest.max_id
		GROUP BY ds.demand_level
		ORDER BY ds.demand_level`)
	if err != nil {
		return nil, fmt.Errorf("failed to query demand distribution: %w", err)
	}
	defer rows.Close()

	var counts []LevelCount
	for rows.Next() {
		var lc LevelCount
		var level string
		if err := rows.Scan(&level, &lc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan demand distribution: %w", err)
		}
		lc.Level = market.DemandLevel(level)
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}

// scanDemandRows scans database rows into DemandSignal structs.
func (s *DemandStorage) scanDemandRows(rows *sql.Rows) ([]*market.DemandSignal, error) {
	var signals []*market.DemandSignal
	for rows.Next() {
		var signal market.DemandSignal
		var windowStart, windowEnd, level, computedAt string
		var searchVolume sql.NullInt64

		if err := rows.Scan(
			&signal.ID,
			&signal.Route.Origin,
			&signal.Route.Destination,
			&windowStart,
			&windowEnd,
			&level,
			&searchVolume,
			&signal.Basis,
			&computedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan demand signal: %w", err)
		}

		signal.DemandLevel = market.DemandLevel(level)
		if searchVolume.Valid {
			v := int(searchVolume.Int64)
			signal.SearchVolume = &v
		}

		var err error
		if signal.WindowStart, err = time.Parse(time.RFC3339, windowStart); err != nil {
			return nil, fmt.Errorf("failed to parse window_start: %w", err)
		}
		if signal.WindowEnd, err = time.Parse(time.RFC3339, windowEnd); err != nil {
			return nil, fmt.Errorf("failed to parse window_end: %w", err)
		}
		if signal.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
			return nil, fmt.Errorf("failed to parse computed_at: %w", err)
		}

		signals = append(signals, &signal)
	}

	return signals, rows.Err()
}
