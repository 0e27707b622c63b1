package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// SummaryStorage handles storage of route summaries. Summaries are
// append-only: recomputation inserts a new row and reads pick the
// latest per (route, window), preserving historical snapshots.
type SummaryStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSummaryStorage creates a new SQLite summary storage.
func NewSummaryStorage(db *sql.DB, logger *logger.Logger) *SummaryStorage {
	storage := &SummaryStorage{
		db:     db,
		logger: logger.Named("sqlite-summaries"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize summary storage", Error(err))
	}

	return storage
}

func (s *SummaryStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS route_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			avg_price TEXT NOT NULL,
			min_price TEXT NOT NULL,
			max_price TEXT NOT NULL,
			flight_count INTEGER NOT NULL,
			price_trend TEXT NOT NULL,
			computed_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create route_summaries table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_summaries_route_window ON route_summaries(origin, destination, window_start)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_computed_at ON route_summaries(computed_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create summary index: %w", err)
		}
	}

	return nil
}

// Insert stores a summary row and returns its ID.
func (s *SummaryStorage) Insert(summary *market.RouteSummary) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO route_summaries
		(origin, destination, window_start, window_end, avg_price, min_price, max_price, flight_count, price_trend, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.Route.Origin,
		summary.Route.Destination,
		summary.WindowStart.Format(time.RFC3339),
		summary.WindowEnd.Format(time.RFC3339),
		summary.AvgPrice.StringFixed(2),
		summary.MinPrice.StringFixed(2),
		summary.MaxPrice.StringFixed(2),
		summary.FlightCount,
		string(summary.PriceTrend),
		summary.ComputedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert summary: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// LatestForWindow returns the most recently computed summary for the
// given route and window start, or nil when none exists.
func (s *SummaryStorage) LatestForWindow(route market.Route, windowStart time.Time) (*market.RouteSummary, error) {
	rows, err := s.db.Query(
		selectSummary+`
		WHERE origin = ? AND destination = ? AND window_start = ?
		ORDER BY id DESC
		LIMIT 1`,
		route.Origin, route.Destination, windowStart.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary for window: %w", err)
	}
	defer rows.Close()

	summaries, err := s.scanSummaryRows(rows)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	return summaries[0], nil
}

// LatestPerRoute returns the most recently computed summary for each
// route, newest window first. Append-only rows mean the highest ID per
// route is the latest computation.
func (s *SummaryStorage) LatestPerRoute(limit int) ([]*market.RouteSummary, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.Query(
		`SELECT rs.id, rs.origin, rs.destination, rs.window_start, rs.window_end, rs.avg_price, rs.min_price, rs.max_price, rs.flight_count, rs.price_trend, rs.computed_at
		FROM route_summaries rs
		JOIN (
			SELECT origin, destination, MAX(id) AS max_id
			FROM route_summaries
			GROUP BY origin, destination
		) latest ON rs.id = latest.max_id
		ORDER BY rs.window_start DESC, rs.origin, rs.destination
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest summaries: %w", err)
	}
	defer rows.Close()

	return s.scanSummaryRows(rows)
}

// ByRouteRange returns the latest summary per window for a route within
// [from, to), oldest window first.
func (s *SummaryStorage) ByRouteRange(route market.Route, from, to time.Time) ([]*market.RouteSummary, error) {
	rows, err := s.db.Query(
		`SELECT rs.id, rs.origin, rs.destination, rs.window_start, rs.window_end, rs.avg_price, rs.min_price, rs.max_price, rs.flight_count, rs.price_trend, rs.computed_at
		FROM route_summaries rs
		JOIN (
			SELECT window_start, MAX(id) AS max_id
			FROM route_summaries
			WHERE origin = ? AND destination = ? AND window_start >= ? AND window_start < ?
			GROUP BY window_start
		) latest ON rs.id = latest.max_id
		ORDER BY rs.window_start ASC`,
		route.Origin, route.Destination,
		from.Format(time.RFC3339), to.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries by route range: %w", err)
	}
	defer rows.Close()

	return s.scanSummaryRows(rows)
}

// ByIDs returns summaries by primary key, in ID order.
func (s *SummaryStorage) ByIDs(ids []int64) ([]*market.RouteSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := selectSummary + ` WHERE id IN (`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += `) ORDER BY id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries by IDs: %w", err)
	}
	defer rows.Close()

	return s.scanSummaryRows(rows)
}

const selectSummary = `SELECT id, origin, destination, window_start, window_end, avg_price, min_price, max_price, flight_count, price_trend, computed_at
	FROM route_summaries`

// scanSummaryRows scans database rows into RouteSummary structs.
func (s *SummaryStorage) scanSummaryRows(rows *sql.Rows) ([]*market.RouteSummary, error) {
	var summaries []*market.RouteSummary
	for rows.Next() {
		var summary market.RouteSummary
		var windowStart, windowEnd, avgPrice, minPrice, maxPrice, trend, computedAt string

		if err := rows.Scan(
			&summary.ID,
			&summary.Route.Origin,
			&summary.Route.Destination,
			&windowStart,
			&windowEnd,
			&avgPrice,
			&minPrice,
			&maxPrice,
			&summary.FlightCount,
			&trend,
			&computedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		summary.PriceTrend = market.PriceTrend(trend)

		var err error
		if summary.WindowStart, err = time.Parse(time.RFC3339, windowStart); err != nil {
			return nil, fmt.Errorf("failed to parse window_start: %w", err)
		}
		if summary.WindowEnd, err = time.Parse(time.RFC3339, windowEnd); err != nil {
			return nil, fmt.Errorf("failed to parse window_end: %w", err)
		}
		if summary.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
			return nil, fmt.Errorf("failed to parse computed_at: %w", err)
		}
		if summary.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("failed to parse avg_price: %w", err)
		}
		if summary.MinPrice, err = decimal.NewFromString(minPrice); err != nil {
			return nil, fmt.Errorf("failed to parse min_price: %w", err)
		}
		if summary.MaxPrice, err = decimal.NewFromString(maxPrice); err != nil {
			return nil, fmt.Errorf("failed to parse max_price: %w", err)
		}

		summaries = append(summaries, &summary)
	}

	return summaries, rows.Err()
}
