package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// ObservationStorage handles storage of canonical flight observations.
type ObservationStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewObservationStorage creates a new SQLite observation storage.
func NewObservationStorage(db *sql.DB, logger *logger.Logger) *ObservationStorage {
	storage := &ObservationStorage{
		db:     db,
		logger: logger.Named("sqlite-observations"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize observation storage", Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *ObservationStorage) initDB() error {
	// Observations are immutable once stored; the UNIQUE constraint on
	// (source, provider_record_id) makes re-ingestion idempotent.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			provider_record_id TEXT NOT NULL,
			airline TEXT,
			flight_number TEXT,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			price TEXT NOT NULL,
			currency TEXT NOT NULL,
			flight_date TIMESTAMP NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			UNIQUE(source, provider_record_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_observations table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_observations_route ON flight_observations(origin, destination)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_flight_date ON flight_observations(flight_date)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON flight_observations(observed_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create observation index: %w", err)
		}
	}

	return nil
}

// InsertBatch stores a batch of observations inside one transaction.
// Duplicates (same source and provider record ID) are silently skipped;
// the returned count covers newly inserted rows only.
func (s *ObservationStorage) InsertBatch(observations []*market.FlightObservation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO flight_observations
		(source, provider_record_id, airline, flight_number, origin, destination, price, currency, flight_date, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, obs := range observations {
		result, err := stmt.Exec(
			string(obs.Source),
			obs.ProviderRecordID,
			obs.Airline,
			obs.FlightNumber,
			obs.Origin,
			obs.Destination,
			obs.Price.StringFixed(2),
			obs.Currency,
			obs.FlightDate.Format(time.RFC3339),
			obs.ObservedAt.Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert observation %s/%s: %w", obs.Source, obs.ProviderRecordID, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit observation batch: %w", err)
	}

	return inserted, nil
}

// ByRouteWindow returns all observations for a route whose flight date
// falls inside the window, in a deterministic order so repeated
// aggregation of an unchanged window is bit-identical.
func (s *ObservationStorage) ByRouteWindow(route market.Route, window market.Window) ([]*market.FlightObservation, error) {
	rows, err := s.db.Query(
		`SELECT id, source, provider_record_id, airline, flight_number, origin, destination, price, currency, flight_date, observed_at
		FROM flight_observations
		WHERE origin = ? AND destination = ? AND flight_date >= ? AND flight_date < ?
		ORDER BY flight_date ASC, id ASC`,
		route.Origin, route.Destination,
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations by route window: %w", err)
	}
	defer rows.Close()

	return s.scanObservationRows(rows)
}

// DistinctRoutes returns every route that has at least one observation.
func (s *ObservationStorage) DistinctRoutes() ([]market.Route, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT origin, destination FROM flight_observations ORDER BY origin, destination`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct routes: %w", err)
	}
	defer rows.Close()

	var routes []market.Route
	for rows.Next() {
		var r market.Route
		if err := rows.Scan(&r.Origin, &r.Destination); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// FlightDatesForRoute returns the distinct flight dates (bucketed by
// the caller) that exist for a route, oldest first.
func (s *ObservationStorage) FlightDatesForRoute(route market.Route) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT flight_date FROM flight_observations
		WHERE origin = ? AND destination = ?
		ORDER BY flight_date ASC`,
		route.Origin, route.Destination,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan flight date: %w", err)
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse flight date: %w", err)
		}
		dates = append(dates, t)
	}
	return dates, rows.Err()
}

// RouteVolume is one row of the popular-routes ranking.
type RouteVolume struct {
	Route       market.Route    `json:"route"`
	FlightCount int             `json:"flight_count"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
}

// PopularRoutes ranks routes by observation count.
func (s *ObservationStorage) PopularRoutes(limit int) ([]RouteVolume, error) {
	rows, err := s.db.Query(
		`SELECT origin, destination, COUNT(*) AS flight_count, ROUND(AVG(CAST(price AS REAL)), 2) AS avg_price
		FROM flight_observations
		GROUP BY origin, destination
		ORDER BY flight_count DESC, origin, destination
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular routes: %w", err)
	}
	defer rows.Close()

	var volumes []RouteVolume
	for rows.Next() {
		var v RouteVolume
		var avg float64
		if err := rows.Scan(&v.Route.Origin, &v.Route.Destination, &v.FlightCount, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan popular route: %w", err)
		}
		v.AvgPrice = decimal.NewFromFloat(avg).Round(2)
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// Totals returns the overall observation count and average price.
func (s *ObservationStorage) Totals() (int64, decimal.Decimal, error) {
	var count int64
	var avg sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT COUNT(*), AVG(CAST(price AS REAL)) FROM flight_observations`).Scan(&count, &avg)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("failed to query observation totals: %w", err)
	}
	avgPrice := decimal.Zero
	if avg.Valid {
		avgPrice = decimal.NewFromFloat(avg.Float64).Round(2)
	}
	return count, avgPrice, nil
}

// scanObservationRows scans database rows into FlightObservation structs.
func (s *ObservationStorage) scanObservationRows(rows *sql.Rows) ([]*market.FlightObservation, error) {
	var observations []*market.FlightObservation
	for rows.Next() {
		var obs market.FlightObservation
		var source, price, flightDate, observedAt string
		var airline, flightNumber sql.NullString

		if err := rows.Scan(
			&obs.ID,
			&source,
			&obs.ProviderRecordID,
			&airline,
			&flightNumber,
			&obs.Origin,
			&obs.Destination,
			&price,
			&obs.Currency,
			&flightDate,
			&observedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}

		obs.Source = market.Source(source)
		obs.Airline = airline.String
		obs.FlightNumber = flightNumber.String

		var err error
		obs.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored price: %w", err)
		}
		obs.FlightDate, err = time.Parse(time.RFC3339, flightDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse flight_date: %w", err)
		}
		obs.ObservedAt, err = time.Parse(time.RFC3339, observedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse observed_at: %w", err)
		}

		observations = append(observations, &obs)
	}

	return observations, rows.Err()
}
