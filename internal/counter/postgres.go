package counter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const (
	// rate and processed_value stay nullable; a missing rate is derived from
	// the counts instead of reading as a stopped machine.
	rangeSQL = `
	SELECT timestamp, device_id, channel, rate, processed_value, COALESCE(quality, '')
	FROM counter_data
	WHERE device_id = $1 AND channel = $2 AND timestamp >= $3 AND timestamp < $4
	ORDER BY timestamp`

	previousSQL = `
	SELECT timestamp, device_id, channel, rate, processed_value, COALESCE(quality, '')
	FROM counter_data
	WHERE device_id = $1 AND channel = $2 AND timestamp < $3
	ORDER BY timestamp DESC
	LIMIT 1`

	latestSQL = `
	SELECT timestamp, device_id, channel, rate, processed_value, COALESCE(quality, '')
	FROM counter_data
	WHERE device_id = $1 AND channel = $2
	ORDER BY timestamp DESC
	LIMIT 2`
)

// PostgresSource reads the counter_data table (a TimescaleDB hypertable in
// production) written by the edge loggers.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	errFactory := errors.New()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrCounterSource, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errFactory.Wrap(errors.ErrCounterSource, err)
	}

	log.Info().Str("source", "postgres").Msg("Counter data source connected")
	return &PostgresSource{pool: pool}, nil
}

func (p *PostgresSource) Range(ctx context.Context, deviceID string, channel int, from, to time.Time) ([]Reading, error) {
	rows, err := p.pool.Query(ctx, rangeSQL, deviceID, channel, from, to)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	raw, err := pgx.CollectRows(rows, scanRow)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	if len(raw) == 0 || raw[0].rate != nil {
		return toReadings(nil, raw), nil
	}

	// The first rate needs the row before the range.
	rows, err = p.pool.Query(ctx, previousSQL, deviceID, channel, from)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	prev, err := pgx.CollectOneRow(rows, scanRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return toReadings(nil, raw), nil
	}
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	return toReadings(&prev, raw), nil
}

func (p *PostgresSource) Latest(ctx context.Context, deviceID string, channel int) (*Reading, error) {
	rows, err := p.pool.Query(ctx, latestSQL, deviceID, channel)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	raw, err := pgx.CollectRows(rows, scanRow)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// Newest first from the query; the older row only feeds the rate.
	var prev *row
	if len(raw) > 1 {
		prev = &raw[1]
	}
	readings := toReadings(prev, raw[:1])
	return &readings[0], nil
}

// Ping reports whether the database is reachable.
func (p *PostgresSource) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresSource) Close() {
	p.pool.Close()
}

// row is one counter_data row before missing values are filled in.
type row struct {
	Reading
	rate      *float64
	processed *int64
}

func scanRow(r pgx.CollectableRow) (row, error) {
	var out row
	err := r.Scan(&out.Timestamp, &out.DeviceID, &out.Channel, &out.rate, &out.processed, &out.Quality)
	return out, err
}

// toReadings fills in missing values of rows (oldest first). A missing count
// repeats the previous one and a missing rate is derived from the counts.
// prev, when set, is the row just before rows and is not returned.
func toReadings(prev *row, rows []row) []Reading {
	all := rows
	if prev != nil {
		all = append([]row{*prev}, rows...)
	}

	readings := make([]Reading, len(all))
	known := make([]bool, len(all))
	for i, r := range all {
		readings[i] = r.Reading
		switch {
		case r.processed != nil:
			readings[i].ProcessedValue = *r.processed
		case i > 0:
			readings[i].ProcessedValue = readings[i-1].ProcessedValue
		}
		if r.rate != nil {
			readings[i].Rate = *r.rate
			known[i] = true
		}
	}
	DeriveRates(readings, known, DefaultRateWindow)

	if prev != nil {
		readings = readings[1:]
	}
	return readings
}
