// Package meterdb stores every published reading in SQLite, one row per
// measurement.
package meterdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/d21d3q/gosmartmeter/internal/obis"
	"github.com/d21d3q/gosmartmeter/internal/sink"
	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when no row matches a query.
var ErrNotFound = errors.New("meterdb: no measurement stored")

// Row is one stored measurement.
type Row struct {
	At          time.Time
	SystemTitle string
	Counter     uint32
	Measurement gosmartmeter.Measurement
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")
	logrus.WithField("path", path).Debug("measurement store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "meterdb" }

// Publish inserts every measurement of r in a single transaction.
func (s *Store) Publish(ctx context.Context, r sink.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO measurements (timestamp, system_title, counter, kind, value, text) "+
			"VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := r.At.Unix()
	for _, m := range r.Values.All() {
		var value, text any
		if m.IsText() {
			text = m.Text
		} else {
			value = m.Value
		}
		if _, err := stmt.ExecContext(ctx, ts, r.SystemTitle, int64(r.Counter), m.Kind.String(), value, text); err != nil {
			return fmt.Errorf("insert %s: %w", m.Kind, err)
		}
	}
	return tx.Commit()
}

// Latest returns the most recent row of kind.
func (s *Store) Latest(ctx context.Context, kind gosmartmeter.MeasurementKind) (Row, error) {
	rows, err := s.query(ctx,
		"SELECT timestamp, system_title, counter, kind, value, text FROM measurements "+
			"WHERE kind = ? ORDER BY timestamp DESC, id DESC LIMIT 1", kind.String())
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	return rows[0], nil
}

// History returns rows of kind at or after since, oldest first.
func (s *Store) History(ctx context.Context, kind gosmartmeter.MeasurementKind, since time.Time) ([]Row, error) {
	return s.query(ctx,
		"SELECT timestamp, system_title, counter, kind, value, text FROM measurements "+
			"WHERE kind = ? AND timestamp >= ? ORDER BY timestamp ASC, id ASC", kind.String(), since.Unix())
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			ts      int64
			title   string
			counter int64
			kind    string
			value   sql.NullFloat64
			text    sql.NullString
		)
		if err := rows.Scan(&ts, &title, &counter, &kind, &value, &text); err != nil {
			return nil, err
		}
		k, err := gosmartmeter.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		m := gosmartmeter.Measurement{Kind: k, Value: value.Float64, Text: text.String}
		if code, ok := obis.CodeFor(k); ok {
			m.Code = code
		}
		out = append(out, Row{
			At:          time.Unix(ts, 0).UTC(),
			SystemTitle: title,
			Counter:     uint32(counter),
			Measurement: m,
		})
	}
	return out, rows.Err()
}
