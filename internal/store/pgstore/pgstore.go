// Package pgstore implements store.Store directly on Postgres through the
// pgx database/sql driver. The schema is managed with embedded goose
// migrations.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"gps-relay/internal/apperr"
	"gps-relay/internal/metrics"
	"gps-relay/internal/model"
	"gps-relay/internal/store/pgstore/migrations"
)

const backendName = "postgres"

// DBTX is the subset of database/sql used by the store. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	sqlDB   *sql.DB
	db      DBTX
	timeout time.Duration
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Open connects, verifies the connection and applies pending migrations.
// timeout bounds every store call.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return New(db, timeout), nil
}

func New(db *sql.DB, timeout time.Duration) *Store {
	return &Store{sqlDB: db, db: db, timeout: timeout}
}

// call runs fn under the store timeout and records its duration.
func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreRequestDuration.WithLabelValues(backendName, op, result).Observe(time.Since(start).Seconds())
	return apperr.Store(op, err)
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (model.Device, bool, error) {
	var (
		d     model.Device
		found bool
	)
	err := s.call(ctx, "get_device", func(ctx context.Context) error {
		const query = `SELECT device_id, status, user_id, pair_code, pair_expires_at, last_seen_at, is_recording
			FROM devices WHERE device_id = $1`

		var (
			status   string
			userID   sql.NullString
			pairCode sql.NullString
			expires  sql.NullTime
		)
		err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&d.DeviceID, &status, &userID, &pairCode, &expires, &d.LastSeenAt, &d.IsRecording)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		d.Status = model.DeviceStatus(status)
		d.UserID = nullString(userID)
		d.PairCode = nullString(pairCode)
		if expires.Valid {
			t := expires.Time
			d.PairExpiresAt = &t
		}
		return nil
	})
	return d, found, err
}

func (s *Store) CreateDevice(ctx context.Context, d model.Device) error {
	return s.call(ctx, "create_device", func(ctx context.Context) error {
		const query = `INSERT INTO devices (device_id, status, user_id, pair_code, pair_expires_at, last_seen_at, is_recording)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := s.db.ExecContext(ctx, query, d.DeviceID, string(d.Status), d.UserID, d.PairCode, d.PairExpiresAt, d.LastSeenAt, d.IsRecording)
		return err
	})
}

func (s *Store) UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) error {
	return s.call(ctx, "update_device", func(ctx context.Context) error {
		const query = `UPDATE devices SET
				last_seen_at = $2,
				pair_code = COALESCE($3, pair_code),
				pair_expires_at = COALESCE($4, pair_expires_at),
				is_recording = COALESCE($5, is_recording)
			WHERE device_id = $1`
		_, err := s.db.ExecContext(ctx, query, deviceID, patch.LastSeenAt, patch.PairCode, patch.PairExpiresAt, patch.IsRecording)
		return err
	})
}

func (s *Store) ListOpenSessions(ctx context.Context, deviceID string) ([]model.Session, error) {
	sessions := make([]model.Session, 0)
	err := s.call(ctx, "list_open_sessions", func(ctx context.Context) error {
		const query = `SELECT id, device_id, user_id, started_at
			FROM sessions WHERE device_id = $1 AND ended_at IS NULL
			ORDER BY started_at, id`
		rows, err := s.db.QueryContext(ctx, query, deviceID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id   int64
				sess model.Session
			)
			if err := rows.Scan(&id, &sess.DeviceID, &sess.UserID, &sess.StartedAt); err != nil {
				return err
			}
			sess.ID = strconv.FormatInt(id, 10)
			sessions = append(sessions, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) (string, error) {
	var id int64
	err := s.call(ctx, "create_session", func(ctx context.Context) error {
		const query = `INSERT INTO sessions (device_id, user_id, started_at) VALUES ($1, $2, $3) RETURNING id`
		return s.db.QueryRowContext(ctx, query, sess.DeviceID, sess.UserID, sess.StartedAt).Scan(&id)
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return apperr.Store("close_session", fmt.Errorf("invalid session id %q", sessionID))
	}
	return s.call(ctx, "close_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = $2 WHERE id = $1`, id, endedAt)
		return err
	})
}

func (s *Store) InsertPoint(ctx context.Context, p model.GPSPoint) error {
	sessionID, err := strconv.ParseInt(p.SessionID, 10, 64)
	if err != nil {
		return apperr.Store("insert_point", fmt.Errorf("invalid session id %q", p.SessionID))
	}
	return s.call(ctx, "insert_point", func(ctx context.Context) error {
		const query = `INSERT INTO gps_points (session_id, latitude, longitude, altitude, speed) VALUES ($1, $2, $3, $4, $5)`
		_, err := s.db.ExecContext(ctx, query, sessionID, p.Latitude, p.Longitude, p.Altitude, p.Speed)
		return err
	})
}

func (s *Store) InsertRawPoint(ctx context.Context, p model.RawPoint) error {
	return s.call(ctx, "insert_raw_point", func(ctx context.Context) error {
		const query = `INSERT INTO raw_points (device_id, lat, lon, alt_m, spd_kmh, course_deg, t_ms, hour, min, sec, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := s.db.ExecContext(ctx, query, p.DeviceID, p.Latitude, p.Longitude, p.AltM, p.SpdKmh, p.CourseDeg, p.TMs, p.Hour, p.Min, p.Sec, p.ReceivedAt)
		return err
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", func(ctx context.Context) error {
		return s.sqlDB.PingContext(ctx)
	})
}

func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
