package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-relay/internal/apperr"
	"gps-relay/internal/model"
	"gps-relay/internal/store/pgstore/migrations"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	assert.Contains(t, files, "00001_init.sql")

	data, err := fs.ReadFile(migrations.FS, "00001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"devices", "sessions", "gps_points", "raw_points"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestRunMigrations_UsesEmbeddedDir(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, RunMigrations(context.Background(), nil))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.Error(t, RunMigrations(context.Background(), nil))
}

func TestSessionIDsMustBeNumeric(t *testing.T) {
	s := &Store{}
	err := s.CloseSession(context.Background(), "not-a-number", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStore))

	err = s.InsertPoint(context.Background(), model.GPSPoint{SessionID: "x"})
	assert.True(t, errors.Is(err, apperr.ErrStore))
}
