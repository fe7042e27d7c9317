// Package db stores the history of finished repeats in Postgres.
package db

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import Postgres driver.
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const (
	maxOpenConns   = 8
	connectTries   = 15
	connectBackoff = 4 * time.Second
)

// PgDB represents a Postgres database connection. Queries go through sqlx; inserts and schema
// changes go through bun over the same pool.
type PgDB struct {
	sql *sqlx.DB
	bun *bun.DB
}

// ConnectPostgres connects to a Postgres database, retrying while it comes up.
func ConnectPostgres(ctx context.Context, url string) (*PgDB, error) {
	numTries := 0
	for {
		sql, err := sqlx.ConnectContext(ctx, "pgx", url)
		if err == nil {
			return &PgDB{sql: sql, bun: bun.NewDB(sql.DB, pgdialect.New())}, nil
		}
		numTries++
		if numTries >= connectTries {
			return nil, errors.Wrapf(err, "could not connect to database after %v tries", numTries)
		}
		log.WithError(err).Warnf("failed to connect to postgres, trying again in %s", connectBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
}

// Setup connects to the database described by c and creates the schema.
func Setup(ctx context.Context, c Config) (*PgDB, error) {
	log.Infof("connecting to database %s:%s", c.Host, c.Port)
	db, err := ConnectPostgres(ctx, c.URL())
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to database: %s:%s", c.Host, c.Port)
	}
	db.sql.SetMaxOpenConns(maxOpenConns)
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables that do not exist yet.
func (db *PgDB) Migrate(ctx context.Context) error {
	_, err := db.bun.NewCreateTable().Model((*Run)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "creating training_runs")
	}
	_, err = db.bun.NewCreateIndex().Model((*Run)(nil)).IfNotExists().
		Index("training_runs_plan_idx").Column("plan").Exec(ctx)
	return errors.Wrap(err, "indexing training_runs")
}

// Bun returns the bun handle of the pool.
func (db *PgDB) Bun() *bun.DB {
	return db.bun
}

// Close closes the underlying connection pool.
func (db *PgDB) Close() error {
	return db.sql.Close()
}
