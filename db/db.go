package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/gobuffalo/packr/v2"
	"github.com/hermeznetwork/tracerr"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	// PoolMigrationName is the name of the migrations of the pool db
	PoolMigrationName = "zkevm-txqueue-pool-db"
)

var packrMigrations = map[string]*packr.Box{
	PoolMigrationName: packr.New(PoolMigrationName, "./migrations/pool"),
}

// NewSQLDB creates a new SQL DB
func NewSQLDB(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=%d", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.MaxConns))
	if err != nil {
		log.Errorf("unable to parse DB config: %v", err)
		return nil, err
	}
	if cfg.EnableLog {
		config.ConnConfig.Logger = logger{}
	}
	conn, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		log.Errorf("unable to connect to database: %v", err)
		return nil, err
	}
	return conn, nil
}

// RunMigrationsUp runs migrate-up for the given config.
func RunMigrationsUp(cfg Config, name string) error {
	log.Info("running migrations up")
	return runMigrations(cfg, name, migrate.Up)
}

// CheckMigrations checks that every migration has been applied to the db
func CheckMigrations(cfg Config, name string) error {
	return checkMigrations(cfg, name)
}

// RunMigrationsDown runs migrate-down for the given config.
func RunMigrationsDown(cfg Config, name string) error {
	log.Info("running migrations down")
	return runMigrations(cfg, name, migrate.Down)
}

func openDB(cfg Config) (*sql.DB, error) {
	c, err := pgx.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s:%s/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name))
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*c), nil
}

func migrationSource(name string) (*migrate.PackrMigrationSource, error) {
	box, ok := packrMigrations[name]
	if !ok {
		return nil, fmt.Errorf("packr box not found with name: %v", name)
	}
	return &migrate.PackrMigrationSource{Box: box}, nil
}

// runMigrations will execute pending migrations if needed to keep
// the database updated with the latest changes in either direction,
// up or down.
func runMigrations(cfg Config, name string, direction migrate.MigrationDirection) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := migrationSource(name)
	if err != nil {
		return err
	}
	nMigrations, err := migrate.Exec(db, "postgres", migrations, direction)
	if err != nil {
		return tracerr.Wrap(err)
	}

	log.Infof("successfully ran %d migrations", nMigrations)
	return nil
}

func checkMigrations(cfg Config, name string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := migrationSource(name)
	if err != nil {
		return err
	}
	found, err := migrations.FindMigrations()
	if err != nil {
		return tracerr.Wrap(err)
	}

	var applied int
	err = db.QueryRow("SELECT COUNT(1) FROM gorp_migrations").Scan(&applied)
	if err != nil {
		return tracerr.Wrap(err)
	}
	if applied != len(found) {
		return fmt.Errorf("error the component needs to run %d migrations before starting. DB only contains %d migrations", len(found), applied)
	}
	log.Infof("%d migrations applied to the pool db", applied)
	return nil
}

type logger struct{}

func (l logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	m := fmt.Sprintf("%s %v", msg, data)

	switch level {
	case pgx.LogLevelInfo:
		log.Info(m)
	case pgx.LogLevelWarn:
		log.Warn(m)
	case pgx.LogLevelError:
		log.Error(m)
	default:
		m = fmt.Sprintf("[%s] %s", level.String(), m)
		log.Debug(m)
	}
}
