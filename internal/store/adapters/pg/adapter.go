// Package pg implementa el adapter PostgreSQL.
// Usa pgxpool directamente; las migraciones corren sobre database/sql vía pgx/stdlib.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/store"
	pgmigrations "github.com/dropDatabas3/vaultcore/migrations/postgres"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	// Configurar pool
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	// Verificar conexión
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	c := &Conn{pool: pool}
	if cfg.AutoMigrate {
		if err := c.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return c, nil
}

// querier es lo que los repos usan del pool. *pgxpool.Pool lo cumple, y
// también pgxmock en los tests.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ querier = (*pgxpool.Pool)(nil)

// Conn representa una conexión activa a PostgreSQL.
type Conn struct {
	pool *pgxpool.Pool
}

// Migrate aplica las migraciones embebidas.
func (c *Conn) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(c.pool)
	defer db.Close()
	m := store.NewMigrator(pgmigrations.FS, pgmigrations.Dir, "postgres")
	if _, err := m.Run(ctx, db); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

func (c *Conn) Name() string                   { return "postgres" }
func (c *Conn) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }
func (c *Conn) Close() error                   { c.pool.Close(); return nil }

func (c *Conn) Users() repository.UserRepository             { return &userRepo{pool: c.pool} }
func (c *Conn) Credentials() repository.CredentialRepository { return &credentialRepo{pool: c.pool} }
func (c *Conn) Sessions() repository.SessionRepository       { return &sessionRepo{pool: c.pool} }
func (c *Conn) Devices() repository.DeviceRepository         { return &deviceRepo{pool: c.pool} }
func (c *Conn) Recovery() repository.RecoveryRepository      { return &recoveryRepo{pool: c.pool} }
func (c *Conn) Throttle() repository.ThrottleRepository      { return &throttleRepo{pool: c.pool} }
func (c *Conn) Audit() repository.AuditRepository            { return &auditRepo{pool: c.pool} }

var _ store.AdapterConnection = (*Conn)(nil)

// ─── helpers ───

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func joinList(v []string) string { return strings.Join(v, ",") }

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
