// Package sqlite implementa el adapter SQLite (modernc, sin cgo).
// Pensado para despliegues de un nodo donde el throttling y la cadena de
// auditoría deben sobrevivir reinicios sin un Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/store"
	sqlitemigrations "github.com/dropDatabas3/vaultcore/migrations/sqlite"
)

func init() {
	store.RegisterAdapter(&sqliteAdapter{})
}

type sqliteAdapter struct{}

func (a *sqliteAdapter) Name() string { return "sqlite" }

func (a *sqliteAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return Open(ctx, cfg.DSN, cfg.AutoMigrate)
}

// Conn es una conexión SQLite.
type Conn struct {
	db *sql.DB
}

// Open abre (o crea) la base en path. Con migrate=true aplica las migraciones embebidas.
func Open(ctx context.Context, path string, migrate bool) (*Conn, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	c := &Conn{db: db}
	if migrate {
		if err := c.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewWithDB envuelve un *sql.DB existente (tests con sqlmock).
func NewWithDB(db *sql.DB) *Conn { return &Conn{db: db} }

// Migrate aplica las migraciones pendientes.
func (c *Conn) Migrate(ctx context.Context) error {
	m := store.NewMigrator(sqlitemigrations.FS, sqlitemigrations.Dir, "sqlite")
	if _, err := m.Run(ctx, c.db); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (c *Conn) Name() string                   { return "sqlite" }
func (c *Conn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }
func (c *Conn) Close() error                   { return c.db.Close() }

func (c *Conn) Users() repository.UserRepository             { return &userRepo{db: c.db} }
func (c *Conn) Credentials() repository.CredentialRepository { return &credentialRepo{db: c.db} }
func (c *Conn) Sessions() repository.SessionRepository       { return &sessionRepo{db: c.db} }
func (c *Conn) Devices() repository.DeviceRepository         { return &deviceRepo{db: c.db} }
func (c *Conn) Recovery() repository.RecoveryRepository      { return &recoveryRepo{db: c.db} }
func (c *Conn) Throttle() repository.ThrottleRepository      { return &throttleRepo{db: c.db} }
func (c *Conn) Audit() repository.AuditRepository            { return &auditRepo{db: c.db} }

var _ store.AdapterConnection = (*Conn)(nil)

// ─── helpers ───

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func ptrFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func joinList(v []string) string { return strings.Join(v, ",") }

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
