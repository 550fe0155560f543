// Package store abre el almacenamiento persistente de vaultcore.
//
// Cada driver se registra en su init() y se elige por nombre desde la config:
//
//	import _ "github.com/dropDatabas3/vaultcore/internal/store/adapters/sqlite"
//	conn, err := store.OpenAdapter(ctx, store.AdapterConfig{Name: "sqlite", DSN: "vault.db"})
//
// Hay un único handle por proceso; se inyecta en cada componente y se cierra
// en el shutdown.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

// Adapter es un driver de almacenamiento.
type Adapter interface {
	Name() string
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection es el handle abierto. Los repositorios comparten la
// misma conexión y sus escrituras concurrentes se resuelven con
// compare-and-set (repository.ErrPreconditionFailed).
type AdapterConnection interface {
	Name() string
	Ping(ctx context.Context) error
	Close() error

	Users() repository.UserRepository
	Credentials() repository.CredentialRepository
	Sessions() repository.SessionRepository
	Devices() repository.DeviceRepository
	Recovery() repository.RecoveryRepository
	Throttle() repository.ThrottleRepository
	Audit() repository.AuditRepository
}

// AdapterConfig viene de storage.* en la config.
type AdapterConfig struct {
	Name string // "postgres" | "sqlite" | "memory"
	DSN  string // path del archivo en sqlite

	MaxOpenConns int
	MaxIdleConns int

	// AutoMigrate aplica las migraciones embebidas al conectar.
	AutoMigrate bool
}

var drivers = struct {
	sync.RWMutex
	m map[string]Adapter
}{m: map[string]Adapter{}}

// RegisterAdapter se llama desde el init() de cada driver; un nombre
// duplicado es un error de programación.
func RegisterAdapter(a Adapter) {
	drivers.Lock()
	defer drivers.Unlock()
	name := strings.ToLower(a.Name())
	if _, dup := drivers.m[name]; dup {
		panic(fmt.Sprintf("store: adapter %q already registered", name))
	}
	drivers.m[name] = a
}

// Registered devuelve los nombres de drivers disponibles, ordenados.
func Registered() []string {
	drivers.RLock()
	defer drivers.RUnlock()
	names := make([]string, 0, len(drivers.m))
	for n := range drivers.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenAdapter conecta con el driver cfg.Name.
func OpenAdapter(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	drivers.RLock()
	a, ok := drivers.m[strings.ToLower(cfg.Name)]
	drivers.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown adapter %q (available: %s)", cfg.Name, strings.Join(Registered(), ", "))
	}
	conn, err := a.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", a.Name(), err)
	}
	return conn, nil
}
