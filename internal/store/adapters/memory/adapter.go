// Package memory implementa un adapter en memoria.
// Útil para desarrollo, tests y despliegues de un solo proceso sin durabilidad.
// Todas las operaciones compare-and-set se resuelven bajo un único mutex.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return New(), nil
}

// Conn es una conexión en memoria. Cada Conn es un almacenamiento aislado.
type Conn struct {
	mu sync.Mutex

	users       map[string]*repository.User         // id -> user
	usernames   map[string]string                   // username -> id
	records     map[string]*repository.OpaqueRecord // username -> record
	credentials map[string]*repository.Credential
	sessions    map[string]*repository.Session
	devices     map[string]*repository.Device
	recovery    map[string]*repository.RecoveryMaterial
	backups     map[string][]repository.KeyBackup // userID -> backups
	throttle    map[string]*throttleEntry
	audit       map[string][]repository.AuditEvent // userID -> chain
	closed      bool
}

// New crea una conexión en memoria vacía.
func New() *Conn {
	return &Conn{
		users:       make(map[string]*repository.User),
		usernames:   make(map[string]string),
		records:     make(map[string]*repository.OpaqueRecord),
		credentials: make(map[string]*repository.Credential),
		sessions:    make(map[string]*repository.Session),
		devices:     make(map[string]*repository.Device),
		recovery:    make(map[string]*repository.RecoveryMaterial),
		backups:     make(map[string][]repository.KeyBackup),
		throttle:    make(map[string]*throttleEntry),
		audit:       make(map[string][]repository.AuditEvent),
	}
}

func (c *Conn) Name() string                   { return "memory" }
func (c *Conn) Ping(ctx context.Context) error { return nil }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Users() repository.UserRepository             { return (*userRepo)(c) }
func (c *Conn) Credentials() repository.CredentialRepository { return (*credentialRepo)(c) }
func (c *Conn) Sessions() repository.SessionRepository       { return (*sessionRepo)(c) }
func (c *Conn) Devices() repository.DeviceRepository         { return (*deviceRepo)(c) }
func (c *Conn) Recovery() repository.RecoveryRepository      { return (*recoveryRepo)(c) }
func (c *Conn) Throttle() repository.ThrottleRepository      { return (*throttleRepo)(c) }
func (c *Conn) Audit() repository.AuditRepository            { return (*auditRepo)(c) }

var _ store.AdapterConnection = (*Conn)(nil)
