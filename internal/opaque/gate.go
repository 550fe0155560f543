package opaque

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Gate garantiza que por username sólo un login en curso pueda terminar.
// Begin reemplaza al intento anterior (que luego falla en Commit); usernames
// distintos nunca se esperan entre sí más allá del mutex de la tabla.
type Gate struct {
	mu      sync.Mutex
	tickets *gocache.Cache
	seq     atomic.Uint64
	ttl     time.Duration
	now     func() time.Time
}

type ticket struct {
	id    uint64
	begun time.Time
}

// NewGate crea un gate cuyos tickets vencen a los ttl.
func NewGate(ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Gate{
		tickets: gocache.New(ttl, ttl),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Begin abre un intento para username e invalida el anterior.
func (g *Gate) Begin(username string) uint64 {
	id := g.seq.Add(1)
	g.mu.Lock()
	g.tickets.Set(username, ticket{id: id, begun: g.now()}, g.ttl)
	g.mu.Unlock()
	return id
}

// Commit consume el ticket si sigue siendo el vigente y no venció.
// Un segundo Commit con el mismo id devuelve false.
func (g *Gate) Commit(username string, id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.tickets.Get(username)
	if !ok {
		return false
	}
	t := v.(ticket)
	if t.id != id || g.now().Sub(t.begun) > g.ttl {
		return false
	}
	g.tickets.Delete(username)
	return true
}

// Release libera el ticket si todavía es el vigente (intento fallido).
func (g *Gate) Release(username string, id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.tickets.Get(username); ok && v.(ticket).id == id {
		g.tickets.Delete(username)
	}
}

// Pending cuenta intentos abiertos (métricas/tests).
func (g *Gate) Pending() int { return g.tickets.ItemCount() }
