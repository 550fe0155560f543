package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

func TestLockStripesAreBounded(t *testing.T) {
	l := New(memory.New().Audit())
	for i := 0; i < 10000; i++ {
		unlock := l.lock(fmt.Sprintf("subject-%d", i))
		unlock()
	}
	assert.Len(t, l.locks, lockStripes)

	// el mismo subject cae siempre en la misma franja
	unlock := l.lock("alice")
	assert.False(t, l.locks[stripe("alice")].TryLock())
	unlock()
	assert.True(t, l.locks[stripe("alice")].TryLock())
	l.locks[stripe("alice")].Unlock()
}
