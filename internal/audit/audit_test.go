package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/email"
	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []email.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a email.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func seed(t *testing.T, l *audit.Log, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.LogEvent(context.Background(), user, audit.EventSessionCreated, map[string]any{"n": i})
		require.NoError(t, err)
	}
}

func TestChain_ValidAfterNEvents(t *testing.T) {
	conn := memory.New()
	l := audit.New(conn.Audit())
	seed(t, l, "u1", 25)

	v, err := l.VerifyChainIntegrity(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(-1), v.BrokenAt)
	assert.Equal(t, int64(25), v.Checked)
}

func TestChain_EmptyIsValid(t *testing.T) {
	l := audit.New(memory.New().Audit())
	v, err := l.VerifyChainIntegrity(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestChain_FirstEventUsesGenesis(t *testing.T) {
	l := audit.New(memory.New().Audit())
	e, err := l.LogEvent(context.Background(), "u1", audit.EventUserRegistered, nil)
	require.NoError(t, err)
	assert.Equal(t, audit.GenesisHash, e.PreviousHash)
	assert.Equal(t, int64(0), e.Seq)

	e2, err := l.LogEvent(context.Background(), "u1", audit.EventLoginSucceeded, nil)
	require.NoError(t, err)
	assert.Equal(t, e.IntegrityHash, e2.PreviousHash)
}

func TestChain_MutationReportsExactPosition(t *testing.T) {
	for _, pos := range []int64{0, 3, 9} {
		conn := memory.New()
		alerts := &recordingAlerter{}
		l := audit.New(conn.Audit(), audit.WithAlerter(alerts))
		seed(t, l, "u1", 10)

		ok := conn.UnsafeTamperAuditForTests("u1", pos, func(e *repository.AuditEvent) {
			e.Details = []byte(`{"n":999}`)
		})
		require.True(t, ok)

		v, err := l.VerifyChainIntegrity(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, pos, v.BrokenAt, "pos %d", pos)

		// la detección se auto-reporta: evento critical + alerta
		last, err := conn.Audit().Last(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, audit.EventTamperDetected, last.Type)
		assert.Equal(t, audit.SeverityCritical, last.Severity)
		require.Len(t, alerts.alerts, 1)
		assert.Equal(t, audit.EventTamperDetected, alerts.alerts[0].Kind)
	}
}

func TestChain_DeletionDetected(t *testing.T) {
	conn := memory.New()
	l := audit.New(conn.Audit(), audit.WithAlerter(&recordingAlerter{}))
	seed(t, l, "u1", 6)

	require.True(t, conn.UnsafeDeleteAuditForTests("u1", 2))

	v, err := l.VerifyChainIntegrity(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, int64(2), v.BrokenAt)
}

func TestChain_ConcurrentAppendsStayLinear(t *testing.T) {
	conn := memory.New()
	l := audit.New(conn.Audit())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.LogEvent(context.Background(), "u1", audit.EventSessionCreated, map[string]any{"i": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, err := l.VerifyChainIntegrity(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(20), v.Checked)
}

// slowRepo agrega latencia a Last, como un round-trip a la base.
type slowRepo struct {
	repository.AuditRepository
	delay   time.Duration
	appends atomic.Int32
	failing error
}

func (r *slowRepo) Last(ctx context.Context, userID string) (*repository.AuditEvent, error) {
	time.Sleep(r.delay)
	return r.AuditRepository.Last(ctx, userID)
}

func (r *slowRepo) Append(ctx context.Context, e *repository.AuditEvent) error {
	r.appends.Add(1)
	if r.failing != nil {
		return r.failing
	}
	return r.AuditRepository.Append(ctx, e)
}

func TestChain_TwoInstancesSharingStoreLoseNothing(t *testing.T) {
	repo := &slowRepo{AuditRepository: memory.New().Audit(), delay: 2 * time.Millisecond}
	a, b := audit.New(repo), audit.New(repo)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for i := 0; i < 100; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func(l *audit.Log, i int) {
			defer wg.Done()
			if _, err := l.LogEvent(context.Background(), "u1", audit.EventLoginFailed, map[string]any{"i": i}); err != nil {
				failed.Add(1)
			}
		}(l, i)
	}
	wg.Wait()
	assert.Zero(t, failed.Load())

	v, err := a.VerifyChainIntegrity(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(100), v.Checked)
}

func TestLogEvent_StoreErrorIsNotRetried(t *testing.T) {
	repo := &slowRepo{AuditRepository: memory.New().Audit(), failing: errors.New("disk full")}
	_, err := audit.New(repo).LogEvent(context.Background(), "u1", audit.EventLoginFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int32(1), repo.appends.Load())
}

func TestLogEvent_ScrubsPII(t *testing.T) {
	l := audit.New(memory.New().Audit())
	e, err := l.LogEvent(context.Background(), "u1", audit.EventLoginFailed, map[string]any{
		"password": "P@ssw0rd1!",
		"reason":   "INVALID_CREDENTIALS",
		"contact":  "alice@example.com",
		"client": map[string]any{
			"ip":       "10.0.0.1",
			"platform": "ios",
		},
		"emergency_code": "ABCD-EFGH",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"client.ip", "contact", "emergency_code", "password"}, e.RemovedFields)

	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Details, &got))
	assert.Equal(t, "INVALID_CREDENTIALS", got["reason"])
	assert.NotContains(t, got, "password")
	assert.NotContains(t, string(e.Details), "alice@example.com")
	assert.Equal(t, map[string]any{"platform": "ios"}, got["client"])
}

func TestPseudonymize(t *testing.T) {
	assert.Equal(t, "u1", audit.Pseudonymize(nil, "u1"))

	key := []byte("0123456789abcdef0123456789abcdef")
	p1 := audit.Pseudonymize(key, "u1")
	assert.NotEqual(t, "u1", p1)
	assert.Equal(t, p1, audit.Pseudonymize(key, "u1"))
	assert.NotEqual(t, p1, audit.Pseudonymize(key, "u2"))

	conn := memory.New()
	l := audit.New(conn.Audit(), audit.WithPseudonymKey(key))
	e, err := l.LogEvent(context.Background(), "u1", audit.EventUserRegistered, nil)
	require.NoError(t, err)
	assert.Equal(t, p1, e.UserID)

	v, err := l.VerifyChainIntegrity(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(1), v.Checked)
}

func TestMailAlerter(t *testing.T) {
	s := &fakeSender{}
	a := audit.MailAlerter{Sender: s, To: []string{"sec@example.com"}}
	err := a.Alert(context.Background(), email.Alert{Kind: audit.EventTamperDetected, Severity: "critical", At: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, s.subject, audit.EventTamperDetected)

	err = audit.MailAlerter{}.Alert(context.Background(), email.Alert{})
	assert.Error(t, err)
}

type fakeSender struct{ subject string }

func (f *fakeSender) Send(to []string, subject, text, html string) error {
	f.subject = subject
	return nil
}
