package device_test

import (
	"context"
	"crypto/ed25519"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/device"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/jwt"
	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) LogEvent(_ context.Context, _, eventType string, _ map[string]any) (*repository.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return &repository.AuditEvent{Type: eventType}, nil
}

func (r *recorder) count(t string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == t {
			n++
		}
	}
	return n
}

// clock permite adelantar el tiempo del registry.
type clock struct{ offset atomic.Int64 }

func (c *clock) now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }
func (c *clock) advance(d time.Duration) { c.offset.Add(int64(d)) }

type fixture struct {
	reg   *device.Registry
	repo  repository.DeviceRepository
	rec   *recorder
	clock *clock
}

func newFixture(t *testing.T, maxDevices int) *fixture {
	t.Helper()
	ks, err := jwt.NewEd25519()
	require.NoError(t, err)
	f := &fixture{repo: memory.New().Devices(), rec: &recorder{}, clock: &clock{}}
	f.reg = device.NewRegistry(f.repo, device.Config{
		MaxDevices:     maxDevices,
		TrustThreshold: 0.5,
		Issuer:         jwt.NewIssuer("vaultcore-test", ks, time.Hour),
		Audit:          f.rec,
		Now:            f.clock.now,
	})
	return f
}

// request genera un pairing request con el reloj del registry.
func (f *fixture) request(name, typ string) (*device.PairingRequest, ed25519.PrivateKey, error) {
	return device.GeneratePairingRequestAt(name, typ, f.clock.now())
}

// pairTrusted registra y confía un dispositivo respondido por el server.
func (f *fixture) pairTrusted(t *testing.T, owner, name string) (*device.PairingRequest, *device.PairingResponse) {
	t.Helper()
	req, _, err := f.request(name, "phone")
	require.NoError(t, err)
	resp, err := f.reg.ProcessPairingRequest(context.Background(), owner, "", req)
	require.NoError(t, err)
	_, err = f.reg.FinalizePairing(context.Background(), req.DeviceID, true)
	require.NoError(t, err)
	return req, resp
}

// Scenario C.
func TestPairing_TrustedDeviceAddsSecondDevice(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	devA, _ := f.pairTrusted(t, "alice", "laptop")

	reqB, _, err := f.request("tablet", "tablet")
	require.NoError(t, err)
	respB, err := f.reg.ProcessPairingRequest(ctx, "alice", devA.DeviceID, reqB)
	require.NoError(t, err)
	assert.NotEmpty(t, respB.DeviceTrustToken)
	assert.Len(t, respB.SharedSecretHash, 32)

	st, err := f.reg.GetDeviceStatus(ctx, reqB.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustPending, st)

	validated := device.VerifyPairingResponse(f.reg.ResponderPublicKey(), reqB, respB)
	require.True(t, validated)

	d, err := f.reg.FinalizePairing(ctx, reqB.DeviceID, validated)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustTrusted, d.TrustState)
	assert.Equal(t, 1.0, d.TrustScore)

	require.NoError(t, f.reg.RevokeDevice(ctx, reqB.DeviceID))

	_, err = f.reg.FinalizePairing(ctx, reqB.DeviceID, true)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeDeviceRevoked))

	st, err = f.reg.GetDeviceStatus(ctx, reqB.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustRevoked, st)

	assert.Equal(t, 2, f.rec.count(audit.EventPairingRequested))
	assert.Equal(t, 2, f.rec.count(audit.EventDeviceTrusted))
	assert.Equal(t, 1, f.rec.count(audit.EventDeviceRevoked))
}

func TestFinalize_NotValidatedRevokes(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	req, _, err := f.request("phone", "phone")
	require.NoError(t, err)
	_, err = f.reg.ProcessPairingRequest(ctx, "bob", "", req)
	require.NoError(t, err)

	d, err := f.reg.FinalizePairing(ctx, req.DeviceID, false)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustRevoked, d.TrustState)
	assert.Equal(t, 0.0, d.TrustScore)
	assert.Equal(t, 1, f.rec.count(audit.EventDeviceRejected))
}

func TestFinalize_OnlyFromPending(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	req, _ := f.pairTrusted(t, "bob", "phone")

	_, err := f.reg.FinalizePairing(ctx, req.DeviceID, false)
	assert.True(t, types.HasCode(err, types.CodeInvalidTransition))

	_, err = f.reg.FinalizePairing(ctx, "missing", true)
	assert.True(t, types.HasCode(err, types.CodeNotFound))

	// expirado
	f.clock.advance(2 * time.Hour)
	n, err := f.reg.CleanupExpiredDevices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.reg.FinalizePairing(ctx, req.DeviceID, true)
	assert.True(t, types.HasCode(err, types.CodeInvalidTransition))
}

func TestPairing_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	t.Run("tampered signature", func(t *testing.T) {
		req, _, err := f.request("phone", "phone")
		require.NoError(t, err)
		req.ChallengeNonce[0] ^= 0xff
		_, err = f.reg.ProcessPairingRequest(ctx, "carol", "", req)
		assert.True(t, types.HasCode(err, types.CodeClient))
	})

	t.Run("expired", func(t *testing.T) {
		req, _, err := f.request("phone", "phone")
		require.NoError(t, err)
		f.clock.advance(6 * time.Minute)
		defer f.clock.advance(-6 * time.Minute)
		_, err = f.reg.ProcessPairingRequest(ctx, "carol", "", req)
		assert.True(t, types.HasCode(err, types.CodeClient))
	})

	t.Run("untrusted responder", func(t *testing.T) {
		pending, _, err := f.request("old", "phone")
		require.NoError(t, err)
		_, err = f.reg.ProcessPairingRequest(ctx, "carol", "", pending)
		require.NoError(t, err)

		req, _, err := f.request("new", "phone")
		require.NoError(t, err)
		_, err = f.reg.ProcessPairingRequest(ctx, "carol", pending.DeviceID, req)
		assert.True(t, types.HasCode(err, types.CodeClient))

		_, err = f.reg.GetDeviceStatus(ctx, req.DeviceID)
		assert.True(t, types.HasCode(err, types.CodeNotFound))
	})

	t.Run("responder of another owner", func(t *testing.T) {
		other, _ := f.pairTrusted(t, "mallory", "laptop")
		req, _, err := f.request("new", "phone")
		require.NoError(t, err)
		_, err = f.reg.ProcessPairingRequest(ctx, "carol", other.DeviceID, req)
		assert.True(t, types.HasCode(err, types.CodeClient))
	})

	t.Run("duplicate device id", func(t *testing.T) {
		req, _ := f.pairTrusted(t, "carol", "dup")
		_, err := f.reg.ProcessPairingRequest(ctx, "carol", "", req)
		assert.True(t, types.HasCode(err, types.CodeClient))
	})
}

func TestPairing_DeviceLimitNeverEvicts(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, _ := f.pairTrusted(t, "dave", "one")
	f.pairTrusted(t, "dave", "two")

	req, _, err := f.request("three", "phone")
	require.NoError(t, err)
	_, err = f.reg.ProcessPairingRequest(ctx, "dave", "", req)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeDeviceLimit))

	st, err := f.reg.GetDeviceStatus(ctx, first.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustTrusted, st)

	stats, err := f.reg.Stats(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Trusted)
	assert.True(t, stats.LimitReached)

	// revocar libera lugar
	require.NoError(t, f.reg.RevokeDevice(ctx, first.DeviceID))
	_, err = f.reg.ProcessPairingRequest(ctx, "dave", "", req)
	require.NoError(t, err)
}

func TestPairing_ConcurrentRequestsRespectLimit(t *testing.T) {
	const limit = 3
	f := newFixture(t, limit)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		limited atomic.Int32
	)
	for i := 0; i < 10; i++ {
		req, _, err := f.request("d", "phone")
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reg.ProcessPairingRequest(ctx, "erin", "", req)
			switch {
			case err == nil:
				ok.Add(1)
			case types.HasCode(err, types.CodeDeviceLimit):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(limit), ok.Load())
	assert.Equal(t, int32(10-limit), limited.Load())
}

func TestRevoke_IsIdempotentAndFinal(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	req, _ := f.pairTrusted(t, "frank", "phone")

	require.NoError(t, f.reg.RevokeDevice(ctx, req.DeviceID))
	require.NoError(t, f.reg.RevokeDevice(ctx, req.DeviceID))
	assert.Equal(t, 1, f.rec.count(audit.EventDeviceRevoked))

	err := f.reg.UpdateDeviceSync(ctx, req.DeviceID)
	assert.True(t, types.HasCode(err, types.CodeDeviceRevoked))

	err = f.reg.RevokeDevice(ctx, "missing")
	assert.True(t, types.HasCode(err, types.CodeNotFound))
}

func TestReenroll_CreatesNewRecord(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	old, _ := f.pairTrusted(t, "gina", "phone")

	fresh, _, err := f.request("phone", "phone")
	require.NoError(t, err)

	_, err = f.reg.ReenrollDevice(ctx, old.DeviceID, fresh)
	assert.True(t, types.HasCode(err, types.CodeInvalidTransition), "only revoked devices re-enroll")

	require.NoError(t, f.reg.RevokeDevice(ctx, old.DeviceID))

	_, err = f.reg.ReenrollDevice(ctx, old.DeviceID, old)
	assert.True(t, types.HasCode(err, types.CodeClient), "same id is rejected")

	resp, err := f.reg.ReenrollDevice(ctx, old.DeviceID, fresh)
	require.NoError(t, err)
	assert.True(t, device.VerifyPairingResponse(f.reg.ResponderPublicKey(), fresh, resp))

	d, err := f.repo.Get(ctx, fresh.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustPending, d.TrustState)
	assert.Equal(t, old.DeviceID, d.PredecessorID)
	assert.Equal(t, "gina", d.OwnerUserID)

	st, err := f.reg.GetDeviceStatus(ctx, old.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, repository.TrustRevoked, st)
	assert.Equal(t, 1, f.rec.count(audit.EventDeviceReenrolled))
}

func TestCleanupExpiredDevices(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	stale, _ := f.pairTrusted(t, "hal", "old")

	f.clock.advance(90 * time.Minute)
	fresh, _ := f.pairTrusted(t, "hal", "new")

	n, err := f.reg.CleanupExpiredDevices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.reg.CleanupExpiredDevices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, _ := f.reg.GetDeviceStatus(ctx, stale.DeviceID)
	assert.Equal(t, repository.TrustExpired, st)
	st, _ = f.reg.GetDeviceStatus(ctx, fresh.DeviceID)
	assert.Equal(t, repository.TrustTrusted, st)

	_, err = f.reg.CleanupExpiredDevices(ctx, 0)
	assert.True(t, types.HasCode(err, types.CodeClient))
}

func TestCleanup_ConcurrentRunsCountOnce(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.pairTrusted(t, "ivy", "d")
	}
	f.clock.advance(2 * time.Hour)

	var (
		wg    sync.WaitGroup
		total atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.reg.CleanupExpiredDevices(ctx, time.Hour)
			if err == nil {
				total.Add(int32(n))
			}
		}()
	}
	wg.Wait()

	stats, err := f.reg.Stats(ctx, "ivy")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Expired)
	// singleflight puede compartir el resultado entre llamadas simultáneas,
	// pero el store nunca transiciona dos veces.
	assert.GreaterOrEqual(t, total.Load(), int32(4))
}

func TestUpdateDeviceSyncKeepsDeviceAlive(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	req, _ := f.pairTrusted(t, "jo", "phone")

	f.clock.advance(50 * time.Minute)
	require.NoError(t, f.reg.UpdateDeviceSync(ctx, req.DeviceID))
	f.clock.advance(50 * time.Minute)

	n, err := f.reg.CleanupExpiredDevices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestValidateDeviceAuth(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	req, resp := f.pairTrusted(t, "kim", "phone")
	assert.True(t, f.reg.ValidateDeviceAuth(ctx, req.DeviceID, resp.DeviceTrustToken))
	assert.False(t, f.reg.ValidateDeviceAuth(ctx, "other-device", resp.DeviceTrustToken))
	assert.False(t, f.reg.ValidateDeviceAuth(ctx, req.DeviceID, resp.DeviceTrustToken+"x"))

	trusted, err := f.reg.ListTrustedDevices(ctx, "kim")
	require.NoError(t, err)
	require.Len(t, trusted, 1)

	require.NoError(t, f.reg.RevokeDevice(ctx, req.DeviceID))
	assert.False(t, f.reg.ValidateDeviceAuth(ctx, req.DeviceID, resp.DeviceTrustToken))

	trusted, err = f.reg.ListTrustedDevices(ctx, "kim")
	require.NoError(t, err)
	assert.Empty(t, trusted)
}

func TestVerifyPairingResponse_DetectsTampering(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	req, _, err := f.request("phone", "phone")
	require.NoError(t, err)
	resp, err := f.reg.ProcessPairingRequest(ctx, "lee", "", req)
	require.NoError(t, err)
	require.True(t, device.VerifyPairingResponse(f.reg.ResponderPublicKey(), req, resp))

	bad := *resp
	bad.SharedSecretHash = append([]byte(nil), resp.SharedSecretHash...)
	bad.SharedSecretHash[0] ^= 1
	assert.False(t, device.VerifyPairingResponse(f.reg.ResponderPublicKey(), req, &bad))

	other, _, err := f.request("phone", "phone")
	require.NoError(t, err)
	assert.False(t, device.VerifyPairingResponse(f.reg.ResponderPublicKey(), other, resp))

	ks, err := jwt.NewEd25519()
	require.NoError(t, err)
	assert.False(t, device.VerifyPairingResponse(ks.Pub, req, resp))
}

func TestPairing_RequestUsesRegistryClock(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.clock.advance(90 * time.Minute)

	req, _, err := f.request("phone", "phone")
	require.NoError(t, err)
	_, err = f.reg.ProcessPairingRequest(ctx, "max", "", req)
	require.NoError(t, err)

	// un request con la hora real queda 90m atrás del registry
	stale, _, err := device.GeneratePairingRequest("phone", "phone")
	require.NoError(t, err)
	_, err = f.reg.ProcessPairingRequest(ctx, "max", "", stale)
	assert.True(t, types.HasCode(err, types.CodeClient))
}
