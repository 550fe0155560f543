package opaque

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// mockBackend es un reemplazo INSEGURO para tests: el registro es un HMAC
// del password con salt, atacable offline. Sólo se construye con
// allow_insecure_mock.
type mockBackend struct {
	key []byte
}

func newMockBackend(key []byte) *mockBackend {
	if len(key) == 0 {
		key = []byte("vaultcore-insecure-mock")
	}
	return &mockBackend{key: key}
}

func (b *mockBackend) Name() string { return BackendMock }

type mockMsg struct {
	Username string `json:"u,omitempty"`
	Salt     []byte `json:"s,omitempty"`
	Verifier []byte `json:"v,omitempty"`
	Nonce    []byte `json:"n,omitempty"`
	MAC      []byte `json:"m,omitempty"`
}

func mac(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
		m.Write([]byte{0})
	}
	return m.Sum(nil)
}

func nonce() []byte {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return b
}

func decode(op string, raw []byte) (*mockMsg, error) {
	var m mockMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, types.Wrap(types.CodeClient, op, err)
	}
	return &m, nil
}

// ─── cliente ───

type mockClient struct {
	username string
	password []byte
	nonce    []byte
}

func (m *mockClient) verifier(salt []byte) []byte {
	return mac(salt, []byte(m.username), m.password)
}

func (b *mockBackend) startRegistration(username string, password []byte) ([]byte, clientRegistration, error) {
	req, _ := json.Marshal(mockMsg{Username: username})
	return req, &mockClient{username: username, password: password}, nil
}

func (m *mockClient) complete(response []byte) ([]byte, []byte, error) {
	resp, err := decode("complete_registration", response)
	if err != nil {
		return nil, nil, err
	}
	v := m.verifier(resp.Salt)
	upload, _ := json.Marshal(mockMsg{Verifier: v})
	return upload, mac(v, []byte("export")), nil
}

type mockClientAuth struct{ mockClient }

func (b *mockBackend) startAuthentication(username string, password []byte) ([]byte, clientAuthentication, error) {
	c := &mockClientAuth{mockClient{username: username, password: password, nonce: nonce()}}
	ke1, _ := json.Marshal(mockMsg{Username: username, Nonce: c.nonce})
	return ke1, c, nil
}

func (m *mockClientAuth) complete(ke2 []byte) ([]byte, []byte, []byte, error) {
	resp, err := decode("complete_authentication", ke2)
	if err != nil {
		return nil, nil, nil, err
	}
	v := m.verifier(resp.Salt)
	ke3, _ := json.Marshal(mockMsg{MAC: mac(v, m.nonce, resp.Nonce)})
	return ke3, mac(v, []byte("session"), m.nonce, resp.Nonce), mac(v, []byte("export")), nil
}

// ─── servidor ───

type mockServerReg struct{ salt []byte }

func (b *mockBackend) processRegistration(username string, request []byte) ([]byte, serverRegistration, error) {
	req, err := decode("process_registration", request)
	if err != nil {
		return nil, nil, err
	}
	if req.Username != username {
		return nil, nil, types.New(types.CodeClient, "process_registration", "username mismatch")
	}
	st := &mockServerReg{salt: nonce()}
	resp, _ := json.Marshal(mockMsg{Salt: st.salt})
	return resp, st, nil
}

func (s *mockServerReg) finish(upload []byte) ([]byte, error) {
	up, err := decode("store_registration", upload)
	if err != nil {
		return nil, err
	}
	if len(up.Verifier) != sha256.Size {
		return nil, types.New(types.CodeClient, "store_registration", "malformed verifier")
	}
	rec, _ := json.Marshal(mockMsg{Salt: s.salt, Verifier: up.Verifier})
	return rec, nil
}

type mockServerAuth struct {
	verifier []byte
	nc, ns   []byte
	fake     bool
}

func (b *mockBackend) processAuthentication(username string, ke1, record []byte) ([]byte, serverAuthentication, error) {
	req, err := decode("process_authentication", ke1)
	if err != nil {
		return nil, nil, err
	}
	if req.Username != username {
		return nil, nil, types.New(types.CodeClient, "process_authentication", "username mismatch")
	}
	st := &mockServerAuth{nc: req.Nonce, ns: nonce()}
	var salt []byte
	if record == nil {
		st.fake = true
		salt = mac(b.key, []byte("salt"), []byte(username))[:16]
		st.verifier = mac(b.key, []byte("verifier"), []byte(username))
	} else {
		rec, err := decode("process_authentication", record)
		if err != nil {
			return nil, nil, types.Wrap(types.CodeServer, "process_authentication", err)
		}
		salt, st.verifier = rec.Salt, rec.Verifier
	}
	resp, _ := json.Marshal(mockMsg{Salt: salt, Nonce: st.ns})
	return resp, st, nil
}

func (s *mockServerAuth) finish(ke3 []byte) ([]byte, error) {
	msg, err := decode("verify_authentication", ke3)
	if err != nil {
		return nil, types.Wrap(types.CodeInvalidCredentials, "verify_authentication", err)
	}
	if s.fake || !hmac.Equal(msg.MAC, mac(s.verifier, s.nc, s.ns)) {
		return nil, types.New(types.CodeInvalidCredentials, "verify_authentication", "mac mismatch")
	}
	return mac(s.verifier, []byte("session"), s.nc, s.ns), nil
}
