package opaque

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Nombres de backend.
const (
	BackendGopaque = "gopaque"
	BackendMock    = "mock"
)

// Backend es la estrategia criptográfica detrás del motor. Los estados que
// devuelve viven en memoria del lado que los creó y se usan una sola vez.
type Backend interface {
	Name() string

	// lado cliente
	startRegistration(username string, password []byte) ([]byte, clientRegistration, error)
	startAuthentication(username string, password []byte) ([]byte, clientAuthentication, error)

	// lado servidor. record == nil indica usuario inexistente: el backend
	// responde con un registro falso determinístico.
	processRegistration(username string, request []byte) ([]byte, serverRegistration, error)
	processAuthentication(username string, ke1, record []byte) ([]byte, serverAuthentication, error)
}

type clientRegistration interface {
	// complete devuelve el upload para el servidor y el export key.
	complete(response []byte) (upload, exportKey []byte, err error)
}

type clientAuthentication interface {
	complete(ke2 []byte) (ke3, sessionKey, exportKey []byte, err error)
}

type serverRegistration interface {
	// finish valida el upload y devuelve el registro a persistir.
	finish(upload []byte) (record []byte, err error)
}

type serverAuthentication interface {
	finish(ke3 []byte) (sessionKey []byte, err error)
}

// BackendConfig selecciona el backend.
type BackendConfig struct {
	Name string
	// AllowInsecureMock debe estar en true para que Name=mock sea aceptado.
	AllowInsecureMock bool
	// ServerKey es la clave privada OPAQUE del servidor (bytes de un escalar).
	// Vacía: se deriva de MasterKey.
	ServerKey []byte
	MasterKey []byte
}

// NewBackend construye el backend pedido. El mock nunca se activa solo:
// pedirlo sin AllowInsecureMock es un error de configuración.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", BackendGopaque:
		return newGopaqueBackend(cfg.ServerKey, cfg.MasterKey)
	case BackendMock:
		if !cfg.AllowInsecureMock {
			return nil, fmt.Errorf("opaque: backend %q requires allow_insecure_mock", BackendMock)
		}
		return newMockBackend(cfg.MasterKey), nil
	default:
		return nil, fmt.Errorf("opaque: unknown backend %q", cfg.Name)
	}
}

// NewClientBackend construye un backend para uso exclusivo del lado
// cliente. Las operaciones de cliente no usan la clave del servidor, así que
// se arma con una clave aleatoria descartable.
func NewClientBackend(name string, allowInsecureMock bool) (Backend, error) {
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return NewBackend(BackendConfig{Name: name, AllowInsecureMock: allowInsecureMock, MasterKey: k})
}
