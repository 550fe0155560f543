package opaque

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/security/password"
	tokens "github.com/dropDatabas3/vaultcore/internal/security/token"
)

// ClientRegistrationState es el estado del cliente entre Start y Complete.
type ClientRegistrationState struct {
	username string
	inner    clientRegistration
	used     atomic.Bool
}

// ClientAuthState es el estado del cliente entre Start y Complete.
type ClientAuthState struct {
	username string
	inner    clientAuthentication
	used     atomic.Bool
}

// Result es lo que recibe quien hace login: nunca el registro del servidor.
type Result struct {
	SessionKey []byte
	UserID     string
	ExportKey  []byte
	SessionID  string
	ExpiresAt  time.Time
}

// LoginReply es la respuesta del servidor al último mensaje de login.
type LoginReply struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Transport lleva los mensajes al servidor. Los errores de red deben venir
// con CodeNetwork para que Retry los reintente.
type Transport interface {
	RegisterStart(ctx context.Context, username string, request []byte) (attemptID string, response []byte, err error)
	RegisterFinish(ctx context.Context, attemptID string, upload *RegistrationUpload) (userID string, err error)
	LoginStart(ctx context.Context, username string, ke1 []byte) (attemptID string, ke2 []byte, err error)
	LoginFinish(ctx context.Context, attemptID string, ke3 []byte) (*LoginReply, error)
}

// ClientConfig configura el cliente.
type ClientConfig struct {
	StepTimeout time.Duration
	MaxAttempts int
	Retry       RetryPolicy
	Policy      *password.Policy
}

// Client es el lado cliente del motor. El password nunca sale de acá.
type Client struct {
	backend Backend
	cfg     ClientConfig
}

func NewClient(backend Backend, cfg ClientConfig) *Client {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Client{backend: backend, cfg: cfg}
}

// NewFlow crea un flujo con el límite de intentos del cliente.
func (c *Client) NewFlow(kind Kind) *Flow { return NewFlow(kind, c.cfg.MaxAttempts) }

// ExportKeyHash es la huella del export key que guarda el servidor.
func ExportKeyHash(exportKey []byte) string {
	return tokens.SHA256Hex(exportKey)
}

// StartRegistration ciega el password y devuelve el request para el servidor.
func (c *Client) StartRegistration(username, pw string) ([]byte, *ClientRegistrationState, error) {
	const op = "start_registration"
	if err := validUsername(op, username); err != nil {
		return nil, nil, err
	}
	if pw == "" {
		return nil, nil, types.New(types.CodeClient, op, "empty password")
	}
	if c.cfg.Policy != nil {
		if ok, reasons := c.cfg.Policy.Validate(pw); !ok {
			return nil, nil, types.Newf(types.CodeClient, op, "password policy: %v", reasons)
		}
	}
	req, inner, err := c.backend.startRegistration(username, []byte(pw))
	if err != nil {
		return nil, nil, err
	}
	return req, &ClientRegistrationState{username: username, inner: inner}, nil
}

// CompleteRegistration arma el upload final y devuelve el export key.
func (c *Client) CompleteRegistration(st *ClientRegistrationState, response []byte) (*RegistrationUpload, []byte, error) {
	const op = "complete_registration"
	if st == nil {
		return nil, nil, types.New(types.CodeClient, op, "missing state")
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, nil, types.New(types.CodeClient, op, "registration state already used")
	}
	msg, exportKey, err := st.inner.complete(response)
	if err != nil {
		return nil, nil, err
	}
	return &RegistrationUpload{Message: msg, ExportKeyHash: ExportKeyHash(exportKey)}, exportKey, nil
}

// StartAuthentication arma KE1.
func (c *Client) StartAuthentication(username, pw string) ([]byte, *ClientAuthState, error) {
	const op = "start_authentication"
	if err := validUsername(op, username); err != nil {
		return nil, nil, err
	}
	if pw == "" {
		return nil, nil, types.New(types.CodeClient, op, "empty password")
	}
	ke1, inner, err := c.backend.startAuthentication(username, []byte(pw))
	if err != nil {
		return nil, nil, err
	}
	return ke1, &ClientAuthState{username: username, inner: inner}, nil
}

// CompleteAuthentication procesa KE2 y arma KE3. Un password incorrecto se
// detecta acá (INVALID_CREDENTIALS) con el backend gopaque.
func (c *Client) CompleteAuthentication(st *ClientAuthState, ke2 []byte) (ke3, sessionKey, exportKey []byte, err error) {
	const op = "complete_authentication"
	if st == nil {
		return nil, nil, nil, types.New(types.CodeClient, op, "missing state")
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, nil, nil, types.New(types.CodeClient, op, "authentication state already used")
	}
	return st.inner.complete(ke2)
}

// ─── Flujos completos ───

// Register corre el registro completo sobre f. f debe estar en idle.
func (c *Client) Register(ctx context.Context, f *Flow, t Transport, username, pw string) (userID string, exportKey []byte, err error) {
	var (
		req, resp []byte
		st        *ClientRegistrationState
		upload    *RegistrationUpload
		attempt   string
	)
	steps := []struct {
		state State
		fn    func(ctx context.Context) error
	}{
		{StateClientRequest, func(context.Context) (err error) {
			req, st, err = c.StartRegistration(username, pw)
			return err
		}},
		{StateServerProcessing, func(ctx context.Context) error {
			return f.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (err error) {
				attempt, resp, err = t.RegisterStart(ctx, username, req)
				return err
			})
		}},
		{StateClientCompletion, func(context.Context) (err error) {
			upload, exportKey, err = c.CompleteRegistration(st, resp)
			return err
		}},
		{StateServerVerification, func(ctx context.Context) error {
			return f.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (err error) {
				userID, err = t.RegisterFinish(ctx, attempt, upload)
				return err
			})
		}},
	}
	for _, s := range steps {
		if err := f.Step(ctx, s.state, c.cfg.StepTimeout, s.fn); err != nil {
			return "", nil, err
		}
	}
	return userID, exportKey, nil
}

// Login corre la autenticación completa sobre f.
func (c *Client) Login(ctx context.Context, f *Flow, t Transport, username, pw string) (*Result, error) {
	var (
		ke1, ke2, ke3 []byte
		st            *ClientAuthState
		attempt       string
		reply         *LoginReply
		res           = &Result{}
	)
	steps := []struct {
		state State
		fn    func(ctx context.Context) error
	}{
		{StateClientRequest, func(context.Context) (err error) {
			ke1, st, err = c.StartAuthentication(username, pw)
			return err
		}},
		{StateServerProcessing, func(ctx context.Context) error {
			return f.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (err error) {
				attempt, ke2, err = t.LoginStart(ctx, username, ke1)
				return err
			})
		}},
		{StateClientCompletion, func(context.Context) (err error) {
			ke3, res.SessionKey, res.ExportKey, err = c.CompleteAuthentication(st, ke2)
			return err
		}},
		{StateServerVerification, func(ctx context.Context) error {
			// KE3 no es idempotente en el servidor (el estado se consume):
			// un error de red acá no se reintenta.
			var err error
			reply, err = t.LoginFinish(ctx, attempt, ke3)
			return err
		}},
	}
	for _, s := range steps {
		if err := f.Step(ctx, s.state, c.cfg.StepTimeout, s.fn); err != nil {
			return nil, err
		}
	}
	res.UserID, res.SessionID, res.ExpiresAt = reply.UserID, reply.SessionID, reply.ExpiresAt
	return res, nil
}

// EncodeMessage / DecodeMessage son la codificación base64 de los mensajes
// en el borde HTTP.
func EncodeMessage(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func DecodeMessage(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, types.Wrap(types.CodeClient, "decode_message", err)
	}
	return b, nil
}
