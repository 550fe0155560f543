package opaque

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cretz/gopaque/gopaque"
	"golang.org/x/crypto/hkdf"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

const (
	infoServerKey = "vaultcore/opaque/server-key"
	infoExportKey = "vaultcore/export-key"
	infoFake      = "vaultcore/opaque/unknown-user:"
)

// gopaqueBackend implementa OPAQUE sobre github.com/cretz/gopaque
// (suite Ed25519, key exchange SIGMA-I embebido de 3 pasos).
type gopaqueBackend struct {
	crypto gopaque.Crypto
	// keys sólo lleva ServerPrivateKey; se copia a cada registro reconstruido.
	keys      *gopaque.ServerRegisterComplete
	serverKey []byte
	envLen    int
}

// gopaqueRecord es la forma persistida de gopaque.ServerRegisterComplete,
// sin la clave privada del servidor (es global).
type gopaqueRecord struct {
	UserID        []byte `json:"uid"`
	UserPublicKey []byte `json:"upk"`
	EnvU          []byte `json:"env"`
	KU            []byte `json:"ku"`
}

func newGopaqueBackend(serverKey, masterKey []byte) (*gopaqueBackend, error) {
	c := gopaque.CryptoDefault
	priv := c.Scalar()
	switch {
	case len(serverKey) > 0:
		if err := priv.UnmarshalBinary(serverKey); err != nil {
			return nil, fmt.Errorf("opaque: invalid server key: %w", err)
		}
	case len(masterKey) > 0:
		priv = c.NewKeyFromReader(hkdf.New(sha256.New, masterKey, nil, []byte(infoServerKey)))
	default:
		return nil, errors.New("opaque: server key or master key required")
	}
	raw, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}

	// largo real de un EnvU: los registros falsos deben ser indistinguibles
	env, err := c.AuthEncrypt(c.NewKey(nil), make([]byte, c.ScalarLen()+c.PointLen()))
	if err != nil {
		return nil, err
	}

	return &gopaqueBackend{
		crypto:    c,
		keys:      &gopaque.ServerRegisterComplete{ServerPrivateKey: priv},
		serverKey: raw,
		envLen:    len(env),
	}, nil
}

func (b *gopaqueBackend) Name() string { return BackendGopaque }

// GenerateServerKey genera un par de claves OPAQUE para el servidor
// (escalar y punto serializados).
func GenerateServerKey() (priv, pub []byte, err error) {
	c := gopaque.CryptoDefault
	k := c.NewKey(nil)
	if priv, err = k.MarshalBinary(); err != nil {
		return nil, nil, err
	}
	if pub, err = c.Point().Mul(k, nil).MarshalBinary(); err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// guard convierte los panics de gopaque ante input malformado en CLIENT_ERROR.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Newf(types.CodeClient, op, "malformed message: %v", r)
		}
	}()
	return fn()
}

func deriveExportKey(userPrivateKey []byte) []byte {
	out := make([]byte, 32)
	_, _ = io.ReadFull(hkdf.New(sha256.New, userPrivateKey, nil, []byte(infoExportKey)), out)
	return out
}

// ─── Registro ───

type gopaqueClientRegistration struct {
	b  *gopaqueBackend
	ur *gopaque.UserRegister
}

func (b *gopaqueBackend) startRegistration(username string, password []byte) ([]byte, clientRegistration, error) {
	ur := gopaque.NewUserRegister(b.crypto, []byte(username), nil)
	req, err := ur.Init(password).ToBytes()
	if err != nil {
		return nil, nil, types.Wrap(types.CodeClient, "start_registration", err)
	}
	return req, &gopaqueClientRegistration{b: b, ur: ur}, nil
}

func (s *gopaqueClientRegistration) complete(response []byte) (upload, exportKey []byte, err error) {
	const op = "complete_registration"
	err = guard(op, func() error {
		var sri gopaque.ServerRegisterInit
		if err := sri.FromBytes(s.b.crypto, response); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		urc := s.ur.Complete(&sri)
		var err error
		if upload, err = urc.ToBytes(); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		priv, err := s.ur.PrivateKey().MarshalBinary()
		if err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		exportKey = deriveExportKey(priv)
		return nil
	})
	return upload, exportKey, err
}

type gopaqueServerRegistration struct {
	b  *gopaqueBackend
	sr *gopaque.ServerRegister
}

func (b *gopaqueBackend) processRegistration(username string, request []byte) ([]byte, serverRegistration, error) {
	const op = "process_registration"
	var resp []byte
	var state *gopaqueServerRegistration
	err := guard(op, func() error {
		var uri gopaque.UserRegisterInit
		if err := uri.FromBytes(b.crypto, request); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		if !bytes.Equal(uri.UserID, []byte(username)) {
			return types.New(types.CodeClient, op, "username mismatch")
		}
		sr := gopaque.NewServerRegister(b.crypto, b.keys.ServerPrivateKey)
		var err error
		if resp, err = sr.Init(&uri).ToBytes(); err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		state = &gopaqueServerRegistration{b: b, sr: sr}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, state, nil
}

func (s *gopaqueServerRegistration) finish(upload []byte) ([]byte, error) {
	const op = "store_registration"
	var out []byte
	err := guard(op, func() error {
		var urc gopaque.UserRegisterComplete
		if err := urc.FromBytes(s.b.crypto, upload); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		if len(urc.EnvU) != s.b.envLen {
			return types.New(types.CodeClient, op, "malformed envelope")
		}
		rc := s.sr.Complete(&urc)
		rec := gopaqueRecord{UserID: rc.UserID, EnvU: rc.EnvU}
		var err error
		if rec.UserPublicKey, err = rc.UserPublicKey.MarshalBinary(); err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		if rec.KU, err = rc.KU.MarshalBinary(); err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		if out, err = json.Marshal(rec); err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		return nil
	})
	return out, err
}

// ─── Autenticación ───

type gopaqueClientAuthentication struct {
	b   *gopaqueBackend
	ua  *gopaque.UserAuth
	kex *gopaque.KeyExchangeSigma
}

func (b *gopaqueBackend) startAuthentication(username string, password []byte) ([]byte, clientAuthentication, error) {
	kex := gopaque.NewKeyExchangeSigma(b.crypto)
	ua := gopaque.NewUserAuth(b.crypto, []byte(username), kex)
	init, err := ua.Init(password)
	if err != nil {
		return nil, nil, types.Wrap(types.CodeClient, "start_authentication", err)
	}
	ke1, err := init.ToBytes()
	if err != nil {
		return nil, nil, types.Wrap(types.CodeClient, "start_authentication", err)
	}
	return ke1, &gopaqueClientAuthentication{b: b, ua: ua, kex: kex}, nil
}

func (s *gopaqueClientAuthentication) complete(ke2 []byte) (ke3, sessionKey, exportKey []byte, err error) {
	const op = "complete_authentication"
	err = guard(op, func() error {
		var sac gopaque.ServerAuthComplete
		if err := sac.FromBytes(s.b.crypto, ke2); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		if len(sac.EnvU) != s.b.envLen {
			return types.New(types.CodeClient, op, "malformed envelope")
		}
		finish, uac, err := s.ua.Complete(&sac)
		if err != nil || uac == nil {
			// MAC del envelope inválido: password incorrecto o usuario inexistente
			return types.Wrap(types.CodeInvalidCredentials, op, err)
		}
		if ke3, err = uac.ToBytes(); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		secret, err := s.kex.SharedSecret.MarshalBinary()
		if err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		sk := sha256.Sum256(secret)
		sessionKey = sk[:]
		priv, err := finish.UserPrivateKey.MarshalBinary()
		if err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		exportKey = deriveExportKey(priv)
		return nil
	})
	return ke3, sessionKey, exportKey, err
}

type gopaqueServerAuthentication struct {
	b    *gopaqueBackend
	sa   *gopaque.ServerAuth
	kex  *gopaque.KeyExchangeSigma
	fake bool
}

func (b *gopaqueBackend) processAuthentication(username string, ke1, record []byte) ([]byte, serverAuthentication, error) {
	const op = "process_authentication"
	var resp []byte
	var state *gopaqueServerAuthentication
	err := guard(op, func() error {
		var uai gopaque.UserAuthInit
		if err := uai.FromBytes(b.crypto, ke1); err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		if !bytes.Equal(uai.UserID, []byte(username)) {
			return types.New(types.CodeClient, op, "username mismatch")
		}

		rc, fake, err := b.loadRecord(username, record)
		if err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		if !bytes.Equal(uai.UserID, rc.UserID) {
			return types.New(types.CodeServer, op, "record does not belong to user")
		}

		kex := gopaque.NewKeyExchangeSigma(b.crypto)
		sa := gopaque.NewServerAuth(b.crypto, kex)
		sac, err := sa.Complete(&uai, rc)
		if err != nil {
			return types.Wrap(types.CodeClient, op, err)
		}
		if resp, err = sac.ToBytes(); err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		state = &gopaqueServerAuthentication{b: b, sa: sa, kex: kex, fake: fake}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, state, nil
}

// loadRecord reconstruye el registro; sin record arma uno falso derivado
// de la clave del servidor y el username, estable entre intentos.
func (b *gopaqueBackend) loadRecord(username string, record []byte) (*gopaque.ServerRegisterComplete, bool, error) {
	c := b.crypto
	rc := &gopaque.ServerRegisterComplete{
		ServerPrivateKey: b.keys.ServerPrivateKey,
		UserPublicKey:    c.Point(),
		KU:               c.Scalar(),
	}
	if record == nil {
		r := hkdf.New(sha256.New, b.serverKey, nil, []byte(infoFake+username))
		rc.UserID = []byte(username)
		rc.KU = c.NewKeyFromReader(r)
		rc.UserPublicKey = c.Point().Mul(c.NewKeyFromReader(r), nil)
		rc.EnvU = make([]byte, b.envLen)
		if _, err := io.ReadFull(r, rc.EnvU); err != nil {
			return nil, false, err
		}
		return rc, true, nil
	}

	var rec gopaqueRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	if err := rc.UserPublicKey.UnmarshalBinary(rec.UserPublicKey); err != nil {
		return nil, false, fmt.Errorf("decode user public key: %w", err)
	}
	if err := rc.KU.UnmarshalBinary(rec.KU); err != nil {
		return nil, false, fmt.Errorf("decode oprf key: %w", err)
	}
	rc.UserID = rec.UserID
	rc.EnvU = rec.EnvU
	return rc, false, nil
}

func (s *gopaqueServerAuthentication) finish(ke3 []byte) ([]byte, error) {
	const op = "verify_authentication"
	var sessionKey []byte
	err := guard(op, func() error {
		var uac gopaque.UserAuthComplete
		if err := uac.FromBytes(s.b.crypto, ke3); err != nil {
			return types.Wrap(types.CodeInvalidCredentials, op, err)
		}
		if err := s.sa.Finish(&uac); err != nil {
			return types.Wrap(types.CodeInvalidCredentials, op, err)
		}
		if s.fake {
			return types.New(types.CodeInvalidCredentials, op, "unknown user")
		}
		secret, err := s.kex.SharedSecret.MarshalBinary()
		if err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		sk := sha256.Sum256(secret)
		sessionKey = sk[:]
		return nil
	})
	return sessionKey, err
}
