package device

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const nonceSize = 32

// PairingRequest lo genera el dispositivo candidato. Signature prueba
// posesión de la clave privada sobre deviceID‖nonce‖timestamp.
type PairingRequest struct {
	DeviceID       string    `json:"device_id"`
	DeviceName     string    `json:"device_name"`
	DeviceType     string    `json:"device_type"`
	PublicKey      []byte    `json:"public_key"`
	ChallengeNonce []byte    `json:"challenge_nonce"`
	Timestamp      time.Time `json:"timestamp"`
	Signature      []byte    `json:"signature"`
}

// PairingResponse lo devuelve el respondedor (dispositivo confiable o server).
type PairingResponse struct {
	DeviceID          string    `json:"device_id"`
	ResponderDeviceID string    `json:"responder_device_id,omitempty"`
	ResponseSignature []byte    `json:"response_signature"`
	SharedSecretHash  []byte    `json:"shared_secret_hash"`
	DeviceTrustToken  string    `json:"device_trust_token"`
	Timestamp         time.Time `json:"timestamp"`
}

// GeneratePairingRequest crea un par ed25519 nuevo, un id de dispositivo y
// el nonce, y firma la prueba de posesión. La privada queda en el candidato.
func GeneratePairingRequest(deviceName, deviceType string) (*PairingRequest, ed25519.PrivateKey, error) {
	return generatePairingRequest(rand.Reader, deviceName, deviceType, time.Now())
}

// GeneratePairingRequestAt es GeneratePairingRequest con el timestamp dado;
// sirve cuando el registry corre con un reloj propio (Config.Now).
func GeneratePairingRequestAt(deviceName, deviceType string, now time.Time) (*PairingRequest, ed25519.PrivateKey, error) {
	return generatePairingRequest(rand.Reader, deviceName, deviceType, now)
}

func generatePairingRequest(rnd io.Reader, deviceName, deviceType string, now time.Time) (*PairingRequest, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, nil, err
	}
	req := &PairingRequest{
		DeviceID:       uuid.NewString(),
		DeviceName:     deviceName,
		DeviceType:     deviceType,
		PublicKey:      pub,
		ChallengeNonce: nonce,
		Timestamp:      now.UTC().Truncate(time.Millisecond),
	}
	req.Signature = ed25519.Sign(priv, req.signedBytes())
	return req, priv, nil
}

func (r *PairingRequest) signedBytes() []byte {
	var b bytes.Buffer
	b.WriteString("vaultcore/pairing-request/v1\x00")
	b.WriteString(r.DeviceID)
	b.WriteByte(0)
	b.Write(r.ChallengeNonce)
	_ = binary.Write(&b, binary.BigEndian, r.Timestamp.UnixMilli())
	return b.Bytes()
}

var (
	errMalformedRequest = errors.New("malformed pairing request")
	errBadPossession    = errors.New("possession proof does not verify")
)

// verify chequea forma y firma del request.
func (r *PairingRequest) verify() error {
	if r.DeviceID == "" || len(r.PublicKey) != ed25519.PublicKeySize || len(r.ChallengeNonce) != nonceSize || r.Timestamp.IsZero() {
		return errMalformedRequest
	}
	if !ed25519.Verify(ed25519.PublicKey(r.PublicKey), r.signedBytes(), r.Signature) {
		return errBadPossession
	}
	return nil
}

// sharedSecretHash deriva el compromiso del pairing con HKDF-SHA256 sobre el
// nonce del candidato. Ambos extremos lo recalculan sin transmitir el nonce
// de nuevo.
func sharedSecretHash(req *PairingRequest, responderID string) []byte {
	info := make([]byte, 0, 64+len(req.PublicKey))
	info = append(info, "vaultcore/pairing-secret/v1\x00"...)
	info = append(info, responderID...)
	info = append(info, 0)
	info = append(info, req.PublicKey...)
	out := make([]byte, sha256.Size)
	_, _ = io.ReadFull(hkdf.New(sha256.New, req.ChallengeNonce, []byte(req.DeviceID), info), out)
	return out
}

func (p *PairingResponse) signedBytes() []byte {
	var b bytes.Buffer
	b.WriteString("vaultcore/pairing-response/v1\x00")
	b.WriteString(p.DeviceID)
	b.WriteByte(0)
	b.WriteString(p.ResponderDeviceID)
	b.WriteByte(0)
	b.Write(p.SharedSecretHash)
	b.WriteString(p.DeviceTrustToken)
	_ = binary.Write(&b, binary.BigEndian, p.Timestamp.UnixMilli())
	return b.Bytes()
}

// VerifyPairingResponse es el lado candidato: valida la firma del
// respondedor y que el shared secret hash corresponda a su propio request.
// El resultado es el que se pasa a FinalizePairing.
func VerifyPairingResponse(responderPub ed25519.PublicKey, req *PairingRequest, resp *PairingResponse) bool {
	if req == nil || resp == nil || resp.DeviceID != req.DeviceID {
		return false
	}
	if len(responderPub) != ed25519.PublicKeySize || !ed25519.Verify(responderPub, resp.signedBytes(), resp.ResponseSignature) {
		return false
	}
	return bytes.Equal(resp.SharedSecretHash, sharedSecretHash(req, resp.ResponderDeviceID))
}
