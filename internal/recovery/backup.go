package recovery

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/security/secretbox"
)

// Un backup es una clave del usuario (típicamente la export key de OPAQUE)
// sellada con AES-GCM bajo HKDF(secreto raíz, set_id, backup_id). El server
// no puede abrirlo: sólo una recuperación con frase o shares lo devuelve.

const (
	maxBackupKeySize  = 1024
	maxBackupsPerUser = 16
	infoBackupKey     = "vaultcore/recovery-backup/v1\x00"
)

// BackupInput es la clave a depositar y cómo identificarla.
type BackupInput struct {
	DeviceID string
	Label    string
	Key      []byte
}

// BackupInfo describe un backup sin exponer su contenido. Current es false
// para backups de un share-set anterior, que ya no pueden abrirse.
type BackupInfo struct {
	ID        string    `json:"backup_id"`
	SetID     string    `json:"set_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Label     string    `json:"label,omitempty"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
}

// RecoveredKey es un backup abierto tras una recuperación exitosa.
type RecoveredKey struct {
	BackupID string
	DeviceID string
	Label    string
	Key      []byte
}

func backupBox(secret []byte, setID, backupID string) (*secretbox.Box, error) {
	key := make([]byte, secretbox.KeySize)
	defer clear(key)
	r := hkdf.New(sha256.New, secret, []byte(setID), []byte(infoBackupKey+backupID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return secretbox.New(key)
}

func backupAAD(userID, backupID string) []byte {
	return []byte(userID + "\x00" + backupID)
}

func validateBackupInput(op string, in BackupInput) error {
	switch {
	case len(in.Key) == 0:
		return types.New(types.CodeClient, op, "backup key required")
	case len(in.Key) > maxBackupKeySize:
		return types.Newf(types.CodeClient, op, "backup key larger than %d bytes", maxBackupKeySize)
	case len(in.Label) > 128 || len(in.DeviceID) > 128:
		return types.New(types.CodeClient, op, "backup label or device id too long")
	}
	return nil
}

// sealBackup sella in bajo el secreto y lo persiste.
func (s *Service) sealBackup(ctx context.Context, op, userID, setID string, secret []byte, in BackupInput) (*BackupInfo, error) {
	id := ulid.Make().String()
	box, err := backupBox(secret, setID, id)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	sealed, err := box.Seal(in.Key, backupAAD(userID, id))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	b := &repository.KeyBackup{
		ID:        id,
		UserID:    userID,
		SetID:     setID,
		DeviceID:  in.DeviceID,
		Label:     in.Label,
		Sealed:    sealed,
		CreatedAt: s.cfg.Now().UTC(),
	}
	if err := s.repo.PutBackup(ctx, b); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	s.log.Info("recovery backup created", logger.UserID(userID), logger.String("backup_id", id))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventBackupCreated, map[string]any{
		"backup_id": id, "device_id": in.DeviceID,
	})
	return backupInfo(b, setID), nil
}

func backupInfo(b *repository.KeyBackup, currentSet string) *BackupInfo {
	return &BackupInfo{
		ID:        b.ID,
		SetID:     b.SetID,
		DeviceID:  b.DeviceID,
		Label:     b.Label,
		Current:   b.SetID == currentSet,
		CreatedAt: b.CreatedAt,
	}
}

// CreateBackup deposita una clave nueva. Como el server no guarda el
// secreto raíz, el usuario prueba que lo tiene presentando la frase; el
// intento cuenta contra el mismo throttle que la recuperación.
func (s *Service) CreateBackup(ctx context.Context, userID, phrase string, in BackupInput) (*BackupInfo, error) {
	const op = "recovery_create_backup"
	if err := validateBackupInput(op, in); err != nil {
		return nil, err
	}
	m, err := s.begin(ctx, op, userID, MethodMnemonic)
	if err != nil {
		return nil, err
	}
	secret, err := entropyFromPhrase(phrase)
	if err != nil {
		return nil, s.fail(ctx, userID, MethodMnemonic, string(types.CodeOf(err)), err)
	}
	defer clear(secret)
	if !verifierMatches(secret, userID, m.Verifier) {
		return nil, s.fail(ctx, userID, MethodMnemonic, "verifier_mismatch",
			types.New(types.CodeInvalidCredentials, op, "recovery phrase does not match"))
	}
	if err := s.throttle.Reset(ctx, userID); err != nil {
		s.log.Warn("throttle reset failed", logger.UserID(userID), logger.Err(err))
	}

	existing, err := s.repo.ListBackups(ctx, userID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if len(existing) >= maxBackupsPerUser {
		return nil, types.Newf(types.CodeClient, op, "at most %d backups per account", maxBackupsPerUser)
	}
	return s.sealBackup(ctx, op, userID, m.SetID, secret, in)
}

// ListBackups lista los backups de la cuenta, más nuevos al final.
func (s *Service) ListBackups(ctx context.Context, userID string) ([]BackupInfo, error) {
	const op = "recovery_list_backups"
	m, err := s.material(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListBackups(ctx, userID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	out := make([]BackupInfo, 0, len(list))
	for i := range list {
		out = append(out, *backupInfo(&list[i], m.SetID))
	}
	return out, nil
}

// RemoveBackup borra un backup de la cuenta.
func (s *Service) RemoveBackup(ctx context.Context, userID, backupID string) error {
	const op = "recovery_remove_backup"
	if userID == "" || backupID == "" {
		return types.New(types.CodeClient, op, "user id and backup id required")
	}
	if err := s.repo.DeleteBackup(ctx, userID, backupID); err != nil {
		if repository.IsNotFound(err) {
			return types.New(types.CodeNotFound, op, "backup not found")
		}
		return types.Wrap(types.CodeServer, op, err)
	}
	s.log.Info("recovery backup removed", logger.UserID(userID), logger.String("backup_id", backupID))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventBackupRemoved, map[string]any{"backup_id": backupID})
	return nil
}

// openBackups abre los backups del set vigente. Uno que no abre (alterado
// en el store) se omite y queda auditado; no frena la recuperación.
func (s *Service) openBackups(ctx context.Context, op, userID, setID string, secret []byte) ([]RecoveredKey, error) {
	list, err := s.repo.ListBackups(ctx, userID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	var out []RecoveredKey
	for _, b := range list {
		if b.SetID != setID {
			continue
		}
		key, err := openBackup(secret, userID, b)
		if err != nil {
			s.log.Warn("recovery backup did not open", logger.UserID(userID), logger.String("backup_id", b.ID), logger.Err(err))
			_, _ = s.audit.LogEvent(ctx, userID, audit.EventBackupUnsealFailed, map[string]any{"backup_id": b.ID})
			continue
		}
		out = append(out, RecoveredKey{BackupID: b.ID, DeviceID: b.DeviceID, Label: b.Label, Key: key})
	}
	return out, nil
}

func openBackup(secret []byte, userID string, b repository.KeyBackup) ([]byte, error) {
	box, err := backupBox(secret, b.SetID, b.ID)
	if err != nil {
		return nil, err
	}
	key, err := box.Open(b.Sealed, backupAAD(userID, b.ID))
	if err != nil {
		if errors.Is(err, secretbox.ErrAuthFailed) || errors.Is(err, secretbox.ErrMalformed) {
			return nil, types.Wrap(types.CodeTamperDetected, "open_backup", err)
		}
		return nil, err
	}
	return key, nil
}
