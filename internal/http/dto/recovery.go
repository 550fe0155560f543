package dto

import "time"

type RecoverySetupRequest struct {
	Envelope
	Threshold int             `json:"threshold"`
	Shares    int             `json:"shares"`
	Backups   []BackupRequest `json:"backups,omitempty"`
}

// BackupRequest es una clave a depositar. Key va en base64url sin padding.
type BackupRequest struct {
	DeviceID string `json:"device_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Key      string `json:"key"`
}

// CreateBackupRequest deposita una clave fuera de Setup; la frase prueba
// la posesión del secreto raíz.
type CreateBackupRequest struct {
	Envelope
	BackupRequest
	Phrase string `json:"phrase"`
}

// RecoveredKey es un backup abierto, devuelto sólo tras recuperar.
type RecoveredKey struct {
	BackupID string `json:"backup_id"`
	DeviceID string `json:"device_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Key      string `json:"key"`
}

type RecoveryResponse struct {
	SessionResponse
	RecoveredKeys []RecoveredKey `json:"recovered_keys,omitempty"`
}

type RecoveryLevelRequest struct {
	Envelope
	Level string `json:"level"`
}

type IssueEmergencyRequest struct {
	Envelope
	// Recipient opcional: si hay SMTP el código se manda por mail.
	Recipient string `json:"recipient,omitempty"`
}

type MnemonicRecoveryRequest struct {
	Envelope
	Username string `json:"username"`
	Phrase   string `json:"phrase"`
}

type SharesRecoveryRequest struct {
	Envelope
	Username string   `json:"username"`
	Shares   []string `json:"shares"`
}

type EmergencyRecoveryRequest struct {
	Envelope
	Username string `json:"username"`
	Code     string `json:"code"`
}

type VersionedKey struct {
	Version  string   `json:"version"`
	Status   string   `json:"status"`
	Decrypts []string `json:"decrypts,omitempty"`
}

type Migration struct {
	ID           string `json:"id"`
	BatchesDone  int    `json:"batches_done"`
	BatchesTotal int    `json:"batches_total"`
	DeviceBound  bool   `json:"device_bound"`
}

type RollbackCheckRequest struct {
	Envelope
	Current         VersionedKey `json:"current"`
	Target          string       `json:"target"`
	TargetExpiresAt *time.Time   `json:"target_expires_at,omitempty"`
	Migration       *Migration   `json:"migration,omitempty"`
}
