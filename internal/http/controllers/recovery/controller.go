// Package recovery expone la configuración y el uso de las vías de
// recuperación de cuenta.
package recovery

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	rec "github.com/dropDatabas3/vaultcore/internal/recovery"
)

// Service es el subconjunto de recovery.Service que usa el controller.
type Service interface {
	Setup(ctx context.Context, userID string, t, n int, backups ...rec.BackupInput) (*rec.Kit, error)
	Status(ctx context.Context, userID string) (*rec.Status, error)
	CreateBackup(ctx context.Context, userID, phrase string, in rec.BackupInput) (*rec.BackupInfo, error)
	ListBackups(ctx context.Context, userID string) ([]rec.BackupInfo, error)
	RemoveBackup(ctx context.Context, userID, backupID string) error
	SetValidationLevel(ctx context.Context, userID string, level rec.ValidationLevel) error
	IssueEmergencyCode(ctx context.Context, userID, recipient string) (*rec.EmergencyIssue, error)
	RecoverWithMnemonic(ctx context.Context, userID, phrase string) (*rec.Result, error)
	RecoverWithShares(ctx context.Context, userID string, shares []rec.Share) (*rec.Result, error)
	RecoverWithEmergencyCode(ctx context.Context, userID, code string) (*rec.Result, error)
	CheckRollback(ctx context.Context, userID string, current rec.VersionedKey, target rec.KeyVersion, migration *rec.Migration) rec.RollbackDecision
}

// UserLookup resuelve el username de las rutas públicas.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*repository.User, error)
}

type Controller struct {
	svc   Service
	users UserLookup
}

func NewController(svc Service, users UserLookup) *Controller {
	return &Controller{svc: svc, users: users}
}

// ─── Rutas autenticadas ───

// Setup maneja POST /v1/recovery/setup. La respuesta es la única vez que
// la frase, las shares y el código existen en claro.
func (c *Controller) Setup(w http.ResponseWriter, r *http.Request) {
	var req dto.RecoverySetupRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	backups := make([]rec.BackupInput, 0, len(req.Backups))
	for _, b := range req.Backups {
		in, err := backupInput(b)
		if err != nil {
			httperrors.WriteError(w, err)
			return
		}
		backups = append(backups, in)
	}
	kit, err := c.svc.Setup(r.Context(), mw.GetUserID(r.Context()), req.Threshold, req.Shares, backups...)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, kit)
}

func backupInput(b dto.BackupRequest) (rec.BackupInput, error) {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(b.Key, "="))
	if err != nil || len(key) == 0 {
		return rec.BackupInput{}, httperrors.ErrInvalidFormat.WithDetail("backup key must be base64url")
	}
	return rec.BackupInput{DeviceID: strings.TrimSpace(b.DeviceID), Label: strings.TrimSpace(b.Label), Key: key}, nil
}

// CreateBackup maneja POST /v1/recovery/backups
func (c *Controller) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBackupRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	in, err := backupInput(req.BackupRequest)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	info, err := c.svc.CreateBackup(r.Context(), mw.GetUserID(r.Context()), req.Phrase, in)
	clear(in.Key)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, info)
}

// ListBackups maneja GET /v1/recovery/backups
func (c *Controller) ListBackups(w http.ResponseWriter, r *http.Request) {
	list, err := c.svc.ListBackups(r.Context(), mw.GetUserID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"backups": list})
}

// RemoveBackup maneja DELETE /v1/recovery/backups/{backupID}
func (c *Controller) RemoveBackup(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.RemoveBackup(r.Context(), mw.GetUserID(r.Context()), chi.URLParam(r, "backupID")); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.OK{Success: true})
}

// Status maneja GET /v1/recovery/status
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	st, err := c.svc.Status(r.Context(), mw.GetUserID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, st)
}

// SetLevel maneja PUT /v1/recovery/level
func (c *Controller) SetLevel(w http.ResponseWriter, r *http.Request) {
	var req dto.RecoveryLevelRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	level, err := rec.ParseValidationLevel(strings.ToLower(strings.TrimSpace(req.Level)))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := c.svc.SetValidationLevel(r.Context(), mw.GetUserID(r.Context()), level); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.OK{Success: true})
}

// IssueEmergency maneja POST /v1/recovery/emergency/issue
func (c *Controller) IssueEmergency(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueEmergencyRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	out, err := c.svc.IssueEmergencyCode(r.Context(), mw.GetUserID(r.Context()), strings.TrimSpace(req.Recipient))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, out)
}

// CheckRollback maneja POST /v1/recovery/rollback/check
func (c *Controller) CheckRollback(w http.ResponseWriter, r *http.Request) {
	var req dto.RollbackCheckRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	current, target, migration, err := rollbackInput(&req)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidFormat.WithDetail(err.Error()))
		return
	}
	d := c.svc.CheckRollback(r.Context(), mw.GetUserID(r.Context()), current, target, migration)
	helpers.WriteJSON(w, http.StatusOK, d)
}

func rollbackInput(req *dto.RollbackCheckRequest) (rec.VersionedKey, rec.KeyVersion, *rec.Migration, error) {
	var current rec.VersionedKey
	v, err := rec.ParseKeyVersion(req.Current.Version)
	if err != nil {
		return current, rec.KeyVersion{}, nil, err
	}
	current.Version = v
	current.Status = rec.KeyStatus(req.Current.Status)
	for _, s := range req.Current.Decrypts {
		dv, err := rec.ParseKeyVersion(s)
		if err != nil {
			return current, rec.KeyVersion{}, nil, err
		}
		current.Decrypts = append(current.Decrypts, dv)
	}
	target, err := rec.ParseKeyVersion(req.Target)
	if err != nil {
		return current, rec.KeyVersion{}, nil, err
	}
	target.ExpiresAt = req.TargetExpiresAt
	var m *rec.Migration
	if req.Migration != nil {
		m = &rec.Migration{
			ID:           req.Migration.ID,
			BatchesDone:  req.Migration.BatchesDone,
			BatchesTotal: req.Migration.BatchesTotal,
			DeviceBound:  req.Migration.DeviceBound,
		}
	}
	return current, target, m, nil
}

// ─── Rutas públicas de recuperación ───

// resolve busca al usuario. Un username desconocido responde igual que una
// credencial inválida.
func (c *Controller) resolve(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", httperrors.ErrMissingFields.WithDetail("username")
	}
	u, err := c.users.GetByUsername(ctx, username)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", types.New(types.CodeInvalidCredentials, "recovery_resolve_user", "unknown user")
		}
		return "", types.Wrap(types.CodeServer, "recovery_resolve_user", err)
	}
	return u.ID, nil
}

// recoveryError oculta si la cuenta existe o tiene material configurado.
func recoveryError(err error) error {
	if types.HasCode(err, types.CodeNotFound) || rec.IsNoMaterial(err) {
		return types.Wrap(types.CodeInvalidCredentials, "recovery", err)
	}
	return err
}

func (c *Controller) respond(w http.ResponseWriter, r *http.Request, res *rec.Result, err error) {
	if err != nil {
		httperrors.WriteError(w, recoveryError(err))
		return
	}
	clear(res.Secret)
	logger.From(r.Context()).Info("account recovered",
		logger.UserID(res.UserID), logger.String("method", res.Method), logger.Bool("restricted", res.Restricted))
	out := dto.RecoveryResponse{SessionResponse: dto.SessionResponse{
		Success:    true,
		Session:    res.Session,
		Method:     res.Method,
		Restricted: res.Restricted,
	}}
	for _, k := range res.Backups {
		out.RecoveredKeys = append(out.RecoveredKeys, dto.RecoveredKey{
			BackupID: k.BackupID,
			DeviceID: k.DeviceID,
			Label:    k.Label,
			Key:      base64.RawURLEncoding.EncodeToString(k.Key),
		})
		clear(k.Key)
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// Mnemonic maneja POST /v1/recovery/mnemonic
func (c *Controller) Mnemonic(w http.ResponseWriter, r *http.Request) {
	var req dto.MnemonicRecoveryRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	uid, err := c.resolve(r.Context(), req.Username)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	res, err := c.svc.RecoverWithMnemonic(r.Context(), uid, req.Phrase)
	c.respond(w, r, res, err)
}

// Shares maneja POST /v1/recovery/shares
func (c *Controller) Shares(w http.ResponseWriter, r *http.Request) {
	var req dto.SharesRecoveryRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	uid, err := c.resolve(r.Context(), req.Username)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	shares, err := rec.ParseShares(req.Shares)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	res, err := c.svc.RecoverWithShares(r.Context(), uid, shares)
	c.respond(w, r, res, err)
}

// Emergency maneja POST /v1/recovery/emergency. La sesión resultante es
// restringida.
func (c *Controller) Emergency(w http.ResponseWriter, r *http.Request) {
	var req dto.EmergencyRecoveryRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	uid, err := c.resolve(r.Context(), req.Username)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	res, err := c.svc.RecoverWithEmergencyCode(r.Context(), uid, req.Code)
	c.respond(w, r, res, err)
}
