package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// RemoteValidator consulta POST {BaseURL}/v1/sessions/validate de otra
// instancia. Se usa como Fallback cuando la sesión no está en el store local.
type RemoteValidator struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewRemoteValidator(baseURL, token string, timeout time.Duration) *RemoteValidator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RemoteValidator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

// ForwardedHeader marca requests que ya vienen de un fallback, para que la
// instancia remota no vuelva a delegar.
const ForwardedHeader = "X-Vaultcore-Forwarded"

func (r *RemoteValidator) Validate(ctx context.Context, sessionID string) (*Validation, error) {
	const op = "remote_validate"
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/v1/sessions/validate", bytes.NewReader(body))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ForwardedHeader, "1")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, types.Wrap(types.CodeNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, types.Newf(types.CodeNetwork, op, "remote status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.Newf(types.CodeServer, op, "remote status %d", resp.StatusCode)
	}
	var out Validation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.Wrap(types.CodeServer, op, fmt.Errorf("decode: %w", err))
	}
	if !out.Valid && out.Reason == "" {
		out.Reason = ReasonNotFound
	}
	return &out, nil
}
