// Package client implementa opaque.Transport sobre la API HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	"github.com/dropDatabas3/vaultcore/internal/opaque"
	tokens "github.com/dropDatabas3/vaultcore/internal/security/token"
)

const messageIDHeader = "X-Message-ID"

// Client habla con un servidor vaultcore.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

var _ opaque.Transport = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// post envía in y decodifica out. El message id es el hash del path y el
// body: un reintento del mismo paso reenvía bytes idénticos y el servidor
// responde desde su registro de idempotencia.
func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return types.Wrap(types.CodeClient, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return types.Wrap(types.CodeClient, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(messageIDHeader, tokens.SHA256Hex(append([]byte(path+"|"), body...)))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return types.Wrap(types.CodeNetwork, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Wrap(types.CodeNetwork, op, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.Wrap(types.CodeServer, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// statusError traduce la respuesta de error. Los 5xx y 409 de paso en
// curso son reintentables.
func statusError(op string, status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Message
	if eb.Detail != "" {
		msg = eb.Detail
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status >= 500, eb.Code == "REQUEST_IN_PROGRESS":
		return types.Newf(types.CodeNetwork, op, "status %d: %s", status, msg)
	case eb.Code == "":
		return types.Newf(types.CodeServer, op, "status %d", status)
	case status == http.StatusBadRequest && eb.Code == "BAD_REQUEST":
		return types.New(types.CodeClient, op, msg)
	case status == http.StatusUnauthorized:
		return types.New(types.CodeInvalidCredentials, op, msg)
	case status == http.StatusNotFound:
		return types.New(types.CodeNotFound, op, msg)
	}
	return types.New(types.Code(eb.Code), op, msg)
}

func (c *Client) RegisterStart(ctx context.Context, username string, request []byte) (string, []byte, error) {
	const op = "register_start"
	var out dto.RegisterStartResponse
	err := c.post(ctx, op, "/v1/opaque/register/start", dto.RegisterStartRequest{
		Username: username,
		Request:  opaque.EncodeMessage(request),
	}, &out)
	if err != nil {
		return "", nil, err
	}
	resp, err := opaque.DecodeMessage(out.Response)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	return out.AttemptID, resp, nil
}

func (c *Client) RegisterFinish(ctx context.Context, attemptID string, upload *opaque.RegistrationUpload) (string, error) {
	var out dto.RegisterFinishResponse
	err := c.post(ctx, "register_finish", "/v1/opaque/register/finish", dto.RegisterFinishRequest{
		AttemptID:     attemptID,
		Upload:        opaque.EncodeMessage(upload.Message),
		ExportKeyHash: upload.ExportKeyHash,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.UserID, nil
}

func (c *Client) LoginStart(ctx context.Context, username string, ke1 []byte) (string, []byte, error) {
	const op = "login_start"
	var out dto.LoginStartResponse
	err := c.post(ctx, op, "/v1/opaque/login/start", dto.LoginStartRequest{
		Username: username,
		KE1:      opaque.EncodeMessage(ke1),
	}, &out)
	if err != nil {
		return "", nil, err
	}
	ke2, err := opaque.DecodeMessage(out.KE2)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	return out.AttemptID, ke2, nil
}

func (c *Client) LoginFinish(ctx context.Context, attemptID string, ke3 []byte) (*opaque.LoginReply, error) {
	const op = "login_finish"
	var out dto.SessionResponse
	err := c.post(ctx, op, "/v1/opaque/login/finish", dto.LoginFinishRequest{
		AttemptID: attemptID,
		KE3:       opaque.EncodeMessage(ke3),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, types.New(types.CodeServer, op, "missing session")
	}
	return &opaque.LoginReply{
		UserID:    out.Session.UserID,
		SessionID: out.Session.ID,
		ExpiresAt: out.Session.ExpiresAt,
	}, nil
}
