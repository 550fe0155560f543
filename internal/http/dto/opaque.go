package dto

// Los mensajes de protocolo viajan en base64 estándar.

type RegisterStartRequest struct {
	Envelope
	Username string `json:"username"`
	Request  string `json:"request"`
}

type RegisterStartResponse struct {
	AttemptID string `json:"attempt_id"`
	Response  string `json:"response"`
}

type RegisterFinishRequest struct {
	Envelope
	AttemptID     string `json:"attempt_id"`
	Upload        string `json:"upload"`
	ExportKeyHash string `json:"export_key_hash"`
}

type RegisterFinishResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
}

type LoginStartRequest struct {
	Envelope
	Username string `json:"username"`
	KE1      string `json:"ke1"`
}

type LoginStartResponse struct {
	AttemptID string `json:"attempt_id"`
	KE2       string `json:"ke2"`
}

type LoginFinishRequest struct {
	Envelope
	AttemptID string `json:"attempt_id"`
	KE3       string `json:"ke3"`
}
