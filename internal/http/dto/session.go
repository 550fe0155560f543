package dto

type ValidateSessionRequest struct {
	Envelope
	SessionID string `json:"session_id"`
}

type ExtendSessionRequest struct {
	Envelope
	// Additional es una duración Go ("30m", "2h").
	Additional string `json:"additional"`
}

type RevokeAllResponse struct {
	Success bool `json:"success"`
	Revoked int  `json:"revoked"`
}
