package api

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Content string `json:"content"`
}

// ScanResponse is the payload for POST /api/v1/scans.
// Key and Redirect are set on success, Message on rejection.
type ScanResponse struct {
	Status   string `json:"status"` // "success" | "error"
	Key      string `json:"key,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CodeResponse is the payload for GET /api/v1/sessions/{key}/code.
type CodeResponse struct {
	Content string `json:"content"`
}

// ActiveSessionResponse is one row of GET /api/v1/sessions/active.
type ActiveSessionResponse struct {
	Key              string `json:"key"`
	DisplayName      string `json:"display_name"`
	CodeID           string `json:"code_id"`
	SecondaryID      string `json:"secondary_id"`
	ObservedTime     string `json:"observed_time"`
	IsExpired        bool   `json:"is_expired"`
	MinutesRemaining int64  `json:"minutes_remaining"`
}

// SessionResponse is one row of GET /api/v1/sessions.
type SessionResponse struct {
	Key          string       `json:"key"`
	DisplayName  string       `json:"display_name"`
	CodeID       string       `json:"code_id,omitempty"`
	SecondaryID  string       `json:"secondary_id,omitempty"`
	ObservedTime string       `json:"observed_time,omitempty"`
	IsExpired    bool         `json:"is_expired"`
	CreatedAt    string       `json:"created_at"` // RFC3339
	UpdatedAt    string       `json:"updated_at"` // RFC3339
	Status       SessionState `json:"status"`
	Hints        []Hint       `json:"hints"`
}

// NameResponse is the payload for GET and PUT /api/v1/sessions/{key}/name.
type NameResponse struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// RenameRequest is the body of PUT /api/v1/sessions/{key}/name.
type RenameRequest struct {
	DisplayName string `json:"display_name"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Cached    int    `json:"cached"`
	LastSweep string `json:"last_sweep,omitempty"` // RFC3339, empty before the first sweep
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
