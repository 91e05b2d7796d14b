package responses

// Envelope is the body of every successful JSON response.
type Envelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorEnvelope is the body of every failed JSON response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
