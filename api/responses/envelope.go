package responses

// Success wraps every 2xx body.
type Success struct {
	Data any `json:"data"`
}

// ErrorBody is the public shape of a failure.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Failure wraps every error response.
type Failure struct {
	Error ErrorBody `json:"error"`
}
