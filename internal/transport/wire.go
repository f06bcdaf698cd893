package transport

// Summary is the per-batch outcome the server reports for a push.
type Summary struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// ItemError reports a rejected item by its index within the pushed batch.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// PushResponse is the body of a batch push response. A nil Summary means the
// server did not report per-item outcomes; callers treat that as success.
type PushResponse struct {
	Summary *Summary `json:"summary,omitempty"`
}

// MessageResponse is returned by single-resource operations.
type MessageResponse struct {
	Message string `json:"message"`
}
