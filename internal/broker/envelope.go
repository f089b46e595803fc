package broker

import (
	"encoding/json"

	"github.com/signetd/signet/internal/policy"
)

// ExtName tags every response with the broker's identity.
const ExtName = "signet"

// Request is an operation submitted on behalf of a web origin.
type Request struct {
	ID     string          `json:"id"`
	URL    string          `json:"url"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Data extracts the operation payload. A signEvent request wraps the event
// in params.event; everything else passes its params through whole.
func (r *Request) Data() json.RawMessage {
	if len(r.Params) > 0 {
		var wrapper struct {
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(r.Params, &wrapper); err == nil &&
			len(wrapper.Event) > 0 && string(wrapper.Event) != "null" {
			return wrapper.Event
		}
		return r.Params
	}
	return json.RawMessage("{}")
}

// Response is the envelope every request is answered with, success or not.
type Response struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Ext      string `json:"ext"`
	Response any    `json:"response"`
}

// ResponseError is a failure carried inside a Response payload.
type ResponseError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// ErrorBody wraps a ResponseError the way response payloads expect it.
type ErrorBody struct {
	Error ResponseError `json:"error"`
}

// Result is the decision posted by the prompt surface for a suspended
// request: either the user's permission choice or an error (for example a
// dismissed prompt).
type Result struct {
	RequestID string          `json:"requestId"`
	Response  *ResultResponse `json:"response"`
}

type ResultResponse struct {
	Error      *ResponseError `json:"error,omitempty"`
	Permission *policy.Choice `json:"permission,omitempty"`
}
