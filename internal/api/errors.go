package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// TransportError is a network failure or a non-2xx HTTP status other than 401/403
type TransportError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the credential is missing, expired or rejected
type AuthError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: authentication failed (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: authentication failed (HTTP %d)", e.Op, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ServerLogicError is a well-formed response that reports a processing failure
// or lacks a field the contract guarantees (for example the task name)
type ServerLogicError struct {
	Op      string
	Message string
}

func (e *ServerLogicError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ServerMessage returns the message the server attached to err, or "" if there is none
func ServerMessage(err error) string {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Message
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	var logicErr *ServerLogicError
	if errors.As(err, &logicErr) {
		return logicErr.Message
	}
	return ""
}

// envelope covers the wrapper the imagery server puts around most payloads
type envelope struct {
	Code    *int            `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) message() string {
	for _, m := range []string{e.Msg, e.Message, e.Detail, e.Error} {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	return ""
}

// failed reports an application-level failure inside a 2xx response
func (e *envelope) failed() bool {
	return e.Code != nil && *e.Code != 0 && *e.Code != 200
}

// messageFromBody extracts a human message from an error response body
func messageFromBody(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if m := env.message(); m != "" {
			return m
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

// checkResponse maps a resty result onto the error taxonomy
func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	status := resp.StatusCode()
	if status == 401 || status == 403 {
		return &AuthError{Op: op, StatusCode: status, Message: messageFromBody(resp.Body())}
	}
	if !resp.IsSuccess() {
		return &TransportError{Op: op, StatusCode: status, Message: messageFromBody(resp.Body())}
	}
	return nil
}

// decodePayload unwraps the envelope (if any) and decodes the payload into out
func decodePayload(op string, body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &ServerLogicError{Op: op, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	if env.failed() {
		msg := env.message()
		if msg == "" {
			msg = fmt.Sprintf("server reported code %d", *env.Code)
		}
		return &ServerLogicError{Op: op, Message: msg}
	}

	payload := body
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &ServerLogicError{Op: op, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	return nil
}
