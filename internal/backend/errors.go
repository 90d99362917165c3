package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a failed backend request decoded into a human-readable
// form. Message is safe to show inline in the UI.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend request failed with status %d", e.Status)
}

// apiErrorBody covers the error shapes the backend returns: the auth
// endpoints use error/error_description or msg, the rest endpoints use
// message.
type apiErrorBody struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeAPIError(status int, body []byte) *APIError {
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)

	msg := eb.ErrorDescription
	if msg == "" {
		msg = eb.Msg
	}
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = eb.Code
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Code: eb.Code, Message: msg}
}
