package dispatch

import (
	"errors"
	"fmt"
)

// Error codes carried in {"error": {"code": ...}}.
const (
	CodeBadRequest   = 400 // request body is not {"message": string}
	CodePrecondition = 412 // command needs session state that is absent
	CodeInternal     = 500 // backend failure or unknown command
)

// ErrNoAddress means a command needing a wallet address ran before any
// create-wallet succeeded.
var ErrNoAddress = errors.New("no wallet address; create a wallet first")

// Error is a structured failure reported in the response body.
type Error struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newError(code int, err error) *Error {
	return &Error{Message: err.Error(), Code: code}
}
