package client

import "fmt"

// Exit codes surfaced by the CLI
const (
	ExitOK         = 0
	ExitError      = 1
	ExitConnection = 2
	ExitAuth       = 3
	ExitNotFound   = 4
)

// CLIError carries an exit code alongside the message
type CLIError struct {
	Code    int
	Message string
}

func (e *CLIError) Error() string {
	return e.Message
}

// NewConnectionError wraps a transport failure
func NewConnectionError(message string) *CLIError {
	return &CLIError{Code: ExitConnection, Message: "connection failed: " + message}
}

// NewAPIError maps an HTTP status to an exit code
func NewAPIError(status int, message string) *CLIError {
	code := ExitError
	switch status {
	case 401, 403:
		code = ExitAuth
	case 404:
		code = ExitNotFound
	}
	return &CLIError{Code: code, Message: fmt.Sprintf("server returned %d: %s", status, message)}
}
