// Package mcp implements the Model Context Protocol server for ragtune. It
// exposes a built pipeline to AI clients as tools over stdio: rag_query runs
// a request through the controller, pipeline_info describes the wiring.
package mcp

import (
	"context"
	"errors"
	"fmt"

	rterrors "github.com/ragtune/ragtune/internal/errors"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// MCP error codes. The negative space below -32000 is reserved for
// server-defined errors by the JSON-RPC spec.
const (
	// ErrCodeRetrievalFailed indicates the original-query retrieval failed.
	ErrCodeRetrievalFailed = -32001

	// ErrCodeTimeout indicates the request deadline elapsed.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error.
func NewInvalidParamsError(message string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: message}
}

// MapError converts a pipeline error into an MCP error. Fatal retrieval
// failures and deadline errors get their own codes so clients can
// distinguish a broken index from a slow one.
func MapError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	}

	var fatal *ragtune.FatalRetrievalError
	if errors.As(err, &fatal) {
		return &MCPError{
			Code:    ErrCodeRetrievalFailed,
			Message: fmt.Sprintf("retrieval failed: %v", fatal.Err),
		}
	}

	var rerr *rterrors.RagError
	if errors.As(err, &rerr) {
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: fmt.Sprintf("%s: %s", rerr.Code, rerr.Message),
		}
	}

	return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
}
