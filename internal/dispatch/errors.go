package dispatch

import "fmt"

// ErrorCode classifies a failed invocation.
type ErrorCode string

const (
	CodeUnknownTool      ErrorCode = "unknown_tool"
	CodeInvalidArguments ErrorCode = "invalid_arguments"
	CodeInternal         ErrorCode = "internal_error"
)

// RequestError means the invocation itself was malformed: unknown tool, a
// missing required parameter or a mistyped one. Handlers may return it too
// for semantic argument checks.
type RequestError struct {
	Code   ErrorCode
	Tool   string
	Param  string
	Reason string
}

func (e *RequestError) Error() string {
	switch {
	case e.Param != "":
		return fmt.Sprintf("tool %q: parameter %q: %s", e.Tool, e.Param, e.Reason)
	case e.Tool != "":
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
	default:
		return e.Reason
	}
}

// InvalidArgument builds the RequestError a handler returns for a bad value.
func InvalidArgument(tool, param, reason string) *RequestError {
	return &RequestError{Code: CodeInvalidArguments, Tool: tool, Param: param, Reason: reason}
}

// ErrorPayload is the serialized form of a failed invocation.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Tool    string    `json:"tool,omitempty"`
	Param   string    `json:"param,omitempty"`
}

func payloadFor(err *RequestError) *ErrorPayload {
	return &ErrorPayload{Code: err.Code, Message: err.Error(), Tool: err.Tool, Param: err.Param}
}
