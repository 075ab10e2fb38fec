// Package message defines the messages exchanged between the parent process and the worker.
//
// A Request is one inbound payload: either a load (activate a module and bind
// its exports) or a call (invoke a bound name). Every Request is answered by
// exactly one Response.
//
//   - On success: Result carries the value, Error is empty.
//   - On failure: Result echoes the raw inbound payload, Error carries the diagnostic.
package message

import (
	"pipeworker/codec"
)

// Normalized message types.
const (
	TypeLoad = "load"
	TypeCall = "call"

	// TypeInit is the historical name of TypeLoad.
	TypeInit = "init"
)

// LoadResult is the Result of a successful load.
const LoadResult = "ok"

// Load asks the worker to activate a module and bind the listed exports.
type Load struct {
	Code        string   // base64 module source
	ExportNames []string // exports to bind, in order
	ModulePaths []string // directories appended to the search path
}

// Call asks the worker to invoke a bound name.
type Call struct {
	Target string      // "name" or "name.member.member"
	Args   []codec.Raw // positional arguments, still encoded
}

// Request is a decoded inbound payload. Raw and Codec are always set, even
// when decoding failed, so a failure Response can echo the input.
type Request struct {
	Raw   []byte
	Codec codec.Codec
	Type  string // TypeLoad or TypeCall once decoded
	Load  *Load
	Call  *Call
}

// Response is the single reply to a Request.
type Response struct {
	Result any    `json:"Result"`
	Error  string `json:"Error,omitempty"`
}

// OK builds a success Response.
func OK(result any) *Response {
	return &Response{Result: result}
}

// Fail builds the failure Response for req: the diagnostic of err and the
// raw input as Result.
func (req *Request) Fail(err error) *Response {
	return &Response{
		Result: req.Echo(),
		Error:  Diagnostic(err),
	}
}

// Echo returns the raw input in a form the request's codec can carry back:
// text for JSON, a byte string otherwise.
func (req *Request) Echo() any {
	if req.Codec == nil || req.Codec.Type() == codec.CodecTypeJSON {
		return string(req.Raw)
	}
	echo := make([]byte, len(req.Raw))
	copy(echo, req.Raw)
	return echo
}

// Describe names the request for logs: its target, the number of exports
// being loaded, or its type.
func (req *Request) Describe() string {
	switch {
	case req.Call != nil:
		return req.Call.Target
	case req.Load != nil:
		return "load"
	case req.Type != "":
		return req.Type
	}
	return "undecoded"
}
