// Package result normalizes everything a request can produce into one envelope.
//
// Server replies, HTTP responses and local faults (not connected, timeout, rate
// limited) all come back as *Result, so call sites never branch on Go errors:
//
//	{status_code?, message?, success, op_code, sub_code, data, error_code, error_msg, ...}
//
// Keys are decamelized on the way in (errorCode → error_code).
package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-viper/mapstructure/v2"

	"mini-ws/message"
)

const (
	StatusTooManyRequests = http.StatusTooManyRequests     // 429
	StatusRequestTimeout  = http.StatusRequestTimeout      // 408
	StatusInternalError   = http.StatusInternalServerError // 500
)

// Normalized keys.
const (
	KeyStatusCode   = "status_code"
	KeyMessage      = "message"
	KeySuccess      = "success"
	KeyErrorCode    = "error_code"
	KeyErrorMsg     = "error_msg"
	KeyResponseText = "response_text"
)

type Result struct {
	StatusCode int // 0 for socket replies; set for local faults and HTTP responses
	Message    string
	Success    bool
	OpCode     message.OpCode
	SubCode    uint32
	Data       map[string]any
	ErrorCode  int64
	ErrorMsg   string

	// Fields is the whole normalized map, including keys not mirrored above.
	Fields map[string]any
}

// Normalize decamelizes raw and fills the typed fields. Success comes from the
// success key when the server sent one, otherwise from ErrorCode == 0.
func Normalize(raw map[string]any) *Result {
	fields := decamelizeMap(raw)
	r := &Result{Fields: fields}

	if v, ok := toInt64(fields[KeyStatusCode]); ok {
		r.StatusCode = int(v)
	}
	if v, ok := fields[KeyMessage].(string); ok {
		r.Message = v
	}
	if v, ok := toInt64(fields[message.KeyOpCode]); ok {
		r.OpCode = message.OpCode(v)
	}
	if v, ok := toInt64(fields[message.KeySubCode]); ok {
		r.SubCode = uint32(v)
	}
	if v, ok := fields[message.KeyData].(map[string]any); ok {
		r.Data = v
	}
	if v, ok := toInt64(fields[KeyErrorCode]); ok {
		r.ErrorCode = v
	}
	if v, ok := fields[KeyErrorMsg].(string); ok {
		r.ErrorMsg = v
	}

	if v, ok := fields[KeySuccess].(bool); ok {
		r.Success = v
	} else {
		r.Success = r.ErrorCode == 0 && (r.StatusCode == 0 || r.StatusCode < 400)
	}
	return r
}

// FromMessage normalizes a decoded socket message.
func FromMessage(m *message.Message) *Result {
	return Normalize(m.Map())
}

// FromHTTPResponse normalizes an HTTP reply: status_code plus the decamelized
// JSON body, or response_text when the body is not a JSON object.
func FromHTTPResponse(resp *http.Response) (*Result, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	raw := map[string]any{}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil && decoded != nil {
		raw = decoded
	} else {
		raw[KeyResponseText] = string(body)
	}
	raw[KeyStatusCode] = int64(resp.StatusCode)
	return Normalize(raw), nil
}

func fault(status int, msg string) *Result {
	return &Result{
		StatusCode: status,
		Message:    msg,
		Fields: map[string]any{
			KeyStatusCode: int64(status),
			KeyMessage:    msg,
		},
	}
}

// NotConnected is returned for requests made without a live session, and for
// sends that fail.
func NotConnected(msg string) *Result {
	if msg == "" {
		msg = "websocket not connected"
	}
	return fault(StatusInternalError, msg)
}

// Timeout is returned when no message with op arrived in time. Op 0 means any
// message.
func Timeout(op message.OpCode) *Result {
	if op == 0 {
		return fault(StatusRequestTimeout, "timeout waiting for next message")
	}
	return fault(StatusRequestTimeout, fmt.Sprintf("timeout waiting for op_code %d", uint32(op)))
}

// Cancelled is Timeout for a wait that ended through its context. A deadline is
// a plain timeout; any other cause is appended to the message.
func Cancelled(op message.OpCode, cause error) *Result {
	r := Timeout(op)
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		r.Message += ": " + cause.Error()
		r.Fields[KeyMessage] = r.Message
	}
	return r
}

// RateLimited is returned when the client-side limiter rejects a request.
func RateLimited() *Result {
	return fault(StatusTooManyRequests, "rate limit exceeded")
}

// IsFault reports whether r is a local fault rather than a server reply.
func (r *Result) IsFault() bool {
	return r.StatusCode >= 400
}

// Map returns the normalized map. Callers must not modify it.
func (r *Result) Map() map[string]any {
	return r.Fields
}

// Decode copies Data into out (a pointer to a struct or map), matching
// snake_case keys to `mapstructure` tags and converting numeric kinds.
func (r *Result) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(r.Data)
}

func (r *Result) String() string {
	if r.IsFault() {
		return fmt.Sprintf("status=%d %s", r.StatusCode, r.Message)
	}
	return fmt.Sprintf("op=%d sub=%d success=%v error_code=%d data=%v", uint32(r.OpCode), r.SubCode, r.Success, r.ErrorCode, r.Data)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
