// Package message defines the logical message exchanged between client and gateway.
//
// Message is the "envelope" for every frame on the socket. It gets serialized by the
// codec layer and wrapped in a protocol frame (flag byte + payload) for transmission.
//
//   - On request:  OpCode selects the feature area, SubCode the action, Data carries arguments.
//   - On response: OpCode is the paired response code; servers add keys such as
//     success/errorCode/errorMsg, which are kept in Extra.
package message

import "fmt"

// Envelope keys used on the wire.
const (
	KeyOpCode  = "op_code"
	KeySubCode = "sub_code"
	KeyData    = "data"
	KeyMemo    = "memo"
)

// Message is one logical message. OpCode is always present; every other field is
// optional and omitted from the wire form when absent.
type Message struct {
	OpCode  OpCode
	SubCode *uint32        // nil = absent
	Data    map[string]any // nil = absent
	Memo    *string        // nil = absent
	Extra   map[string]any // any other envelope keys, nil when there are none
}

// New creates a message carrying only an op code.
func New(op OpCode) *Message {
	return &Message{OpCode: op}
}

// Ping returns the keep-alive message: op code only, no sub-code, no data.
func Ping() *Message {
	return New(OpPing)
}

func (m *Message) WithSubCode(sub uint32) *Message {
	m.SubCode = &sub
	return m
}

func (m *Message) WithData(data map[string]any) *Message {
	m.Data = data
	return m
}

func (m *Message) WithMemo(memo string) *Message {
	m.Memo = &memo
	return m
}

// Sub returns the sub-code, or 0 when absent.
func (m *Message) Sub() uint32 {
	if m.SubCode == nil {
		return 0
	}
	return *m.SubCode
}

// Map renders the message as a decoded envelope map. Absent fields are omitted.
func (m *Message) Map() map[string]any {
	out := make(map[string]any, 4+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	out[KeyOpCode] = int64(m.OpCode)
	if m.SubCode != nil {
		out[KeySubCode] = int64(*m.SubCode)
	}
	if m.Data != nil {
		out[KeyData] = m.Data
	}
	if m.Memo != nil {
		out[KeyMemo] = *m.Memo
	}
	return out
}

func (m *Message) String() string {
	return fmt.Sprintf("%v", m.Map())
}
