// Package protocol implements the binary frame format exchanged over the socket.
//
// The transport already delimits messages, so a frame needs no length header:
// one flag byte says whether the rest is compressed, and the rest is a msgpack
// envelope whose data field is itself an independently packed msgpack document.
//
// Frame format:
//
//	0      1
//	┌──────┬──────────────────────────────────────────────┐
//	│ flag │ envelope (msgpack, gzip'd when flag == 0x01)  │
//	└──────┴──────────────────────────────────────────────┘
//
//	envelope = {op_code, sub_code?, data?: bin(msgpack(map)), memo?, ...}
package protocol

import (
	"errors"
	"fmt"
	"math"

	"mini-ws/codec"
	"mini-ws/message"
)

const (
	FlagRaw        byte = 0x00 // payload is the serialized envelope
	FlagCompressed byte = 0x01 // payload is the gzip'd serialized envelope

	// CompressThreshold is measured on the uncompressed serialized envelope,
	// not on the final frame size.
	CompressThreshold = 250

	// MaxDecompressedSize bounds how much a compressed frame may expand to.
	MaxDecompressedSize = 16 << 20
)

var (
	ErrNilMessage        = errors.New("nil message")
	ErrEmptyFrame        = errors.New("empty frame")
	ErrBadFlag           = errors.New("invalid flag byte")
	ErrCorruptStream     = errors.New("corrupt compressed stream")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMalformedData     = errors.New("malformed data field")
)

// ProtocolError reports a frame that could not be encoded or decoded.
type ProtocolError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func encodeError(err error) error {
	return &ProtocolError{Op: "encode", Err: err}
}

func decodeError(err error) error {
	return &ProtocolError{Op: "decode", Err: err}
}

// FrameCodec turns logical messages into frames and back. It holds no mutable
// state and is safe for concurrent use.
type FrameCodec struct {
	codec     codec.Codec
	threshold int
}

// NewFrameCodec returns a codec using msgpack and the standard 250-byte threshold.
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{
		codec:     codec.GetCodec(codec.CodecTypeMsgpack),
		threshold: CompressThreshold,
	}
}

var defaultFrameCodec = NewFrameCodec()

// Encode encodes m with the default frame codec.
func Encode(m *message.Message) ([]byte, error) {
	return defaultFrameCodec.Encode(m)
}

// Decode decodes frame with the default frame codec.
func Decode(frame []byte) (*message.Message, error) {
	return defaultFrameCodec.Decode(frame)
}

// Encode serializes m into a frame. Data is packed on its own first and stored
// back into the envelope as bytes; absent fields and nil extras are omitted.
func (fc *FrameCodec) Encode(m *message.Message) ([]byte, error) {
	if m == nil {
		return nil, encodeError(ErrNilMessage)
	}

	envelope := make(map[string]any, 4+len(m.Extra))
	for k, v := range m.Extra {
		if v != nil {
			envelope[k] = v
		}
	}
	envelope[message.KeyOpCode] = uint32(m.OpCode)
	if m.SubCode != nil {
		envelope[message.KeySubCode] = *m.SubCode
	}
	if m.Data != nil {
		packed, err := fc.codec.Encode(m.Data)
		if err != nil {
			return nil, encodeError(fmt.Errorf("%w: %v", ErrMalformedData, err))
		}
		envelope[message.KeyData] = packed
	}
	if m.Memo != nil {
		envelope[message.KeyMemo] = *m.Memo
	}

	body, err := fc.codec.Encode(envelope)
	if err != nil {
		return nil, encodeError(fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}

	if len(body) >= fc.threshold {
		compressed, err := compress(body)
		if err != nil {
			return nil, encodeError(err)
		}
		return prefix(FlagCompressed, compressed), nil
	}
	return prefix(FlagRaw, body), nil
}

// Decode parses a frame into a message. Every failure is a *ProtocolError.
func (fc *FrameCodec) Decode(frame []byte) (*message.Message, error) {
	if len(frame) == 0 {
		return nil, decodeError(ErrEmptyFrame)
	}

	body := frame[1:]
	switch flag := frame[0]; flag {
	case FlagRaw:
	case FlagCompressed:
		var err error
		body, err = decompress(body)
		if err != nil {
			return nil, decodeError(fmt.Errorf("%w: %v", ErrCorruptStream, err))
		}
	default:
		return nil, decodeError(fmt.Errorf("%w: 0x%02x", ErrBadFlag, flag))
	}

	var raw any
	if err := fc.codec.Decode(body, &raw); err != nil {
		return nil, decodeError(fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}
	envelope, ok := raw.(map[string]any)
	if !ok {
		return nil, decodeError(fmt.Errorf("%w: envelope is %T, not a map", ErrMalformedEnvelope, raw))
	}

	m, err := fc.fromEnvelope(envelope)
	if err != nil {
		return nil, decodeError(err)
	}
	return m, nil
}

func (fc *FrameCodec) fromEnvelope(envelope map[string]any) (*message.Message, error) {
	op, ok := envelope[message.KeyOpCode]
	if !ok {
		return nil, fmt.Errorf("%w: missing op_code", ErrMalformedEnvelope)
	}
	opCode, ok := toUint32(op)
	if !ok {
		return nil, fmt.Errorf("%w: op_code %v (%T)", ErrMalformedEnvelope, op, op)
	}

	m := message.New(message.OpCode(opCode))
	for k, v := range envelope {
		switch k {
		case message.KeyOpCode:
		case message.KeySubCode:
			if v == nil {
				continue
			}
			sub, ok := toUint32(v)
			if !ok {
				return nil, fmt.Errorf("%w: sub_code %v (%T)", ErrMalformedEnvelope, v, v)
			}
			m.WithSubCode(sub)
		case message.KeyData:
			data, err := fc.unpackData(v)
			if err != nil {
				return nil, err
			}
			m.Data = data
		case message.KeyMemo:
			if v == nil {
				continue
			}
			memo, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: memo %v (%T)", ErrMalformedEnvelope, v, v)
			}
			m.WithMemo(memo)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return m, nil
}

// unpackData performs the second decode layer. Data that arrives as a plain map
// was not double-packed and is used directly.
func (fc *FrameCodec) unpackData(v any) (map[string]any, error) {
	var packed []byte
	switch d := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return d, nil
	case []byte:
		packed = d
	case string:
		packed = []byte(d)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformedData, v)
	}

	var inner any
	if err := fc.codec.Decode(packed, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	switch d := inner.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return d, nil
	default:
		return nil, fmt.Errorf("%w: data unpacks to %T, not a map", ErrMalformedData, inner)
	}
}

func prefix(flag byte, body []byte) []byte {
	frame := make([]byte, 1+len(body))
	frame[0] = flag
	copy(frame[1:], body)
	return frame
}

func toUint32(v any) (uint32, bool) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case uint32:
		return x, true
	case uint64:
		if x > math.MaxUint32 {
			return 0, false
		}
		return uint32(x), true
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}
