package codec

import (
	"errors"
	"fmt"
	"reflect"

	ugorji "github.com/ugorji/go/codec"
)

// msgpackHandle is shared by every MsgpackCodec. Handles are safe for concurrent
// use once configured and must not be modified afterwards.
//
//   - Canonical: map keys are written sorted, so the same value always encodes to the same bytes.
//   - WriteExt:  []byte is written as msgpack bin, strings as str.
//   - RawToString / MapType / SignedInteger: schema-less decoding yields string,
//     map[string]any and int64, the shapes the rest of the module works with.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *ugorji.MsgpackHandle {
	h := &ugorji.MsgpackHandle{}
	h.WriteExt = true
	h.Canonical = true
	h.RawToString = true
	h.SignedInteger = true
	h.MapType = reflect.TypeOf(map[string]any(nil))
	return h
}

// MsgpackCodec serializes values as msgpack. It is the wire format of the envelope
// and of the independently packed data field.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var out []byte
	if err := ugorji.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrTrailingBytes reports input that holds more than one msgpack value.
var ErrTrailingBytes = errors.New("msgpack: trailing bytes after value")

// Decode reads exactly one value; anything left over is an error.
func (c *MsgpackCodec) Decode(data []byte, v any) error {
	dec := ugorji.NewDecoderBytes(data, msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if n := dec.NumBytesRead(); n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes unread", ErrTrailingBytes, len(data)-n, len(data))
	}
	return nil
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
