package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-ws/codec"
	"mini-ws/message"
	"mini-ws/protocol"
)

func TestParameterlessCallsOmitData(t *testing.T) {
	cases := []struct {
		name string
		call func(*Client) bool
		area message.FeatureArea
	}{
		{"GetPlayerInfo", func(c *Client) bool { return c.GetPlayerInfo(context.Background()).Success }, message.PlayerFlow},
		{"GetAllItems", func(c *Client) bool { return c.GetAllItems(context.Background()).Success }, message.ItemFlow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, tr := newTestConnection(t, Options{})
			require.NoError(t, conn.Connect(context.Background()))
			reply := message.New(tc.area.Response)
			reply.Extra = map[string]any{"success": true}
			tr.push(t, reply)

			assert.True(t, tc.call(NewClient(conn)))

			tr.mu.Lock()
			require.Len(t, tr.writes, 1)
			frame := tr.writes[0]
			tr.mu.Unlock()

			require.Equal(t, protocol.FlagRaw, frame[0])
			var envelope map[string]any
			require.NoError(t, codec.GetCodec(codec.CodecTypeMsgpack).Decode(frame[1:], &envelope))
			assert.NotContains(t, envelope, message.KeyData)
			assert.Equal(t, int64(tc.area.Request), envelope[message.KeyOpCode])
		})
	}
}
