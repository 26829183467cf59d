package mcproto

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteVarInt(t *testing.T) {
	tests := []struct {
		Name     string
		Value    int32
		Expected []byte
	}{
		{
			Name:     "Zero",
			Value:    0,
			Expected: []byte{0x00},
		},
		{
			Name:     "Single byte",
			Value:    0x7A,
			Expected: []byte{0x7A},
		},
		{
			Name:     "Two byte",
			Value:    0x0201,
			Expected: []byte{0x81, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteVarInt(&buf, tt.Value))
			assert.Equal(t, tt.Expected, buf.Bytes())
		})
	}
}

func TestWriteHandshake_RoundTrip(t *testing.T) {
	handshake := &Handshake{
		ProtocolVersion: 763,
		ServerAddress:   "mc.example.com\x00203.0.113.5\x00uuid",
		ServerPort:      25565,
		NextState:       StateLogin,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, handshake))

	packet, err := ReadPacket(&buf, &net.TCPAddr{}, StateStatus)
	require.NoError(t, err)
	assert.Equal(t, PacketIdHandshake, packet.PacketID)

	decoded, err := DecodeHandshake(packet.Data)
	require.NoError(t, err)
	assert.Equal(t, handshake, decoded)
}

func TestWriteHandshake_SingleWrite(t *testing.T) {
	w := &writeCounter{}
	require.NoError(t, WriteHandshake(w, &Handshake{
		ProtocolVersion: 47,
		ServerAddress:   "mc.example.com",
		ServerPort:      25565,
		NextState:       StateStatus,
	}))
	assert.Equal(t, 1, w.calls)
}

type writeCounter struct {
	calls int
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.calls++
	return len(p), nil
}
