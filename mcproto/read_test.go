package mcproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVarInt(t *testing.T) {
	tests := []struct {
		Name     string
		Input    []byte
		Expected int
	}{
		{
			Name:     "Single byte",
			Input:    []byte{0xFA, 0x00},
			Expected: 0x7A,
		},
		{
			Name:     "Two byte",
			Input:    []byte{0x81, 0x04},
			Expected: 0x0201,
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			result, err := ReadVarInt(bytes.NewBuffer(tt.Input))
			require.NoError(t, err)

			assert.Equal(t, tt.Expected, result)
		})
	}
}

func TestReadString(t *testing.T) {
	input := append([]byte{0x0E}, []byte("mc.example.com")...)
	result, err := ReadString(bytes.NewBuffer(input))
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com", result)
}

func handshakePayload(t *testing.T, protocolVersion int32, serverAddress string, serverPort uint16, nextState int32) []byte {
	var buf bytes.Buffer
	require.NoError(t, WriteVarInt(&buf, protocolVersion))
	require.NoError(t, WriteString(&buf, serverAddress))
	require.NoError(t, WriteUnsignedShort(&buf, serverPort))
	require.NoError(t, WriteVarInt(&buf, nextState))
	return buf.Bytes()
}

func TestDecodeHandshake(t *testing.T) {
	tests := []struct {
		Name          string
		ServerAddress string
	}{
		{
			Name:          "plain",
			ServerAddress: "mc.example.com",
		},
		{
			Name: "forge suffix retained",
			// Forge appends mod loader data after a 0x00 delimiter.
			// The address must come back intact so the forwarding layer
			// can inspect it.
			ServerAddress: "forge.example.com\x00FML2\x00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			data := handshakePayload(t, 763, tt.ServerAddress, 25565, 2)

			handshake, err := DecodeHandshake(data)
			require.NoError(t, err)

			assert.Equal(t, ProtocolVersion(763), handshake.ProtocolVersion)
			assert.Equal(t, tt.ServerAddress, handshake.ServerAddress)
			assert.Equal(t, uint16(25565), handshake.ServerPort)
			assert.Equal(t, StateLogin, handshake.NextState)
		})
	}
}

func TestDecodeHandshake_NotBytes(t *testing.T) {
	_, err := DecodeHandshake("not bytes")
	require.Error(t, err)
}

func TestDecodeLoginStart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "Notch"))

	loginStart, err := DecodeLoginStart(ProtocolVersion(758), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Notch", loginStart.Name)
}

func TestDecodeLoginStart_WithUuid(t *testing.T) {
	playerUuid := OfflinePlayerUUID("Notch")

	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "Notch"))
	buf.Write(playerUuid[:])

	loginStart, err := DecodeLoginStart(ProtocolVersion1_20_2, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Notch", loginStart.Name)
	assert.Equal(t, playerUuid, loginStart.PlayerUuid)
}

func TestVarIntBytes(t *testing.T) {
	tests := []struct {
		Value    int
		Expected int
	}{
		{Value: 0, Expected: 1},
		{Value: 127, Expected: 1},
		{Value: 128, Expected: 2},
		{Value: 16383, Expected: 2},
		{Value: 16384, Expected: 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.Expected, VarIntBytes(tt.Value), "value %d", tt.Value)
	}
}
