package mcproto

import (
	"fmt"

	"github.com/google/uuid"
)

// State tracks the protocol phase of a connection. The values beyond
// handshaking match the next-state field of the handshake packet.
type State int

const (
	StateHandshaking State = iota
	StateStatus
	StateLogin
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ProtocolVersion int

// Protocol versions where the login start packet layout changed
const (
	ProtocolVersion1_19   ProtocolVersion = 759
	ProtocolVersion1_19_2 ProtocolVersion = 760
	ProtocolVersion1_20_2 ProtocolVersion = 764
)

const (
	PacketIdHandshake            = 0x00
	PacketIdLoginStart           = 0x00
	PacketIdLegacyServerListPing = 0xFE
)

type Frame struct {
	Length  int
	Payload []byte
}

var trimLimit = 64

func trimBytes(data []byte) ([]byte, string) {
	if len(data) < trimLimit {
		return data, ""
	} else {
		return data[:trimLimit], "..."
	}
}

func (f *Frame) String() string {
	trimmed, cont := trimBytes(f.Payload)
	return fmt.Sprintf("Frame:[len=%d, payload=%#X%s]", f.Length, trimmed, cont)
}

type Packet struct {
	Length   int
	PacketID int
	Data     interface{}
}

func (p *Packet) String() string {
	if dataBytes, ok := p.Data.([]byte); ok {
		trimmed, cont := trimBytes(dataBytes)
		return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%#X%s]", p.Length, p.PacketID, trimmed, cont)
	}
	return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%v]", p.Length, p.PacketID, p.Data)
}

// Handshake is the first packet of a modern client connection.
// ServerAddress is kept exactly as received, including any data a mod
// loader appended after a 0x00 delimiter.
type Handshake struct {
	ProtocolVersion ProtocolVersion
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

func (h *Handshake) String() string {
	return fmt.Sprintf("Handshake:[protocolVersion=%d, serverAddress=%q, serverPort=%d, nextState=%s]",
		h.ProtocolVersion, h.ServerAddress, h.ServerPort, h.NextState)
}

type LoginStart struct {
	Name       string
	PlayerUuid uuid.UUID
}

type LegacyServerListPing struct {
	ProtocolVersion int
	ServerAddress   string
	ServerPort      uint16
}

type ByteReader interface {
	ReadByte() (byte, error)
}
