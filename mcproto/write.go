package mcproto

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WriteVarInt writes a VarInt (Minecraft format) to w
func WriteVarInt(w io.Writer, value int32) error {
	var buf [5]byte
	i := 0
	v := uint32(value)
	for {
		temp := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			temp |= 0x80
		}
		buf[i] = temp
		i++
		if v == 0 {
			break
		}
	}
	_, err := w.Write(buf[:i])
	return err
}

// WriteString writes a Minecraft length-prefixed string
func WriteString(w io.Writer, s string) error {
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteUnsignedShort writes a big-endian uint16
func WriteUnsignedShort(w io.Writer, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

// buildPacket builds a framed packet: [length VarInt][packetId VarInt][payload]
func buildPacket(packetID int32, payload []byte) []byte {
	var b bytes.Buffer
	_ = WriteVarInt(&b, packetID)
	b.Write(payload)

	var framed bytes.Buffer
	_ = WriteVarInt(&framed, int32(b.Len()))
	framed.Write(b.Bytes())
	return framed.Bytes()
}

// WritePacket frames the given payload with the packet ID and length
// prefix and writes it to w in a single Write call
func WritePacket(w io.Writer, packetID int32, payload []byte) error {
	pkt := buildPacket(packetID, payload)
	_, err := w.Write(pkt)
	return err
}

// WriteHandshake serializes and frames a handshake packet and writes it to w.
// The whole packet is emitted with one Write so that a successful return
// means the backend received exactly one complete handshake.
func WriteHandshake(w io.Writer, handshake *Handshake) error {
	var payload bytes.Buffer
	if err := WriteVarInt(&payload, int32(handshake.ProtocolVersion)); err != nil {
		return err
	}
	if err := WriteString(&payload, handshake.ServerAddress); err != nil {
		return err
	}
	if err := WriteUnsignedShort(&payload, handshake.ServerPort); err != nil {
		return err
	}
	if err := WriteVarInt(&payload, int32(handshake.NextState)); err != nil {
		return err
	}
	return WritePacket(w, PacketIdHandshake, payload.Bytes())
}
