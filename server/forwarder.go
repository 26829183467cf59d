package server

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hopper-proxy/hopper/mcproto"
)

// ForwardStrategy selects the convention used to tell a backend server the
// original client address and identity on a freshly dialed connection.
type ForwardStrategy string

const (
	ForwardNone       ForwardStrategy = "none"
	ForwardBungeeCord ForwardStrategy = "bungeecord"
	ForwardRealIP     ForwardStrategy = "realip"
)

// ParseForwardStrategy validates a configured forwarding mode value
func ParseForwardStrategy(value string) (ForwardStrategy, error) {
	strategy := ForwardStrategy(strings.ToLower(value))
	switch strategy {
	case ForwardNone, ForwardBungeeCord, ForwardRealIP:
		return strategy, nil
	default:
		return ForwardNone, errors.Errorf("unknown forwarding mode %q, expected one of none, bungeecord, realip", value)
	}
}

// ErrForgedHandshake indicates the client-sent server address already
// contains a character reserved for the active forwarding mechanism, which
// means the client is trying to spoof a forwarded identity or tunnel
// through another proxy layer. Connections failing this way must be closed
// without sending anything to the backend.
var ErrForgedHandshake = errors.New("server address contains reserved forwarding marker")

// DecodedHandshake pairs the parsed handshake with the exact frame bytes
// received from the client. The raw form lets passthrough priming relay
// fields the parser does not model.
type DecodedHandshake struct {
	Raw       []byte
	Handshake *mcproto.Handshake
}

// ConnectionPrimer produces the first bytes sent on a new backend
// connection. On success exactly one complete handshake packet has been
// written to backendConn. On error the connection is unusable and the
// caller must close both ends; no primer failure is retryable.
//
// The handshake is consumed by the call and must not be reused afterward.
type ConnectionPrimer interface {
	PrimeConnection(backendConn io.Writer, handshake *DecodedHandshake) error
}

// NewConnectionPrimer maps the configured strategy to the primer handling
// one connection. Selection happens once per accepted connection and the
// returned primer carries no state shared with other connections.
//
// BungeeCord forwarding embeds a player identity, which only exists for
// login connections; for status pings it degrades to passthrough.
func NewConnectionPrimer(strategy ForwardStrategy, clientAddr net.Addr, playerName string) ConnectionPrimer {
	switch strategy {
	case ForwardBungeeCord:
		if playerName == "" {
			return &passthroughPrimer{}
		}
		return NewBungeeCordPrimer(clientAddr, playerName)
	case ForwardRealIP:
		return NewRealIPPrimer(clientAddr)
	default:
		return &passthroughPrimer{}
	}
}

// passthroughPrimer re-emits the originally received handshake bytes
// verbatim rather than re-serializing the parsed structure, so protocol
// extensions unknown to the decoder survive unchanged.
type passthroughPrimer struct{}

func NewPassthroughPrimer() ConnectionPrimer {
	return &passthroughPrimer{}
}

func (p *passthroughPrimer) PrimeConnection(backendConn io.Writer, handshake *DecodedHandshake) error {
	_, err := backendConn.Write(handshake.Raw)
	if err != nil {
		return errors.Wrap(err, "failed to relay handshake to backend")
	}
	return nil
}

// bungeeCordPrimer implements the BungeeCord ip_forward convention: the
// client address and offline UUID are appended to the server address field,
// separated by 0x00 bytes.
// https://github.com/SpigotMC/BungeeCord/blob/8d494242265790df1dc6d92121d1a37b726ac405/proxy/src/main/java/net/md_5/bungee/ServerConnector.java#L91-L106
type bungeeCordPrimer struct {
	clientIp   string
	playerUuid uuid.UUID
}

func NewBungeeCordPrimer(clientAddr net.Addr, playerName string) ConnectionPrimer {
	// The offline UUID is always computed and sent. Online-mode backends
	// ignore it and substitute the verified identity, so there is no need
	// to branch on a trust mode the proxy cannot observe.
	return &bungeeCordPrimer{
		clientIp:   clientIpOf(clientAddr),
		playerUuid: mcproto.OfflinePlayerUUID(playerName),
	}
}

func (p *bungeeCordPrimer) PrimeConnection(backendConn io.Writer, handshake *DecodedHandshake) error {
	mutated := *handshake.Handshake

	// A 0x00 byte in the client-sent address means someone is mimicking
	// this exact mechanism, either to hijack the backend's trust in the
	// proxy or because another forwarding proxy sits in front of this one
	if strings.ContainsRune(mutated.ServerAddress, 0) {
		return ErrForgedHandshake
	}

	mutated.ServerAddress = fmt.Sprintf("%s\x00%s\x00%s",
		mutated.ServerAddress, p.clientIp, p.playerUuid)

	if err := mcproto.WriteHandshake(backendConn, &mutated); err != nil {
		return errors.Wrap(err, "failed to send forwarded handshake to backend")
	}
	return nil
}

// realIPPrimer implements the RealIP (<=2.4) convention: "///<ip>:<port>"
// is inserted into the server address field.
type realIPPrimer struct {
	clientAddr string
}

func NewRealIPPrimer(clientAddr net.Addr) ConnectionPrimer {
	return &realIPPrimer{clientAddr: clientAddr.String()}
}

func (p *realIPPrimer) PrimeConnection(backendConn io.Writer, handshake *DecodedHandshake) error {
	mutated := *handshake.Handshake

	// The slash is exclusive to the RealIP marker, so a client-sent
	// address containing one is a spoof attempt
	if strings.ContainsRune(mutated.ServerAddress, '/') {
		return ErrForgedHandshake
	}

	// Forge mod loaders append extra handshake data after a 0x00
	// delimiter. Insert ahead of the delimiter so that data stays a
	// suffix instead of being corrupted.
	insertIndex := strings.IndexByte(mutated.ServerAddress, 0)
	if insertIndex < 0 {
		insertIndex = len(mutated.ServerAddress)
	}

	mutated.ServerAddress = mutated.ServerAddress[:insertIndex] +
		"///" + p.clientAddr +
		mutated.ServerAddress[insertIndex:]

	if err := mcproto.WriteHandshake(backendConn, &mutated); err != nil {
		return errors.Wrap(err, "failed to send forwarded handshake to backend")
	}
	return nil
}

func clientIpOf(clientAddr net.Addr) string {
	host, _, err := net.SplitHostPort(clientAddr.String())
	if err != nil {
		return clientAddr.String()
	}
	return host
}
