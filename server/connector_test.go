package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hopper-proxy/hopper/mcproto"
)

func TestTrustedProxyNetworkPolicy(t *testing.T) {
	tests := []struct {
		name           string
		trustedNets    []string
		upstreamIP     string
		expectedPolicy proxyproto.Policy
	}{
		{
			name:           "trusted IP",
			trustedNets:    []string{"10.0.0.0/8"},
			upstreamIP:     "10.0.0.1",
			expectedPolicy: proxyproto.USE,
		},
		{
			name:           "untrusted IP",
			trustedNets:    []string{"10.0.0.0/8"},
			upstreamIP:     "192.168.1.1",
			expectedPolicy: proxyproto.IGNORE,
		},
		{
			name:           "multiple trusted nets",
			trustedNets:    []string{"10.0.0.0/8", "172.16.0.0/12"},
			upstreamIP:     "172.16.0.1",
			expectedPolicy: proxyproto.USE,
		},
		{
			name:           "no trusted nets",
			trustedNets:    []string{},
			upstreamIP:     "148.184.129.202",
			expectedPolicy: proxyproto.USE,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := &Connector{
				trustedProxyNets: parseTrustedProxyNets(test.trustedNets),
			}

			policy := c.createProxyProtoPolicy()
			upstreamAddr := &net.TCPAddr{IP: net.ParseIP(test.upstreamIP)}
			policyResult, _ := policy(upstreamAddr)
			assert.Equal(t, test.expectedPolicy, policyResult, "Unexpected policy result for %s", test.name)
		})
	}
}

func parseTrustedProxyNets(nets []string) []*net.IPNet {
	parsedNets := make([]*net.IPNet, 0, len(nets))
	for _, n := range nets {
		_, ipNet, _ := net.ParseCIDR(n)
		parsedNets = append(parsedNets, ipNet)
	}
	return parsedNets
}

// startConnectorFixture registers a backend listener for mc.example.com and
// wires a frontend connection into the given connector
func startConnectorFixture(t *testing.T, c *Connector) (clientConn net.Conn, backendListener net.Listener) {
	t.Helper()

	backendListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backendListener.Close() })

	Routes.Reset()
	Routes.CreateMapping("mc.example.com", backendListener.Addr().String())
	t.Cleanup(Routes.Reset)

	frontendListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = frontendListener.Close() })

	go func() {
		conn, err := frontendListener.Accept()
		if err != nil {
			return
		}
		c.AcceptConnection(conn)
	}()

	clientConn, err = net.Dial("tcp", frontendListener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	return clientConn, backendListener
}

func newTestConnector(t *testing.T, forwarding ForwardStrategy) *Connector {
	t.Helper()

	metrics := NewMetricsBuilder(MetricsBackendDiscard, nil).BuildConnectorMetrics()
	return NewConnector(context.Background(), metrics, forwarding, false, false, nil)
}

func writeLoginSequence(t *testing.T, clientConn net.Conn, serverAddress string) {
	t.Helper()

	require.NoError(t, mcproto.WriteHandshake(clientConn, &mcproto.Handshake{
		ProtocolVersion: 758,
		ServerAddress:   serverAddress,
		ServerPort:      25565,
		NextState:       mcproto.StateLogin,
	}))

	var login bytes.Buffer
	require.NoError(t, mcproto.WriteString(&login, "Notch"))
	require.NoError(t, mcproto.WritePacket(clientConn, mcproto.PacketIdLoginStart, login.Bytes()))
}

func acceptBackend(t *testing.T, backendListener net.Listener) net.Conn {
	t.Helper()

	backendConn, err := backendListener.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backendConn.Close() })
	require.NoError(t, backendConn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return backendConn
}

func TestConnector_BungeeCordPriming(t *testing.T) {
	c := newTestConnector(t, ForwardBungeeCord)
	clientConn, backendListener := startConnectorFixture(t, c)

	writeLoginSequence(t, clientConn, "mc.example.com")

	backendConn := acceptBackend(t, backendListener)

	packet, err := mcproto.ReadPacket(backendConn, backendConn.RemoteAddr(), mcproto.StateStatus)
	require.NoError(t, err)
	require.Equal(t, mcproto.PacketIdHandshake, packet.PacketID)

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	require.NoError(t, err)

	clientHost, _, err := net.SplitHostPort(clientConn.LocalAddr().String())
	require.NoError(t, err)
	expected := "mc.example.com\x00" + clientHost + "\x00" + mcproto.OfflinePlayerUUID("Notch").String()
	assert.Equal(t, expected, handshake.ServerAddress)

	// the login start packet must arrive right behind the handshake, untouched
	loginPacket, err := mcproto.ReadPacket(backendConn, backendConn.RemoteAddr(), mcproto.StateLogin)
	require.NoError(t, err)
	loginStart, err := mcproto.DecodeLoginStart(handshake.ProtocolVersion, loginPacket.Data)
	require.NoError(t, err)
	assert.Equal(t, "Notch", loginStart.Name)
}

func TestConnector_RealIPPriming(t *testing.T) {
	c := newTestConnector(t, ForwardRealIP)
	clientConn, backendListener := startConnectorFixture(t, c)

	writeLoginSequence(t, clientConn, "mc.example.com")

	backendConn := acceptBackend(t, backendListener)

	packet, err := mcproto.ReadPacket(backendConn, backendConn.RemoteAddr(), mcproto.StateStatus)
	require.NoError(t, err)

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com///"+clientConn.LocalAddr().String(), handshake.ServerAddress)
}

func TestConnector_PassthroughPriming(t *testing.T) {
	c := newTestConnector(t, ForwardNone)
	clientConn, backendListener := startConnectorFixture(t, c)

	writeLoginSequence(t, clientConn, "mc.example.com")

	backendConn := acceptBackend(t, backendListener)

	packet, err := mcproto.ReadPacket(backendConn, backendConn.RemoteAddr(), mcproto.StateStatus)
	require.NoError(t, err)

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com", handshake.ServerAddress)
}

func TestConnector_ForgedHandshakeAborted(t *testing.T) {
	c := newTestConnector(t, ForwardBungeeCord)
	clientConn, backendListener := startConnectorFixture(t, c)

	// an embedded delimiter mimics the proxy's own forwarding marker
	writeLoginSequence(t, clientConn, "mc.example.com\x00203.0.113.99\x00forged")

	backendConn := acceptBackend(t, backendListener)

	// the backend connection must be closed without receiving any bytes
	n, err := backendConn.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
