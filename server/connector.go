package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hopper-proxy/hopper/mcproto"
)

const (
	handshakeTimeout = 5 * time.Second
)

var noDeadline time.Time

type PlayerInfo struct {
	Name string    `json:"name"`
	Uuid uuid.UUID `json:"uuid"`
}

type ClientInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func ClientInfoFromAddr(addr net.Addr) *ClientInfo {
	if addr == nil {
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return &ClientInfo{Host: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return &ClientInfo{
		Host: host,
		Port: port,
	}
}

type Connector struct {
	ctx                context.Context
	metrics            *ConnectorMetrics
	forwarding         ForwardStrategy
	sendProxyProto     bool
	recordLogins       bool
	allowDenyConfig    *AllowDenyConfig
	clientFilter       *ClientFilter
	connectionNotifier ConnectionNotifier
	receiveProxyProto  bool
	trustedProxyNets   []*net.IPNet

	activeConnections sync.WaitGroup
}

func NewConnector(ctx context.Context, metrics *ConnectorMetrics, forwarding ForwardStrategy,
	sendProxyProto bool, recordLogins bool, allowDenyConfig *AllowDenyConfig) *Connector {
	return &Connector{
		ctx:             ctx,
		metrics:         metrics,
		forwarding:      forwarding,
		sendProxyProto:  sendProxyProto,
		recordLogins:    recordLogins,
		allowDenyConfig: allowDenyConfig,
		clientFilter:    NewClientFilterAllowAll(),
	}
}

func (c *Connector) UseClientFilter(filter *ClientFilter) {
	c.clientFilter = filter
}

func (c *Connector) UseConnectionNotifier(notifier ConnectionNotifier) {
	c.connectionNotifier = notifier
}

func (c *Connector) UseReceiveProxyProto(trustedProxyNets []*net.IPNet) {
	c.receiveProxyProto = true
	c.trustedProxyNets = trustedProxyNets
}

// WaitForConnections blocks until every in-flight client connection has finished
func (c *Connector) WaitForConnections() {
	c.activeConnections.Wait()
}

func (c *Connector) StartAcceptingConnections(listenAddress string, connRateLimit int) error {
	ln, err := c.createListener(listenAddress)
	if err != nil {
		return err
	}

	go c.acceptConnections(ln, connRateLimit)

	return nil
}

func (c *Connector) createListener(listenAddress string) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, errors.Wrap(err, "unable to start listening")
	}
	logrus.WithField("listenAddress", listenAddress).Info("Listening for Minecraft client connections")

	if c.receiveProxyProto {
		proxyListener := &proxyproto.Listener{
			Listener: ln,
			Policy:   c.createProxyProtoPolicy(),
		}
		logrus.Info("Using PROXY protocol listener")
		return proxyListener, nil
	}

	return ln, nil
}

func (c *Connector) createProxyProtoPolicy() proxyproto.PolicyFunc {
	return func(upstream net.Addr) (proxyproto.Policy, error) {
		trustedIpNets := c.trustedProxyNets

		if len(trustedIpNets) == 0 {
			logrus.Debug("No trusted proxy networks configured, using PROXY protocol from any upstream")
			return proxyproto.USE, nil
		}

		upstreamIP := upstream.(*net.TCPAddr).IP
		for _, ipNet := range trustedIpNets {
			if ipNet.Contains(upstreamIP) {
				logrus.WithField("upstream", upstream).Debug("Upstream is a trusted proxy")
				return proxyproto.USE, nil
			}
		}

		logrus.WithField("upstream", upstream).Debug("Upstream is not a trusted proxy")
		return proxyproto.IGNORE, nil
	}
}

func (c *Connector) acceptConnections(ln net.Listener, connRateLimit int) {
	//noinspection GoUnhandledErrorResult
	defer ln.Close()

	bucket := ratelimit.NewBucketWithRate(float64(connRateLimit), int64(connRateLimit*2))

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-time.After(bucket.Take(1)):
			conn, err := ln.Accept()
			if err != nil {
				logrus.WithError(err).Error("Failed to accept connection")
			} else {
				go c.HandleConnection(conn)
			}
		}
	}
}

// AcceptConnection provides a way to externally supply a connection to handle.
// Note that this will skip rate limiting.
func (c *Connector) AcceptConnection(conn net.Conn) {
	go c.HandleConnection(conn)
}

func (c *Connector) HandleConnection(frontendConn net.Conn) {
	c.metrics.ConnectionsFrontend.Add(1)
	c.activeConnections.Add(1)
	defer c.activeConnections.Done()
	//noinspection GoUnhandledErrorResult
	defer frontendConn.Close()

	clientAddr := frontendConn.RemoteAddr()
	logrus.
		WithField("client", clientAddr).
		Info("Got connection")
	defer logrus.WithField("client", clientAddr).Debug("Closing frontend connection")

	if !c.clientAllowed(clientAddr) {
		logrus.WithField("client", clientAddr).Warn("Client is not allowed to connect")
		c.metrics.Errors.With("type", "client_denied").Add(1)
		return
	}

	if err := frontendConn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to set read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		return
	}

	// Bytes are pulled through this reader one packet at a time, so the
	// raw capture of each packet stays aligned with what was parsed
	frontendReader := bufio.NewReader(frontendConn)

	peeked, err := frontendReader.Peek(1)
	if err != nil {
		logrus.WithError(err).WithField("client", clientAddr).Error("Failed to peek first byte")
		c.metrics.Errors.With("type", "read").Add(1)
		return
	}

	if peeked[0] == mcproto.PacketIdLegacyServerListPing {
		c.handleLegacyPing(frontendConn, frontendReader, clientAddr)
		return
	}

	packet, handshakeRaw, err := mcproto.ReadPacketCapture(frontendReader, clientAddr)
	if err != nil {
		logrus.WithError(err).WithField("client", clientAddr).Error("Failed to read packet")
		c.metrics.Errors.With("type", "read").Add(1)
		return
	}

	logrus.
		WithField("client", clientAddr).
		WithField("length", packet.Length).
		WithField("packetID", packet.PacketID).
		Debug("Got packet")

	if packet.PacketID != mcproto.PacketIdHandshake {
		logrus.
			WithField("client", clientAddr).
			WithField("packetID", packet.PacketID).
			Error("Unexpected packetID, expected handshake")
		c.metrics.Errors.With("type", "unexpected_content").Add(1)
		return
	}

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	if err != nil {
		logrus.WithError(err).WithField("client", clientAddr).
			Error("Failed to decode handshake")
		c.metrics.Errors.With("type", "read").Add(1)
		return
	}

	logrus.
		WithField("client", clientAddr).
		WithField("handshake", handshake).
		Debug("Got handshake")

	decoded := &DecodedHandshake{
		Raw:       handshakeRaw,
		Handshake: handshake,
	}

	// For login connections the login start packet is read ahead of
	// connecting so priming can embed the player identity. Its raw bytes
	// are relayed to the backend untouched after the handshake.
	var playerInfo *PlayerInfo
	var loginRaw []byte
	if handshake.NextState == mcproto.StateLogin {
		loginPacket, raw, err := mcproto.ReadPacketCapture(frontendReader, clientAddr)
		if err != nil {
			logrus.WithError(err).WithField("client", clientAddr).Error("Failed to read login packet")
			c.metrics.Errors.With("type", "read").Add(1)
			return
		}
		loginRaw = raw

		if loginPacket.PacketID == mcproto.PacketIdLoginStart {
			loginStart, err := mcproto.DecodeLoginStart(handshake.ProtocolVersion, loginPacket.Data)
			if err != nil {
				logrus.WithError(err).WithField("client", clientAddr).
					Warn("Failed to decode login start, connecting without player info")
			} else {
				playerInfo = &PlayerInfo{
					Name: loginStart.Name,
					Uuid: loginStart.PlayerUuid,
				}
			}
		}
	}

	playerName := ""
	if playerInfo != nil {
		playerName = playerInfo.Name
	}
	primer := NewConnectionPrimer(c.forwarding, clientAddr, playerName)

	c.findAndConnectBackend(frontendConn, frontendReader, clientAddr, decoded, loginRaw, playerInfo, primer)
}

func (c *Connector) clientAllowed(clientAddr net.Addr) bool {
	addrPort, err := netip.ParseAddrPort(clientAddr.String())
	if err != nil {
		// Non IP transports are not filterable
		return true
	}
	return c.clientFilter.Allow(addrPort)
}

func (c *Connector) handleLegacyPing(frontendConn net.Conn, frontendReader *bufio.Reader, clientAddr net.Addr) {
	var raw bytes.Buffer
	legacyReader := bufio.NewReader(io.TeeReader(frontendReader, &raw))

	packet, err := mcproto.ReadLegacyServerListPing(legacyReader, clientAddr)
	if err != nil {
		logrus.WithError(err).WithField("client", clientAddr).Error("Failed to read legacy server list ping")
		c.metrics.Errors.With("type", "read").Add(1)
		return
	}

	ping := packet.Data.(*mcproto.LegacyServerListPing)

	logrus.
		WithField("client", clientAddr).
		WithField("ping", ping).
		Debug("Got legacy server list ping")

	// Legacy pings predate the forwarding conventions, so they are
	// always relayed verbatim
	decoded := &DecodedHandshake{
		Raw: raw.Bytes(),
		Handshake: &mcproto.Handshake{
			ProtocolVersion: mcproto.ProtocolVersion(ping.ProtocolVersion),
			ServerAddress:   ping.ServerAddress,
			ServerPort:      ping.ServerPort,
			NextState:       mcproto.StateStatus,
		},
	}

	c.findAndConnectBackend(frontendConn, frontendReader, clientAddr, decoded, nil, nil, NewPassthroughPrimer())
}

func (c *Connector) findAndConnectBackend(frontendConn net.Conn, frontendReader io.Reader,
	clientAddr net.Addr, decoded *DecodedHandshake, loginRaw []byte, playerInfo *PlayerInfo,
	primer ConnectionPrimer) {

	serverAddress := decoded.Handshake.ServerAddress

	backendHostPort, resolvedHost := Routes.FindBackendForServerAddress(c.ctx, serverAddress)
	if backendHostPort == "" {
		logrus.WithField("serverAddress", serverAddress).Warn("Unable to find registered backend")
		c.metrics.Errors.With("type", "missing_backend").Add(1)
		if c.connectionNotifier != nil {
			if err := c.connectionNotifier.NotifyMissingBackend(c.ctx, clientAddr, resolvedHost, playerInfo); err != nil {
				logrus.WithError(err).Warn("failed to notify missing backend")
			}
		}
		return
	}

	if playerInfo != nil && !c.allowDenyConfig.ServerAllowsPlayer(resolvedHost, playerInfo) {
		logrus.
			WithField("client", clientAddr).
			WithField("player", playerInfo.Name).
			WithField("server", resolvedHost).
			Warn("Player is not allowed to connect to server")
		c.metrics.Errors.With("type", "player_denied").Add(1)
		return
	}

	logrus.
		WithField("client", clientAddr).
		WithField("server", resolvedHost).
		WithField("backendHostPort", backendHostPort).
		Info("Connecting to backend")
	backendConn, err := net.Dial("tcp", backendHostPort)
	if err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			WithField("serverAddress", serverAddress).
			WithField("backend", backendHostPort).
			Warn("Unable to connect to backend")
		c.metrics.Errors.With("type", "backend_failed").Add(1)
		if c.connectionNotifier != nil {
			if notifyErr := c.connectionNotifier.NotifyFailedBackendConnection(c.ctx, clientAddr, resolvedHost,
				playerInfo, backendHostPort, err); notifyErr != nil {
				logrus.WithError(notifyErr).Warn("failed to notify failed backend connection")
			}
		}
		return
	}

	c.metrics.ConnectionsBackend.With("host", resolvedHost).Add(1)
	c.metrics.ActiveConnections.Add(1)
	defer c.metrics.ActiveConnections.Add(-1)

	// PROXY protocol, if enabled, precedes all application bytes
	if c.sendProxyProto {
		if err := writeProxyProtoHeader(clientAddr, backendHostPort, backendConn); err != nil {
			logrus.
				WithError(err).
				WithField("client", clientAddr).
				Error("Failed to write PROXY header")
			c.metrics.Errors.With("type", "proxy_write").Add(1)
			_ = backendConn.Close()
			return
		}
	}

	if err := primer.PrimeConnection(backendConn, decoded); err != nil {
		if errors.Is(err, ErrForgedHandshake) {
			logrus.
				WithField("client", clientAddr).
				WithField("serverAddress", serverAddress).
				Warn("Rejecting handshake carrying a forwarding marker")
			c.metrics.ForgedHandshakes.With("strategy", string(c.forwarding)).Add(1)
			if c.connectionNotifier != nil {
				if notifyErr := c.connectionNotifier.NotifyForgedHandshake(c.ctx, clientAddr, resolvedHost,
					playerInfo, backendHostPort); notifyErr != nil {
					logrus.WithError(notifyErr).Warn("failed to notify forged handshake")
				}
			}
		} else {
			logrus.
				WithError(err).
				WithField("client", clientAddr).
				Error("Failed to prime backend connection")
			c.metrics.Errors.With("type", "backend_failed").Add(1)
		}
		_ = backendConn.Close()
		return
	}

	if len(loginRaw) > 0 {
		if _, err := backendConn.Write(loginRaw); err != nil {
			logrus.WithError(err).Error("Failed to relay login packet to backend connection")
			c.metrics.Errors.With("type", "backend_failed").Add(1)
			_ = backendConn.Close()
			return
		}
	}

	if c.recordLogins && playerInfo != nil {
		logrus.
			WithField("client", clientAddr).
			WithField("player", playerInfo.Name).
			WithField("server", resolvedHost).
			Info("Player login")
		c.metrics.ServerLogins.
			With("player_name", playerInfo.Name).
			With("player_uuid", playerInfo.Uuid.String()).
			With("server_address", resolvedHost).
			Add(1)
	}

	if err = frontendConn.SetReadDeadline(noDeadline); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to clear read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		_ = backendConn.Close()
		return
	}

	if c.connectionNotifier != nil {
		if err := c.connectionNotifier.NotifyConnected(c.ctx, clientAddr, resolvedHost, playerInfo, backendHostPort); err != nil {
			logrus.WithError(err).Warn("failed to notify connected")
		}
	}

	c.pumpConnections(frontendConn, frontendReader, backendConn)

	if c.connectionNotifier != nil {
		if err := c.connectionNotifier.NotifyDisconnected(c.ctx, clientAddr, resolvedHost, playerInfo, backendHostPort); err != nil {
			logrus.WithError(err).Warn("failed to notify disconnected")
		}
	}
}

func writeProxyProtoHeader(clientAddr net.Addr, backendHostPort string, backendConn net.Conn) error {
	remoteHostStr, _, _ := net.SplitHostPort(backendHostPort)
	sourceAddrStr, sourcePortStr, _ := net.SplitHostPort(clientAddr.String())
	sourcePort, _ := strconv.Atoi(sourcePortStr)

	header := &proxyproto.Header{
		Version:           2,
		Command:           proxyproto.PROXY,
		TransportProtocol: proxyproto.TCPv4,
		SourceAddr: &net.TCPAddr{
			IP:   net.ParseIP(sourceAddrStr),
			Port: sourcePort,
		},
		DestinationAddr: &net.TCPAddr{
			IP: net.ParseIP(remoteHostStr),
		},
	}

	_, err := header.WriteTo(backendConn)
	return err
}

func (c *Connector) pumpConnections(frontendConn net.Conn, frontendReader io.Reader, backendConn net.Conn) {
	//noinspection GoUnhandledErrorResult
	defer backendConn.Close()

	clientAddr := frontendConn.RemoteAddr()
	defer logrus.WithField("client", clientAddr).Debug("Closing backend connection")

	errorsChan := make(chan error, 2)

	go c.pumpFrames(backendConn, frontendConn, errorsChan, "backend", "frontend", clientAddr)
	go c.pumpFrames(frontendReader, backendConn, errorsChan, "frontend", "backend", clientAddr)

	select {
	case err := <-errorsChan:
		if err != io.EOF {
			logrus.WithError(err).
				WithField("client", clientAddr).
				Error("Error observed on connection relay")
			c.metrics.Errors.With("type", "relay").Add(1)
		}

	case <-c.ctx.Done():
		logrus.Debug("Observed context cancellation")
	}
}

func (c *Connector) pumpFrames(incoming io.Reader, outgoing io.Writer, errorsChan chan<- error, from, to string, clientAddr net.Addr) {
	amount, err := io.Copy(outgoing, incoming)
	logrus.
		WithField("client", clientAddr).
		WithField("amount", amount).
		Infof("Finished relay %s->%s", from, to)

	c.metrics.BytesTransmitted.Add(float64(amount))

	if err != nil {
		errorsChan <- err
	} else {
		// successful io.Copy returns nil error, not EOF...simulate that to trigger outer handling
		errorsChan <- io.EOF
	}
}
