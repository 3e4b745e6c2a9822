// Package network moves protocol frames between the host and its clients over TCP.
// The host runs a Manager that accepts one connection per player; each client holds a
// single Client connection to the host.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the fixed control-plane TCP port.
const DefaultPort = 7777

// HandshakeTimeout bounds how long an accepted connection may take to send its Connect frame.
var HandshakeTimeout = 10 * time.Second

// ErrAlreadyConnected rejects a second connection for a player id that is already bound.
var ErrAlreadyConnected = errors.New("player already connected")

// Handler receives the host-side connection events.
type Handler interface {
	// Admit runs before a connecting player is registered; returning an error rejects them.
	Admit(player models.PlayerInfo) error
	// OnConnect runs once the player is registered and can be sent frames.
	OnConnect(player models.PlayerInfo)
	// OnMessage runs on the connection's read goroutine for every decoded frame after Connect.
	OnMessage(from uuid.UUID, msg protocol.Message)
	// OnDisconnect runs after the player has been removed.
	OnDisconnect(playerID uuid.UUID)
}

// Manager is the host side of the transport: it owns the player-id to peer map.
type Manager struct {
	mu       sync.Mutex
	peers    map[uuid.UUID]*Peer
	listener net.Listener
	closed   bool

	handler Handler
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// NewManager creates a Manager that reports to handler.
func NewManager(handler Handler, log *logrus.Entry) *Manager {
	return &Manager{
		peers:   make(map[uuid.UUID]*Peer),
		handler: handler,
		log:     log.WithField("component", "network"),
	}
}

// Listen opens the listening socket and returns its address.
func (m *Manager) Listen(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
	m.log.Infof("Listening on %s", l.Addr())
	return l.Addr(), nil
}

// Serve accepts connections until ctx is cancelled or the Manager is closed.
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l == nil {
		return errors.New("Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = m.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.serveConn(conn)
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func (m *Manager) ListenAndServe(ctx context.Context, addr string) error {
	if _, err := m.Listen(addr); err != nil {
		return err
	}
	return m.Serve(ctx)
}

// serveConn is the per-connection read loop.
func (m *Manager) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := m.log.WithField("remote", remote)
	reader := protocol.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	first, err := reader.Read()
	if err != nil {
		log.WithError(err).Warn("Connection closed before Connect")
		_ = conn.Close()
		return
	}
	hello, ok := first.(protocol.Connect)
	if !ok {
		log.Warnf("Expected Connect, got %s", first.Kind())
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	peer, err := m.register(conn, hello.Player)
	if err != nil {
		log.WithError(err).WithField("player", hello.Player.ID).Warn("Connection rejected")
		_ = protocol.NewWriter(conn).Write(protocol.Disconnect{PlayerID: hello.Player.ID, Reason: err.Error()})
		_ = conn.Close()
		return
	}
	go peer.writeLoop()
	log.WithFields(logrus.Fields{"player": hello.Player.ID, "name": hello.Player.Name}).Info("Player connected")
	m.handler.OnConnect(hello.Player)

	reason := "connection closed"
	for {
		msg, err := reader.Read()
		if err != nil {
			if protocol.IsProtocolError(err) {
				log.WithError(err).Warn("Dropping bad frame")
				continue
			}
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			break
		}
		log.WithField("kind", msg.Kind()).Debug("Frame received")
		m.handler.OnMessage(hello.Player.ID, msg)
	}
	m.drop(peer, reason)
}

func (m *Manager) register(conn net.Conn, info models.PlayerInfo) (*Peer, error) {
	if info.ID == uuid.Nil {
		return nil, errors.New("missing player id")
	}
	if err := m.handler.Admit(info); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, net.ErrClosed
	}
	if _, exists := m.peers[info.ID]; exists {
		return nil, ErrAlreadyConnected
	}
	peer := newPeer(conn, info, m.log)
	m.peers[info.ID] = peer
	return peer, nil
}

// drop removes the peer, tells everyone else, and notifies the handler.
func (m *Manager) drop(peer *Peer, reason string) {
	m.mu.Lock()
	current, ok := m.peers[peer.Info.ID]
	if ok && current == peer {
		delete(m.peers, peer.Info.ID)
	}
	m.mu.Unlock()
	peer.close()
	if !ok || current != peer {
		return
	}

	m.log.WithFields(logrus.Fields{"player": peer.Info.ID, "reason": reason}).Info("Player disconnected")
	m.Broadcast(protocol.Disconnect{PlayerID: peer.Info.ID, Reason: reason})
	m.handler.OnDisconnect(peer.Info.ID)
}

// snapshot copies the current peers so writes happen outside the lock.
func (m *Manager) snapshot() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	return peers
}

// Send queues msg for one player.
func (m *Manager) Send(playerID uuid.UUID, msg protocol.Message) error {
	m.mu.Lock()
	peer, ok := m.peers[playerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("player %s is not connected", playerID)
	}
	if !peer.enqueue(msg) {
		return fmt.Errorf("player %s connection closed", playerID)
	}
	return nil
}

// Broadcast queues msg for every connected player.
func (m *Manager) Broadcast(msg protocol.Message) {
	for _, p := range m.snapshot() {
		p.enqueue(msg)
	}
}

// BroadcastFunc queues a per-recipient list of frames, built by build for each connected player.
func (m *Manager) BroadcastFunc(build func(playerID uuid.UUID) []protocol.Message) {
	for _, p := range m.snapshot() {
		for _, msg := range build(p.Info.ID) {
			if !p.enqueue(msg) {
				break
			}
		}
	}
}

// Peers lists the connected players.
func (m *Manager) Peers() []models.PlayerInfo {
	peers := m.snapshot()
	infos := make([]models.PlayerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.Info)
	}
	return infos
}

// Remove closes a player's connection; the read loop then reports the disconnect.
func (m *Manager) Remove(playerID uuid.UUID) {
	m.mu.Lock()
	peer, ok := m.peers[playerID]
	m.mu.Unlock()
	if ok {
		peer.close()
	}
}

// Close stops accepting, closes every peer and waits for the read loops to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	l := m.listener
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	for _, p := range peers {
		p.close()
	}
	m.wg.Wait()
	return err
}
