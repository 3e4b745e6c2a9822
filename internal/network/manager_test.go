package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu           sync.Mutex
	reject       map[uuid.UUID]error
	connected    []uuid.UUID
	messages     []protocol.Message
	disconnected []uuid.UUID
	events       chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{reject: make(map[uuid.UUID]error), events: make(chan string, 64)}
}

func (h *recordingHandler) Admit(p models.PlayerInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reject[p.ID]
}

func (h *recordingHandler) OnConnect(p models.PlayerInfo) {
	h.mu.Lock()
	h.connected = append(h.connected, p.ID)
	h.mu.Unlock()
	h.events <- "connect"
}

func (h *recordingHandler) OnMessage(_ uuid.UUID, msg protocol.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	h.events <- "message"
}

func (h *recordingHandler) OnDisconnect(id uuid.UUID) {
	h.mu.Lock()
	h.disconnected = append(h.disconnected, id)
	h.mu.Unlock()
	h.events <- "disconnect"
}

func waitEvent(t *testing.T, h *recordingHandler, want string) {
	t.Helper()
	select {
	case got := <-h.events:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func startManager(t *testing.T, h Handler) (*Manager, string) {
	t.Helper()
	m := NewManager(h, testLogger())
	addr, err := m.Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = m.Close()
	})
	return m, addr.String()
}

// inbox collects frames from a client's read loop.
type inbox chan protocol.Message

func (in inbox) fn() MessageFunc { return func(msg protocol.Message) { in <- msg } }

func (in inbox) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-in:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func dialPlayer(t *testing.T, addr, name string) (*Client, inbox) {
	t.Helper()
	in := make(inbox, 32)
	c, err := Dial(context.Background(), addr, models.NewPlayerInfo(name, false), in.fn(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, in
}

func TestManagerConnectSendAndBroadcast(t *testing.T) {
	h := newRecordingHandler()
	m, addr := startManager(t, h)

	ana, anaIn := dialPlayer(t, addr, "ana")
	waitEvent(t, h, "connect")
	ben, benIn := dialPlayer(t, addr, "ben")
	waitEvent(t, h, "connect")
	assert.Len(t, m.Peers(), 2)

	require.NoError(t, ana.Send(protocol.TurnTransition{TurnID: 7}))
	waitEvent(t, h, "message")
	h.mu.Lock()
	assert.Equal(t, 7, h.messages[0].(protocol.TurnTransition).TurnID)
	h.mu.Unlock()

	require.NoError(t, m.Send(ben.Self.ID, protocol.HandSync{}))
	assert.IsType(t, protocol.HandSync{}, benIn.next(t))

	m.Broadcast(protocol.TurnTransition{TurnID: 1})
	assert.Equal(t, 1, anaIn.next(t).(protocol.TurnTransition).TurnID)
	assert.Equal(t, 1, benIn.next(t).(protocol.TurnTransition).TurnID)

	assert.Error(t, m.Send(uuid.New(), protocol.HandSync{}))
}

func TestManagerBroadcastFuncIsPerRecipient(t *testing.T) {
	h := newRecordingHandler()
	m, addr := startManager(t, h)
	ana, anaIn := dialPlayer(t, addr, "ana")
	waitEvent(t, h, "connect")
	ben, benIn := dialPlayer(t, addr, "ben")
	waitEvent(t, h, "connect")

	m.BroadcastFunc(func(id uuid.UUID) []protocol.Message {
		return []protocol.Message{
			protocol.Disconnect{PlayerID: uuid.New(), Reason: id.String()},
			protocol.TurnTransition{TurnID: 2},
		}
	})

	first := anaIn.next(t).(protocol.Disconnect)
	assert.Equal(t, ana.Self.ID.String(), first.Reason)
	assert.IsType(t, protocol.TurnTransition{}, anaIn.next(t))

	first = benIn.next(t).(protocol.Disconnect)
	assert.Equal(t, ben.Self.ID.String(), first.Reason)
	assert.IsType(t, protocol.TurnTransition{}, benIn.next(t))
}

func TestManagerDisconnectIsBroadcast(t *testing.T) {
	h := newRecordingHandler()
	m, addr := startManager(t, h)
	ana, _ := dialPlayer(t, addr, "ana")
	waitEvent(t, h, "connect")
	_, benIn := dialPlayer(t, addr, "ben")
	waitEvent(t, h, "connect")

	require.NoError(t, ana.Close())
	waitEvent(t, h, "disconnect")

	msg := benIn.next(t)
	require.IsType(t, protocol.Disconnect{}, msg)
	assert.Equal(t, ana.Self.ID, msg.(protocol.Disconnect).PlayerID)
	assert.Len(t, m.Peers(), 1)
}

func TestManagerRejectsOnAdmitError(t *testing.T) {
	h := newRecordingHandler()
	_, addr := startManager(t, h)

	self := models.NewPlayerInfo("late", false)
	h.mu.Lock()
	h.reject[self.ID] = errors.New("match in progress")
	h.mu.Unlock()

	in := make(inbox, 4)
	c, err := Dial(context.Background(), addr, self, in.fn(), testLogger())
	require.NoError(t, err)
	defer c.Close()

	msg := in.next(t)
	require.IsType(t, protocol.Disconnect{}, msg)
	assert.Equal(t, "match in progress", msg.(protocol.Disconnect).Reason)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed after rejection")
	}
	assert.ErrorContains(t, c.Err(), "match in progress")
}

func TestManagerRejectsDuplicatePlayer(t *testing.T) {
	h := newRecordingHandler()
	_, addr := startManager(t, h)
	ana, _ := dialPlayer(t, addr, "ana")
	waitEvent(t, h, "connect")

	in := make(inbox, 4)
	dup, err := Dial(context.Background(), addr, ana.Self, in.fn(), testLogger())
	require.NoError(t, err)
	defer dup.Close()

	msg := in.next(t)
	require.IsType(t, protocol.Disconnect{}, msg)
	assert.Equal(t, ErrAlreadyConnected.Error(), msg.(protocol.Disconnect).Reason)
}

func TestManagerDropsConnectionWithoutConnectFrame(t *testing.T) {
	h := newRecordingHandler()
	_, addr := startManager(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.NewWriter(conn).Write(protocol.TurnTransition{TurnID: 1}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	h.mu.Lock()
	assert.Empty(t, h.connected)
	h.mu.Unlock()
}

func TestManagerSkipsMalformedFrames(t *testing.T) {
	h := newRecordingHandler()
	_, addr := startManager(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	w := protocol.NewWriter(conn)
	require.NoError(t, w.Write(protocol.Connect{Player: models.NewPlayerInfo("raw", false)}))
	waitEvent(t, h, "connect")

	_, err = conn.Write([]byte("not json at all\n"))
	require.NoError(t, err)
	require.NoError(t, w.Write(protocol.TurnTransition{TurnID: 4}))

	waitEvent(t, h, "message")
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.messages, 1)
	assert.Empty(t, h.disconnected)
}

func TestManagerCloseEndsClients(t *testing.T) {
	h := newRecordingHandler()
	m, addr := startManager(t, h)
	ana, _ := dialPlayer(t, addr, "ana")
	waitEvent(t, h, "connect")

	require.NoError(t, m.Close())
	select {
	case <-ana.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client still open after host closed")
	}
	assert.Error(t, ana.Err())
}

// pipePlayer attaches one end of a net.Pipe to m's read loop and sends Connect on the other.
func pipePlayer(t *testing.T, m *Manager, h *recordingHandler, name string) (models.PlayerInfo, net.Conn) {
	t.Helper()
	server, remote := net.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	go m.serveConn(server)
	info := models.NewPlayerInfo(name, false)
	require.NoError(t, protocol.NewWriter(remote).Write(protocol.Connect{Player: info}))
	waitEvent(t, h, "connect")
	return info, remote
}

func TestManagerStalledPeerDoesNotBlockOthers(t *testing.T) {
	h := newRecordingHandler()
	m := NewManager(h, testLogger())
	t.Cleanup(func() { _ = m.Close() })

	stalled, _ := pipePlayer(t, m, h, "stalled")
	healthy, healthyConn := pipePlayer(t, m, h, "healthy")

	received := make(chan protocol.Message, 512)
	go func() {
		r := protocol.NewReader(healthyConn)
		for {
			msg, err := r.Read()
			if err != nil {
				return
			}
			received <- msg
		}
	}()

	m.mu.Lock()
	healthyPeer := m.peers[healthy.ID]
	m.mu.Unlock()
	require.NotNil(t, healthyPeer)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 3*outboundBuffer; i++ {
			for len(healthyPeer.out) > outboundBuffer/2 {
				time.Sleep(time.Millisecond)
			}
			m.Broadcast(protocol.TurnTransition{TurnID: i})
		}
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked behind a stalled peer")
	}

	waitEvent(t, h, "disconnect")
	h.mu.Lock()
	assert.Equal(t, []uuid.UUID{stalled.ID}, h.disconnected)
	h.mu.Unlock()

	var turns int
	deadline := time.After(5 * time.Second)
	for turns < 3*outboundBuffer {
		select {
		case msg := <-received:
			if _, ok := msg.(protocol.TurnTransition); ok {
				turns++
			}
		case <-deadline:
			t.Fatalf("healthy peer got %d of %d frames", turns, 3*outboundBuffer)
		}
	}
	assert.Len(t, m.Peers(), 1)
	assert.NoError(t, m.Send(healthy.ID, protocol.HandSync{}))
}
