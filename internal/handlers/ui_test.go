package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/auth"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSeat is a Participant that records submitted intents.
type fakeSeat struct {
	self models.PlayerInfo
	feed *session.Feed

	mu     sync.Mutex
	got    []game.Intent
	reject error
}

func (f *fakeSeat) Self() models.PlayerInfo { return f.self }
func (f *fakeSeat) Feed() *session.Feed     { return f.feed }

func (f *fakeSeat) Submit(_ context.Context, in game.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	return f.reject
}

func newUITest(t *testing.T) (*fakeSeat, *auth.SeatSigner, *httptest.Server) {
	t.Helper()
	seat := &fakeSeat{self: models.NewPlayerInfo("ana", false), feed: session.NewFeed()}
	seat.feed.Publish(session.Snapshot{Self: seat.self})
	signer, err := auth.NewSeatSigner(time.Hour)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := httptest.NewServer(NewUIServer(seat, signer, logger).Routes())
	t.Cleanup(srv.Close)
	return seat, signer, srv
}

func fetchToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/ui/token", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func dialUI(t *testing.T, ctx context.Context, srv *httptest.Server, token string, protocols ...string) *websocket.Conn {
	t.Helper()
	if len(protocols) == 0 {
		protocols = []string{UISubprotocol}
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ui/ws"
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: protocols,
		HTTPHeader:   http.Header{"Authorization": {"Bearer " + token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readUI(t *testing.T, ctx context.Context, c *websocket.Conn) UIMessage {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var msg UIMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeUI(t *testing.T, ctx context.Context, c *websocket.Conn, msg UIMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

// readUntil skips messages until one of type kind arrives.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, kind string, match func(UIMessage) bool) UIMessage {
	t.Helper()
	for {
		msg := readUI(t, ctx, c)
		if msg.Type == kind && (match == nil || match(msg)) {
			return msg
		}
	}
}

func TestStateRequiresToken(t *testing.T) {
	seat, _, srv := newUITest(t)

	resp, err := http.Get(srv.URL + "/ui/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := fetchToken(t, srv)
	resp, err = http.Get(srv.URL + "/ui/state?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, seat.self.ID, snap.Self.ID)
}

func TestStateRejectsOtherSeat(t *testing.T) {
	_, signer, srv := newUITest(t)
	other, err := signer.CreateSeatToken(uuid.New())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ui/state", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+other)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	seat, _, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialUI(t, ctx, srv, fetchToken(t, srv))
	first := readUntil(t, ctx, c, "snapshot", nil)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, seat.self.ID, first.Snapshot.Self.ID)

	hand := game.Hand{PlayerID: seat.self.ID, Count: 1, Cards: []models.Card{{Color: models.ColorRed, Value: models.ValueSeven}}}
	seat.feed.Update(func(s *session.Snapshot) { s.Hand = hand })

	next := readUntil(t, ctx, c, "snapshot", func(m UIMessage) bool {
		return m.Snapshot != nil && m.Snapshot.Hand.Count == 1
	})
	assert.Equal(t, hand, next.Snapshot.Hand)
}

func TestWebSocketForwardsIntents(t *testing.T) {
	seat, _, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dialUI(t, ctx, srv, fetchToken(t, srv))

	draw := game.DrawCard(seat.self.ID)
	writeUI(t, ctx, c, UIMessage{Type: "intent", RequestID: "r1", Intent: &draw})
	res := readUntil(t, ctx, c, "result", nil)
	assert.Equal(t, "r1", res.RequestID)
	assert.True(t, res.Success)

	seat.mu.Lock()
	seat.reject = game.ErrNotYourTurn
	seat.mu.Unlock()
	writeUI(t, ctx, c, UIMessage{Type: "intent", RequestID: "r2", Intent: &draw})
	res = readUntil(t, ctx, c, "result", nil)
	assert.Equal(t, "r2", res.RequestID)
	assert.False(t, res.Success)
	assert.Equal(t, "not your turn", res.Reason)

	seat.mu.Lock()
	defer seat.mu.Unlock()
	require.Len(t, seat.got, 2)
	assert.Equal(t, game.IntentDrawCard, seat.got[0].Type)
}

func TestWebSocketPingAndBadInput(t *testing.T) {
	_, _, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dialUI(t, ctx, srv, fetchToken(t, srv))

	writeUI(t, ctx, c, UIMessage{Type: "ping"})
	readUntil(t, ctx, c, "pong", nil)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	msg := readUntil(t, ctx, c, "error", nil)
	assert.Equal(t, "Invalid JSON format.", msg.Message)

	writeUI(t, ctx, c, UIMessage{Type: "dance"})
	msg = readUntil(t, ctx, c, "error", nil)
	assert.Contains(t, msg.Message, "dance")
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	_, _, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialUI(t, ctx, srv, "garbage")
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(InvalidAuthTokenError), websocket.CloseStatus(err))
}

func TestWebSocketRejectsOtherSeat(t *testing.T) {
	_, signer, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	other, err := signer.CreateSeatToken(uuid.New())
	require.NoError(t, err)

	c := dialUI(t, ctx, srv, other)
	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(SeatMismatchError), websocket.CloseStatus(err))
}

func TestWebSocketRejectsWrongSubprotocol(t *testing.T) {
	_, _, srv := newUITest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialUI(t, ctx, srv, fetchToken(t, srv), "lobby")
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}

func TestRequestTokenSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ui/state?token=q", nil)
	assert.Equal(t, "q", requestToken(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", requestToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ui/state", nil)
	r.Header.Set("Cookie", "other=1; "+SeatCookie+"=c; x=y")
	assert.Equal(t, "c", requestToken(r))
}

func TestTokenOnlyForLoopback(t *testing.T) {
	seat := &fakeSeat{self: models.NewPlayerInfo("ana", false), feed: session.NewFeed()}
	signer, err := auth.NewSeatSigner(0)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewUIServer(seat, signer, logger).Routes()

	r := httptest.NewRequest(http.MethodPost, "/ui/token", nil)
	r.RemoteAddr = "192.168.1.20:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
