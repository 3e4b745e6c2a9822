// internal/handlers/ui.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/auth"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/middleware"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/sirupsen/logrus"
)

// UISubprotocol is the websocket subprotocol a UI must request on /ui/ws.
const UISubprotocol = "kampai"

// writeTimeout bounds every websocket write to a UI.
var writeTimeout = 5 * time.Second

// UIMessage is the envelope exchanged with a UI over /ui/ws.
type UIMessage struct {
	Type string `json:"type"`

	// intent, result
	RequestID string       `json:"requestId,omitempty"`
	Intent    *game.Intent `json:"intent,omitempty"`
	Success   bool         `json:"success,omitempty"`
	Reason    string       `json:"reason,omitempty"`

	// snapshot
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// UIServer lets a local browser or terminal UI watch the table and act for the
// player this process seats. It never sees another player's hand.
type UIServer struct {
	p      session.Participant
	seats  *auth.SeatSigner
	logger logrus.FieldLogger
}

func NewUIServer(p session.Participant, seats *auth.SeatSigner, logger logrus.FieldLogger) *UIServer {
	return &UIServer{p: p, seats: seats, logger: logger}
}

// Routes returns the bridge's handler, wrapped in request logging.
func (s *UIServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ui/token", s.handleToken)
	mux.HandleFunc("/ui/state", s.handleState)
	mux.HandleFunc("/ui/ws", s.handleWS)
	return middleware.LogMiddleware(s.logger)(mux)
}

// handleToken hands a seat token to a UI running on this machine.
func (s *UIServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isLoopback(r) {
		http.Error(w, "seat tokens are only issued to local clients", http.StatusForbidden)
		return
	}
	token, err := s.seats.CreateSeatToken(s.p.Self().ID)
	if err != nil {
		s.logger.Errorf("failed to create seat token: %v", err)
		http.Error(w, "failed to create token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SeatCookie,
		Value:    token,
		Path:     "/ui",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "playerId": s.p.Self().ID.String()})
}

// handleState returns the latest snapshot as JSON.
func (s *UIServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.authorize(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.p.Feed().Latest())
}

// handleWS upgrades to a websocket, pushes every new snapshot and forwards intents.
func (s *UIServer) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{UISubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != UISubprotocol {
		c.Close(BadSubprotocolError, "client must speak the kampai subprotocol")
		return
	}
	if _, err := s.authorize(r); err != nil {
		code := websocket.StatusCode(InvalidAuthTokenError)
		if errors.Is(err, errSeatMismatch) {
			code = SeatMismatchError
		}
		c.Close(code, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)

	updates, stop := s.p.Feed().Subscribe()
	defer stop()
	go s.pushSnapshots(ctx, c, updates)

	err = s.readLoop(ctx, c)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// pushSnapshots writes each snapshot from the feed until ctx ends.
func (s *UIServer) pushSnapshots(ctx context.Context, c *websocket.Conn, updates <-chan session.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := s.send(ctx, c, UIMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				return
			}
		}
	}
}

func (s *UIServer) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			s.sendError(ctx, c, "Only text messages are supported.")
			continue
		}

		var msg UIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, c, "Invalid JSON format.")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = s.send(ctx, c, UIMessage{Type: "pong"})
		case "intent":
			if msg.Intent == nil {
				s.sendError(ctx, c, "intent message without an intent")
				continue
			}
			go s.submit(ctx, c, msg.RequestID, *msg.Intent)
		default:
			s.sendError(ctx, c, fmt.Sprintf("Unknown message type: %s", msg.Type))
		}
	}
}

// submit hands the intent to the session and reports the outcome to the UI.
func (s *UIServer) submit(ctx context.Context, c *websocket.Conn, requestID string, in game.Intent) {
	res := UIMessage{Type: "result", RequestID: requestID, Success: true}
	if err := s.p.Submit(ctx, in); err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Success = false
		res.Reason = reasonOf(err)
	}
	_ = s.send(ctx, c, res)
}

func (s *UIServer) send(ctx context.Context, c *websocket.Conn, msg UIMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Errorf("failed to marshal UI message: %v", err)
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			s.logger.Debugf("failed writing to UI: %v", err)
		}
		return err
	}
	return nil
}

func (s *UIServer) sendError(ctx context.Context, c *websocket.Conn, message string) {
	_ = s.send(ctx, c, UIMessage{Type: "error", Message: message})
}

var errSeatMismatch = errors.New("token belongs to another seat")

// authorize checks that the request carries a valid token for this process's seat.
func (s *UIServer) authorize(r *http.Request) (uuid.UUID, error) {
	token := requestToken(r)
	if token == "" {
		return uuid.Nil, errors.New("missing seat token")
	}
	id, err := s.seats.AuthenticateSeatToken(token)
	if err != nil {
		return uuid.Nil, err
	}
	if id != s.p.Self().ID {
		return uuid.Nil, errSeatMismatch
	}
	return id, nil
}

// reasonOf extracts the rule violation text from a rejected intent.
func reasonOf(err error) string {
	var re *game.RuleError
	if errors.As(err, &re) {
		return re.Reason
	}
	if errors.Is(err, session.ErrRejected) {
		return strings.TrimPrefix(err.Error(), session.ErrRejected.Error()+": ")
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
