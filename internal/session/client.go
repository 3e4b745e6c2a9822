package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/network"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ErrRejected wraps the reason the host gave for refusing an intent.
var ErrRejected = errors.New("intent rejected")

// Client is a non-host participant. It never applies an intent itself: every intent is
// sent to the host and the local state only changes when the host says so.
type Client struct {
	self models.PlayerInfo
	conn *network.Client
	feed *Feed
	log  *logrus.Entry

	ready chan struct{} // closed once conn is set

	mu      sync.Mutex
	pending map[uuid.UUID]chan protocol.IntentResult
}

// Join connects to a host and starts mirroring its state.
func Join(ctx context.Context, addr string, self models.PlayerInfo, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	self.IsHost = false
	c := &Client{
		self:    self,
		feed:    NewFeed(),
		log:     log.WithFields(logrus.Fields{"component": "session", "player": self.ID}),
		pending: make(map[uuid.UUID]chan protocol.IntentResult),
		ready:   make(chan struct{}),
	}
	c.feed.Update(func(s *Snapshot) {
		s.Self = self
		s.Lobby = []models.PlayerInfo{self}
		s.Hand = game.Hand{PlayerID: self.ID, Cards: []models.Card{}}
	})

	conn, err := network.Dial(ctx, addr, self, c.handle, log)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	close(c.ready)
	return c, nil
}

func (c *Client) Self() models.PlayerInfo { return c.self }
func (c *Client) Feed() *Feed             { return c.feed }

// Done is closed when the host connection is gone.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Err reports why the connection ended.
func (c *Client) Err() error { return c.conn.Err() }

// Close leaves the session.
func (c *Client) Close() error { return c.conn.Close() }

// Submit sends the intent to the host and waits for its IntentResult.
func (c *Client) Submit(ctx context.Context, in game.Intent) error {
	in.PlayerID = c.self.ID
	req := protocol.IntentRequest{RequestID: uuid.New(), Intent: in}
	wait := make(chan protocol.IntentResult, 1)

	c.mu.Lock()
	c.pending[req.RequestID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	if err := c.conn.Send(req); err != nil {
		return fmt.Errorf("failed to send intent: %w", err)
	}
	select {
	case res := <-wait:
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrRejected, res.Reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.Done():
		return fmt.Errorf("connection lost: %w", c.conn.Err())
	}
}

// handle runs on the connection's read goroutine, so frames are mirrored in arrival order.
func (c *Client) handle(msg protocol.Message) {
	<-c.ready
	switch m := msg.(type) {
	case protocol.Connect:
		c.feed.Update(func(s *Snapshot) {
			for _, p := range s.Lobby {
				if p.ID == m.Player.ID {
					return
				}
			}
			s.Lobby = append(append([]models.PlayerInfo(nil), s.Lobby...), m.Player)
		})

	case protocol.Disconnect:
		c.log.WithFields(logrus.Fields{"left": m.PlayerID, "reason": m.Reason}).Info("Player left")
		c.feed.Update(func(s *Snapshot) {
			lobby := make([]models.PlayerInfo, 0, len(s.Lobby))
			for _, p := range s.Lobby {
				if p.ID != m.PlayerID {
					lobby = append(lobby, p)
				}
			}
			s.Lobby = lobby
		})

	case protocol.StateSync:
		c.feed.Update(func(s *Snapshot) {
			s.State = m.State
			if m.State.GameID == uuid.Nil {
				s.Hand = game.Hand{PlayerID: c.self.ID, Cards: []models.Card{}}
				s.Deadline = time.Time{}
				return
			}
			s.Rules = m.State.Rules
			if m.Hand.PlayerID == c.self.ID && len(m.Hand.Cards) == m.Hand.Count {
				s.Hand = m.Hand
			}
		})

	case protocol.HandSync:
		if m.Hand.PlayerID != c.self.ID {
			c.log.WithField("owner", m.Hand.PlayerID).Warn("Received a hand that is not ours")
			return
		}
		c.feed.Update(func(s *Snapshot) { s.Hand = m.Hand })

	case protocol.ChallengeWindowOpened:
		c.feed.Update(func(s *Snapshot) {
			s.Deadline = time.Now().Add(time.Duration(m.Seconds) * time.Second)
		})

	case protocol.TurnTransition:
		c.feed.Update(func(s *Snapshot) {
			if m.Seconds > 0 {
				s.Deadline = time.Now().Add(time.Duration(m.Seconds) * time.Second)
			} else {
				s.Deadline = time.Time{}
			}
		})
		if m.CurrentPlayerID == c.self.ID {
			if err := c.conn.Send(protocol.TurnTransition{TurnID: m.TurnID, CurrentPlayerID: c.self.ID}); err != nil {
				c.log.WithError(err).Warn("Turn acknowledgment not sent")
			}
		}

	case protocol.IntentResult:
		c.mu.Lock()
		wait, ok := c.pending[m.RequestID]
		c.mu.Unlock()
		if !ok {
			c.log.WithField("request", m.RequestID).Debug("Result for unknown request")
			return
		}
		select {
		case wait <- m:
		default:
		}

	default:
		c.log.WithField("kind", msg.Kind()).Debug("Ignoring frame")
	}
}
