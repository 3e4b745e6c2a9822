package network

import (
	"net"
	"sync"

	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
)

// outboundBuffer is how many frames may queue for one peer before it is dropped.
const outboundBuffer = 64

// Peer is one accepted connection bound to a player. Frames are queued on its outbound
// channel and written by a dedicated goroutine, in FIFO order.
type Peer struct {
	Info models.PlayerInfo

	conn      net.Conn
	out       chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func newPeer(conn net.Conn, info models.PlayerInfo, log *logrus.Entry) *Peer {
	return &Peer{
		Info: info,
		conn: conn,
		out:  make(chan protocol.Message, outboundBuffer),
		done: make(chan struct{}),
		log:  log.WithField("peer", info.ID),
	}
}

// enqueue queues msg for the writer without blocking. A peer whose queue is full is
// closed so that its read loop reports the disconnect; enqueue then returns false.
func (p *Peer) enqueue(msg protocol.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- msg:
		return true
	default:
		p.log.WithField("kind", msg.Kind()).Warn("Outbound queue full, closing peer")
		p.close()
		return false
	}
}

// writeLoop drains the outbound channel. A write to an unresponsive peer blocks this
// loop indefinitely; other peers have their own loops.
func (p *Peer) writeLoop() {
	w := protocol.NewWriter(p.conn)
	for {
		select {
		case msg := <-p.out:
			if err := w.Write(msg); err != nil {
				p.log.WithError(err).Warn("Write failed, closing peer")
				p.close()
				return
			}
			p.log.WithField("kind", msg.Kind()).Trace("Frame written")
		case <-p.done:
			return
		}
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Done is closed when the peer's connection has been torn down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}
