// Package discovery lets clients find a host on the local network. The host broadcasts
// a small UDP datagram at a fixed interval; clients listen for a bounded window and
// collect the distinct hosts they heard.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Marker prefixes every announcement.
	Marker = "KAMPAI_HOST"
	// DefaultPort is the well-known discovery port.
	DefaultPort = 7778
	// DefaultInterval is how often the host announces itself.
	DefaultInterval = 1500 * time.Millisecond
	// DefaultTimeout is how long a client listens per discovery attempt.
	DefaultTimeout = 3 * time.Second
)

var ErrNotAnnouncement = errors.New("not a host announcement")

// Announcement is the payload of one discovery datagram.
type Announcement struct {
	HostName string `json:"hostName"`
	HostIP   string `json:"hostIp"`
}

// FormatAnnouncement renders MARKER:<hostName>:<hostIp>.
func FormatAnnouncement(a Announcement) string {
	return fmt.Sprintf("%s:%s:%s", Marker, a.HostName, a.HostIP)
}

// ParseAnnouncement is the inverse of FormatAnnouncement. The address is taken after the
// last colon so host names may themselves contain colons.
func ParseAnnouncement(payload []byte) (Announcement, error) {
	s := strings.TrimSpace(string(payload))
	rest, ok := strings.CutPrefix(s, Marker+":")
	if !ok {
		return Announcement{}, ErrNotAnnouncement
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Announcement{}, fmt.Errorf("%w: missing address", ErrNotAnnouncement)
	}
	a := Announcement{HostName: rest[:i], HostIP: rest[i+1:]}
	if net.ParseIP(a.HostIP) == nil {
		return Announcement{}, fmt.Errorf("%w: bad address %q", ErrNotAnnouncement, a.HostIP)
	}
	return a, nil
}

// Broadcaster periodically announces a host.
type Broadcaster struct {
	Announcement Announcement
	// Target is the destination address, normally the limited broadcast address on the discovery port.
	Target   string
	Interval time.Duration
	Log      *logrus.Entry
}

// NewBroadcaster announces name/ip to 255.255.255.255 on port every DefaultInterval.
func NewBroadcaster(name, ip string, port int, log *logrus.Entry) *Broadcaster {
	return &Broadcaster{
		Announcement: Announcement{HostName: name, HostIP: ip},
		Target:       fmt.Sprintf("255.255.255.255:%d", port),
		Interval:     DefaultInterval,
		Log:          log.WithField("component", "discovery"),
	}
}

// Run sends announcements until ctx is cancelled. Send failures are logged and retried
// on the next tick.
func (b *Broadcaster) Run(ctx context.Context) error {
	dst, err := net.ResolveUDPAddr("udp4", b.Target)
	if err != nil {
		return fmt.Errorf("failed to resolve broadcast target %s: %w", b.Target, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("failed to open broadcast socket: %w", err)
	}
	defer conn.Close()

	payload := []byte(FormatAnnouncement(b.Announcement))
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.Log.Infof("Announcing %q at %s every %s", b.Announcement.HostName, b.Target, interval)
	for {
		if _, err := conn.WriteToUDP(payload, dst); err != nil {
			b.Log.WithError(err).Warn("Announcement failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Host is a discovered announcement plus where it came from.
type Host struct {
	Announcement
	Source string    `json:"source"`
	SeenAt time.Time `json:"seenAt"`
}

type ListenOptions struct {
	Port    int
	Timeout time.Duration
	// SelfIP filters out our own announcements.
	SelfIP string
	Log    *logrus.Entry
}

// Listen binds the discovery port and collects announcements for one window.
func Listen(ctx context.Context, opts ListenOptions) ([]Host, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind discovery port %d: %w", port, err)
	}
	defer conn.Close()
	return Collect(ctx, conn, opts)
}

// Collect reads announcements from conn until the timeout elapses or ctx is cancelled,
// returning distinct hosts keyed by IP in the order first heard.
func Collect(ctx context.Context, conn net.PacketConn, opts ListenOptions) ([]Host, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	seen := make(map[string]int)
	var hosts []Host
	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return hosts, fmt.Errorf("discovery read: %w", err)
		}
		a, err := ParseAnnouncement(buf[:n])
		if err != nil {
			log.WithError(err).WithField("from", from).Debug("Ignoring datagram")
			continue
		}
		if opts.SelfIP != "" && a.HostIP == opts.SelfIP {
			continue
		}
		if i, ok := seen[a.HostIP]; ok {
			hosts[i].SeenAt = time.Now()
			continue
		}
		seen[a.HostIP] = len(hosts)
		hosts = append(hosts, Host{Announcement: a, Source: from.String(), SeenAt: time.Now()})
		log.WithField("host", a.HostName).Debugf("Discovered %s", a.HostIP)
	}
	return hosts, nil
}

// LocalIP returns the first non-loopback IPv4 address of an interface that is up.
func LocalIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", errors.New("no non-loopback IPv4 address found")
}
