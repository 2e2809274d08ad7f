// Package transport implements the UDP multicast sender and receiver for
// chunked frames. The sender splits encoded frames into datagrams and emits
// them best-effort; the receiver reassembles them per frame id, evicting
// stale or excess state instead of waiting for retransmissions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/wire"
)

const (
	// DefaultGroup is the well-known multicast group and port for a
	// deployment. It is fixed, not negotiated per session.
	DefaultGroup = "239.0.0.1:9999"

	// DefaultTTL keeps datagrams inside the site network.
	DefaultTTL = 32

	// DefaultFailureThreshold is the number of consecutive failed frame
	// sends after which the sender reports a fatal condition.
	DefaultFailureThreshold = 10

	// defaultChunkRate paces datagram emission so a large frame does not
	// burst into the network all at once. Roughly one chunk per 10µs,
	// matching a small inter-chunk gap rather than real throttling.
	defaultChunkRate rate.Limit = 100_000
	defaultChunkBurst           = 10
)

var (
	ErrPayloadTooSmall = errors.New("transport: payload below minimum frame size")
	ErrTooManyFailures = errors.New("transport: too many consecutive send failures")
)

// SenderStats is a point-in-time snapshot of sender counters, owned by the
// sending loop and exposed only through Snapshot.
type SenderStats struct {
	FramesSent  uint64
	ChunksSent  uint64
	SendErrors  uint64
	BytesSent   uint64
	NextFrameID uint32
}

type SenderOption func(*Sender) error

func SenderMaxChunkSize(size int) SenderOption {
	return func(s *Sender) error {
		if size <= 0 {
			return fmt.Errorf("transport: invalid chunk size: %d", size)
		}
		s.maxChunkSize = size
		return nil
	}
}

func SenderTTL(ttl int) SenderOption {
	return func(s *Sender) error {
		if ttl < 1 || ttl > 255 {
			return fmt.Errorf("transport: invalid multicast TTL: %d", ttl)
		}
		s.ttl = ttl
		return nil
	}
}

func SenderFailureThreshold(n int) SenderOption {
	return func(s *Sender) error {
		if n < 1 {
			return fmt.Errorf("transport: invalid failure threshold: %d", n)
		}
		s.failureThreshold = n
		return nil
	}
}

func SenderChunkRate(limit rate.Limit, burst int) SenderOption {
	return func(s *Sender) error {
		s.limiter = rate.NewLimiter(limit, burst)
		return nil
	}
}

func SenderMetrics(m *metrics.Metrics) SenderOption {
	return func(s *Sender) error {
		s.metrics = m
		return nil
	}
}

func SenderLogger(log *slog.Logger) SenderOption {
	return func(s *Sender) error {
		s.log = log
		return nil
	}
}

// Sender emits encoded frames as chunked datagrams to a multicast group. It
// is owned by a single capture/send loop and is not safe for concurrent use.
type Sender struct {
	conn  *net.UDPConn
	group *net.UDPAddr

	maxChunkSize     int
	ttl              int
	failureThreshold int
	limiter          *rate.Limiter
	log              *slog.Logger
	metrics          *metrics.Metrics

	frameID      uint32
	consecErrors int
	stats        SenderStats
}

// NewSender opens a UDP socket targeting the multicast group. group has the
// form "239.0.0.1:9999".
func NewSender(group string, opts ...SenderOption) (*Sender, error) {
	s := &Sender{
		maxChunkSize:     wire.DefaultMaxChunkSize,
		ttl:              DefaultTTL,
		failureThreshold: DefaultFailureThreshold,
		limiter:          rate.NewLimiter(defaultChunkRate, defaultChunkBurst),
		log:              slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("component", "sender")

	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve group %q: %w", group, err)
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("transport: %q is not a multicast group", group)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial group %q: %w", group, err)
	}
	if err := ipv4.NewConn(conn).SetTTL(s.ttl); err != nil {
		s.log.Warn("failed to set multicast TTL", "ttl", s.ttl, "error", err)
	}
	s.conn = conn
	s.group = addr
	return s, nil
}

// SendFrame splits payload into chunks and transmits them in index order,
// then retransmits the first and last chunk once so the frame-boundary
// markers survive isolated packet loss. It returns the frame id used.
//
// The frame id advances only after a fully successful send. Payloads below
// the minimum plausible frame size are rejected without transmitting
// anything. After the configured number of consecutive transport failures
// the returned error wraps ErrTooManyFailures and the caller should stop the
// session.
func (s *Sender) SendFrame(ctx context.Context, payload []byte) (uint32, error) {
	if len(payload) < beamcast.MinFrameSize {
		return s.frameID, fmt.Errorf("%w: %d bytes", ErrPayloadTooSmall, len(payload))
	}

	chunks := wire.Split(s.frameID, payload, s.maxChunkSize)
	for _, c := range chunks {
		if err := s.writeChunk(ctx, c); err != nil {
			return s.frameID, s.fail(err)
		}
	}

	// Redundant pass for the header and footer carriers. The frame is
	// already complete on the wire, so a failure here only costs the extra
	// copy.
	for _, c := range []wire.Chunk{chunks[0], chunks[len(chunks)-1]} {
		if err := s.writeChunk(ctx, c); err != nil {
			s.log.Debug("redundant chunk resend failed", "frame_id", c.FrameID, "chunk", c.Index, "error", err)
			break
		}
	}

	id := s.frameID
	s.frameID++ // wraps at the uint32 modulus
	s.consecErrors = 0
	s.stats.FramesSent++
	s.stats.BytesSent += uint64(len(payload))
	s.stats.NextFrameID = s.frameID
	s.metrics.IncFramesSent()

	return id, nil
}

func (s *Sender) writeChunk(ctx context.Context, c wire.Chunk) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.conn.Write(c.Marshal()); err != nil {
		return fmt.Errorf("write chunk %d/%d of frame %d: %w", c.Index, c.Count, c.FrameID, err)
	}
	s.stats.ChunksSent++
	s.metrics.AddChunksSent(1)
	return nil
}

func (s *Sender) fail(err error) error {
	s.consecErrors++
	s.stats.SendErrors++
	s.metrics.IncSendErrors()
	if s.consecErrors >= s.failureThreshold {
		return fmt.Errorf("%w (%d): %v", ErrTooManyFailures, s.consecErrors, err)
	}
	return err
}

// Snapshot returns the sender counters. Call it from the owning loop only.
func (s *Sender) Snapshot() SenderStats {
	return s.stats
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
