package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wlynxg/anet"

	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/transport"
	"github.com/beamlab/beamcast/wire"
)

const (
	// DefaultReadTimeout doubles as the housekeeping interval: the receive
	// loop wakes up at least this often to evict stale pending frames even
	// when the group is silent.
	DefaultReadTimeout = time.Second

	// recvBufferSize absorbs the burst of a full frame's chunks arriving
	// back to back.
	recvBufferSize = 10_000_000

	// maxDatagram is the largest UDP payload we ever read.
	maxDatagram = 65535
)

// RenderFunc receives each completed, validated frame. It is called from the
// receive loop, so it must not block for long; retaining the last good frame
// across gaps is the render side's responsibility.
type RenderFunc func(frameID uint32, payload []byte)

// ReceiveStats is a point-in-time snapshot of the receive loop.
type ReceiveStats struct {
	SessionID       string
	Group           string
	Interface       string
	MalformedPacket uint64
	LossRate        float64
	Receiver        transport.ReceiverStats
}

type ReceiveOption func(*ReceiveSession) error

// ReceiveInterface pins the multicast join to a named interface instead of
// auto-selecting the first multicast-capable one.
func ReceiveInterface(name string) ReceiveOption {
	return func(s *ReceiveSession) error {
		s.ifaceName = name
		return nil
	}
}

func ReceiveReadTimeout(d time.Duration) ReceiveOption {
	return func(s *ReceiveSession) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid read timeout: %v", d)
		}
		s.readTimeout = d
		return nil
	}
}

func ReceiveStatsInterval(d time.Duration) ReceiveOption {
	return func(s *ReceiveSession) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid stats interval: %v", d)
		}
		s.statsInterval = d
		return nil
	}
}

func ReceiveMetrics(m *metrics.Metrics) ReceiveOption {
	return func(s *ReceiveSession) error {
		s.metrics = m
		return nil
	}
}

func ReceiveLogger(log *slog.Logger) ReceiveOption {
	return func(s *ReceiveSession) error {
		s.log = log
		return nil
	}
}

// ReceiveSession owns the multicast socket and the reassembly state and runs
// the receive loop on a single goroutine. Completed frames cross to the
// render boundary only through the render callback.
type ReceiveSession struct {
	id     string
	group  string
	conn   *net.UDPConn
	iface  string
	recv   *transport.Receiver
	render RenderFunc

	ifaceName     string
	readTimeout   time.Duration
	statsInterval time.Duration
	log           *slog.Logger
	metrics       *metrics.Metrics

	malformed uint64

	closeOnce sync.Once

	snapMu sync.Mutex
	snap   ReceiveStats
}

// NewReceiveSession joins the multicast group and prepares the loop. recv
// carries the reassembly policy (timeout, pending cap, validator).
func NewReceiveSession(group string, recv *transport.Receiver, render RenderFunc, opts ...ReceiveOption) (*ReceiveSession, error) {
	s := &ReceiveSession{
		id:            uuid.NewString(),
		group:         group,
		recv:          recv,
		render:        render,
		readTimeout:   DefaultReadTimeout,
		statsInterval: DefaultStatsInterval,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("component", "receive-session", "session", s.id)

	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("session: resolve group %q: %w", group, err)
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("session: %q is not a multicast group", group)
	}

	ifc, err := s.multicastInterface()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", ifc, addr)
	if err != nil {
		return nil, fmt.Errorf("session: join group %q: %w", group, err)
	}
	if err := conn.SetReadBuffer(recvBufferSize); err != nil {
		s.log.Warn("failed to grow receive buffer", "error", err)
	}
	s.conn = conn
	if ifc != nil {
		s.iface = ifc.Name
	}
	s.publish()
	return s, nil
}

// multicastInterface resolves the configured interface name, or picks the
// first up, non-loopback, multicast-capable interface. nil lets the stack
// choose.
func (s *ReceiveSession) multicastInterface() (*net.Interface, error) {
	if s.ifaceName != "" {
		ifc, err := net.InterfaceByName(s.ifaceName)
		if err != nil {
			return nil, fmt.Errorf("session: interface %q: %w", s.ifaceName, err)
		}
		return ifc, nil
	}
	ifs, err := anet.Interfaces()
	if err != nil {
		s.log.Warn("interface enumeration failed, letting the stack pick", "error", err)
		return nil, nil
	}
	for i := range ifs {
		f := ifs[i].Flags
		if f&net.FlagUp != 0 && f&net.FlagMulticast != 0 && f&net.FlagLoopback == 0 {
			return &ifs[i], nil
		}
	}
	return nil, nil
}

func (s *ReceiveSession) ID() string {
	return s.id
}

// Run blocks until the context is cancelled, alternating between waiting for
// the next datagram and evicting stale pending frames. Malformed packets and
// per-frame losses never end the loop.
func (s *ReceiveSession) Run(ctx context.Context) error {
	s.log.Info("receive session starting", "group", s.group, "interface", s.iface)
	defer s.log.Info("receive session stopped")

	buf := make([]byte, maxDatagram)
	lastStats := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return fmt.Errorf("session: set read deadline: %w", err)
		}
		n, _, err := s.conn.ReadFromUDP(buf)
		now := time.Now()

		switch {
		case err == nil:
			s.handlePacket(buf[:n], now)
		case errors.Is(err, os.ErrDeadlineExceeded):
			// Quiet group; just run housekeeping below.
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("receive error", "error", err)
		}

		s.recv.Tick(now)
		s.publish()

		if now.Sub(lastStats) >= s.statsInterval {
			lastStats = now
			st := s.recv.Snapshot()
			s.log.Info("receive stats",
				"frames_completed", st.FramesCompleted,
				"frames_discarded", st.FramesDiscarded,
				"frames_timed_out", st.FramesTimedOut,
				"chunks_received", st.ChunksReceived,
				"pending", st.Pending,
			)
		}
	}
}

func (s *ReceiveSession) handlePacket(pkt []byte, now time.Time) {
	chunk, err := wire.Parse(pkt)
	if err != nil {
		s.malformed++
		s.log.Debug("ignoring malformed packet", "size", len(pkt), "error", err)
		return
	}
	frame, outcome := s.recv.OnChunk(chunk, now)
	if outcome == transport.OutcomeCompleted && s.render != nil {
		s.render(frame.FrameID, frame.Payload)
	}
}

func (s *ReceiveSession) publish() {
	snap := ReceiveStats{
		SessionID:       s.id,
		Group:           s.group,
		Interface:       s.iface,
		MalformedPacket: s.malformed,
		LossRate:        s.recv.LossRate(),
		Receiver:        s.recv.Snapshot(),
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// Snapshot returns the last published stats. Safe from any goroutine.
func (s *ReceiveSession) Snapshot() ReceiveStats {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// Close releases the socket, unblocking a Run stuck in a read. It is safe to
// call more than once.
func (s *ReceiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
