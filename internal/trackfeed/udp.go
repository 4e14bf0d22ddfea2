package trackfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// pollInterval is how often a blocked read wakes to check for cancellation.
const pollInterval = 100 * time.Millisecond

// maxDatagram is the largest accepted UDP payload.
const maxDatagram = 64 << 10

// UDPSource receives one wire frame per datagram from a live tracker.
type UDPSource struct {
	conn     *net.UDPConn
	buf      []byte
	minScore float64
	logger   *log.Logger

	received int
	dropped  int
}

// ListenUDP binds addr, for example ":7777".
func ListenUDP(addr string, opts Options) (*UDPSource, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	logger := monitoring.OrDefault(opts.Logger)
	logger.Printf("trackfeed: listening for frames on %s", conn.LocalAddr())
	return &UDPSource{
		conn:     conn,
		buf:      make([]byte, maxDatagram),
		minScore: opts.MinScore,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

// Next blocks until a datagram arrives or ctx is done. A closed socket ends
// the feed with io.EOF.
func (s *UDPSource) Next(ctx context.Context) (counting.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return counting.Frame{}, err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return counting.Frame{}, io.EOF
			}
			return counting.Frame{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return counting.Frame{}, io.EOF
			}
			return counting.Frame{}, fmt.Errorf("%w: %v", ErrSkipFrame, err)
		}
		s.received++
		f, err := Decode(s.buf[:n], s.minScore)
		if err != nil {
			s.dropped++
			s.logger.Printf("trackfeed: dropping datagram from %s: %v", from, err)
			return counting.Frame{}, fmt.Errorf("%w: %v", ErrSkipFrame, err)
		}
		return f, nil
	}
}

// Stats returns the number of datagrams received and how many were dropped
// as undecodable.
func (s *UDPSource) Stats() (received, dropped int) {
	return s.received, s.dropped
}

// Close releases the socket.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}
