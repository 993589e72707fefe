package sample

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"milelog/internal/domain"
)

// subjectPrefix is where device agents publish fixes; one subject per user.
const subjectPrefix = "milelog.samples."

// NATSSource subscribes to a per-user NATS subject and relays JSON-encoded
// fixes onto the sample channel. NATS invokes subscription callbacks
// sequentially per subscription, so arrival order is preserved end to end.
type NATSSource struct {
	url    string
	userID string
	log    *slog.Logger

	mu      sync.Mutex
	nc      *nats.Conn
	sub     *nats.Subscription
	ch      chan domain.GeoSample
	running bool
}

// NewNATS constructs a NATSSource for the given server URL and user.
func NewNATS(url, userID string, log *slog.Logger) *NATSSource {
	return &NATSSource{
		url:    url,
		userID: userID,
		log:    log,
		ch:     make(chan domain.GeoSample, 256),
	}
}

// Start connects and subscribes. Reconnects are handled by the NATS client;
// sample delivery simply pauses while disconnected, which the tracker treats
// the same as any other gap in fixes.
func (s *NATSSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	nc, err := nats.Connect(s.url,
		nats.Name("milelog"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.log.Info("nats connection closed")
		}),
	)
	if err != nil {
		return fmt.Errorf("sample.NATSSource.Start: connect: %w", err)
	}

	subject := subjectPrefix + s.userID
	sub, err := nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return fmt.Errorf("sample.NATSSource.Start: subscribe %s: %w", subject, err)
	}

	s.nc = nc
	s.sub = sub
	s.running = true
	s.log.Info("sample feed started", "subject", subject)
	return nil
}

// handle decodes one published fix. Malformed payloads are logged and
// dropped — the sample path must never fail upward.
func (s *NATSSource) handle(msg *nats.Msg) {
	var sample domain.GeoSample
	if err := json.Unmarshal(msg.Data, &sample); err != nil {
		s.log.Warn("discarding malformed sample", "error", err)
		return
	}

	select {
	case s.ch <- sample:
	default:
		// Consumer is behind. Drop the oldest buffered fix so the stream
		// stays current; blocking here would stall the NATS callback.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
		s.log.Warn("sample buffer full, oldest fix dropped")
	}
}

// Stop drains the subscription and closes the sample channel.
func (s *NATSSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
	close(s.ch)
}

// Samples is the ordered stream of fixes.
func (s *NATSSource) Samples() <-chan domain.GeoSample { return s.ch }

// Running reports whether the feed is delivering.
func (s *NATSSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// compile-time check: both sources satisfy Source.
var (
	_ Source = (*NATSSource)(nil)
	_ Source = (*Channel)(nil)
)
