// Package sample delivers geo samples to the tracker. A Source pushes fixes
// onto an ordered channel that the tracker's single consumer drains, keeping
// the platform delivery mechanism (NATS, tests, embedded callers) behind one
// message-passing boundary.
package sample

import (
	"context"

	"milelog/internal/domain"
)

// Source is a feed of location fixes. Samples() stays valid between Start
// and Stop; after Stop the channel is closed and the consumer drains out.
type Source interface {
	// Start begins delivery. Config (polling interval, accuracy) belongs
	// to the concrete source; the tracker only sees the channel.
	Start(ctx context.Context) error
	// Stop ends delivery and closes the sample channel.
	Stop()
	// Samples is the ordered stream of fixes.
	Samples() <-chan domain.GeoSample
	// Running reports whether the feed is currently delivering. Used at
	// startup to classify a mirrored active trip as resumable or orphaned.
	Running() bool
}

// Channel is an in-process Source fed by the caller. It backs tests and
// embedders that already have their own fix delivery mechanism.
type Channel struct {
	ch      chan domain.GeoSample
	running bool
}

// NewChannel returns a Channel source with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan domain.GeoSample, buffer)}
}

func (c *Channel) Start(context.Context) error { c.running = true; return nil }

func (c *Channel) Stop() {
	if c.running {
		c.running = false
		close(c.ch)
	}
}

func (c *Channel) Samples() <-chan domain.GeoSample { return c.ch }

func (c *Channel) Running() bool { return c.running }

// Push delivers one sample in arrival order. Blocks when the buffer is full
// so tests retain strict ordering.
func (c *Channel) Push(s domain.GeoSample) { c.ch <- s }
