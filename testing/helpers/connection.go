package helpers

import (
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

// RecordingConnection is an in-memory client connection that keeps every
// envelope sent to it
type RecordingConnection struct {
	mu        sync.Mutex
	envelopes []nostr.Envelope
	closed    atomic.Bool
}

// NewRecordingConnection returns an open connection
func NewRecordingConnection() *RecordingConnection {
	return &RecordingConnection{}
}

func (c *RecordingConnection) IsOpen() bool {
	return !c.closed.Load()
}

func (c *RecordingConnection) Send(envelope nostr.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, envelope)
	return nil
}

// Close marks the connection closed
func (c *RecordingConnection) Close() {
	c.closed.Store(true)
}

// Envelopes returns a copy of everything sent so far
func (c *RecordingConnection) Envelopes() []nostr.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]nostr.Envelope(nil), c.envelopes...)
}

// Reset forgets recorded envelopes
func (c *RecordingConnection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = nil
}

// Events returns the EVENT envelopes sent for subscriptionID
func (c *RecordingConnection) Events(subscriptionID string) []*nostr.EventEnvelope {
	var out []*nostr.EventEnvelope
	for _, envelope := range c.Envelopes() {
		if env, ok := envelope.(*nostr.EventEnvelope); ok && env.SubscriptionID != nil && *env.SubscriptionID == subscriptionID {
			out = append(out, env)
		}
	}
	return out
}

// OKs returns the OK envelopes sent so far
func (c *RecordingConnection) OKs() []*nostr.OKEnvelope {
	var out []*nostr.OKEnvelope
	for _, envelope := range c.Envelopes() {
		if env, ok := envelope.(*nostr.OKEnvelope); ok {
			out = append(out, env)
		}
	}
	return out
}

// Notices returns the NOTICE messages sent so far
func (c *RecordingConnection) Notices() []string {
	var out []string
	for _, envelope := range c.Envelopes() {
		if env, ok := envelope.(*nostr.NoticeEnvelope); ok {
			out = append(out, string(*env))
		}
	}
	return out
}

// EOSEs returns the subscription ids that received EOSE
func (c *RecordingConnection) EOSEs() []string {
	var out []string
	for _, envelope := range c.Envelopes() {
		if env, ok := envelope.(*nostr.EOSEEnvelope); ok {
			out = append(out, string(*env))
		}
	}
	return out
}

// FailingConnection reports open but rejects every send
type FailingConnection struct {
	Err error
}

func (c *FailingConnection) IsOpen() bool { return true }

func (c *FailingConnection) Send(nostr.Envelope) error { return c.Err }
