package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// Channel types.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// ErrRateLimited marks a send rejected by channel rate limiting. It is a
// final failure for that attempt, not a retryable transport error.
var ErrRateLimited = fmt.Errorf("channel rate limit exceeded")

// Channel is one notification delivery target with per-minute rate limiting.
// LastUsed and MessageCount are bookkeeping mutated on every dispatch
// attempt, guarded by the owning ChannelSet.
type Channel struct {
	ID      string            `yaml:"id" json:"id"`
	Type    string            `yaml:"type" json:"type"`
	Config  map[string]string `yaml:"config" json:"config"`
	Enabled bool              `yaml:"enabled" json:"enabled"`

	// RateLimit is the maximum sends per minute; 0 disables limiting.
	RateLimit int `yaml:"rate_limit" json:"rate_limit"`

	LastUsed     time.Time `yaml:"-" json:"last_used,omitempty"`
	MessageCount int       `yaml:"-" json:"message_count"`
}

// ChannelSet holds the configured channels behind one lock, so rate-limit
// bookkeeping has a single writer.
type ChannelSet struct {
	mu           sync.Mutex
	channels     map[string]*Channel
	rateLimiting bool
	now          func() time.Time
}

// NewChannelSet builds a set from configured channels. rateLimiting false
// turns all limits off (notifications.rate_limiting).
func NewChannelSet(channels []Channel, rateLimiting bool) *ChannelSet {
	set := &ChannelSet{
		channels:     make(map[string]*Channel, len(channels)),
		rateLimiting: rateLimiting,
		now:          time.Now,
	}
	for i := range channels {
		ch := channels[i]
		set.channels[ch.ID] = &ch
	}
	return set
}

// Acquire reserves one send slot on the named channel, updating its
// bookkeeping. It returns a copy of the channel for the transport to use,
// or ErrRateLimited when the inter-send gap is shorter than 60/RateLimit
// seconds, or an error for unknown/disabled channels.
func (s *ChannelSet) Acquire(id string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, fmt.Errorf("channel %q not configured", id)
	}
	if !ch.Enabled {
		return Channel{}, fmt.Errorf("channel %q is disabled", id)
	}

	now := s.now()
	if s.rateLimiting && ch.RateLimit > 0 && !ch.LastUsed.IsZero() {
		minGap := time.Duration(float64(time.Minute) / float64(ch.RateLimit))
		if now.Sub(ch.LastUsed) < minGap {
			return Channel{}, fmt.Errorf("channel %q: %w", id, ErrRateLimited)
		}
	}

	ch.LastUsed = now
	ch.MessageCount++
	return *ch, nil
}

// Update installs or replaces a channel definition, preserving bookkeeping
// when the ID already exists.
func (s *ChannelSet) Update(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.channels[ch.ID]; ok {
		ch.LastUsed = old.LastUsed
		ch.MessageCount = old.MessageCount
	}
	s.channels[ch.ID] = &ch
}

// Channels returns copies of all configured channels.
func (s *ChannelSet) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	return out
}
