// Package channel connects the questionnaire to messaging transports.
//
// A Channel delivers inbound messages and button presses as models.Inbound values and
// renders questions and notices back to users. Telegram renders inline keyboards; the
// WhatsApp transports render questions as numbered text.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
)

const (
	// DefaultBufferSize is the capacity of a channel's inbound queue.
	DefaultBufferSize = 100
	// DefaultEmitTimeout bounds how long an inbound event waits for queue space.
	DefaultEmitTimeout = 1 * time.Second
)

// ErrChannelStopped is returned when sending through a stopped channel.
var ErrChannelStopped = errors.New("channel is stopped")

// Channel is a conversation transport.
type Channel interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Start begins receiving events.
	Start(ctx context.Context) error
	// Stop stops receiving and closes Events.
	Stop() error
	// Events delivers inbound messages in arrival order.
	Events() <-chan models.Inbound
	// RenderQuestion shows a question to the user identified by to.
	RenderQuestion(ctx context.Context, to string, view models.QuestionView) error
	// RenderMessage sends a plain-text notice.
	RenderMessage(ctx context.Context, to string, text string) error
}

// SessionEnder is implemented by channels that keep per-user rendering state. EndSession
// is called once the user's flow has ended.
type SessionEnder interface {
	EndSession(to string)
}

// ChannelError reports a failed render or send.
type ChannelError struct {
	Channel string
	To      string
	Op      string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel %s to %s failed: %v", e.Channel, e.Op, e.To, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// inbox is the inbound queue shared by channel implementations. Emitting after close is
// a logged no-op.
type inbox struct {
	name   string
	events chan models.Inbound

	mu      sync.RWMutex
	stopped bool
}

func newInbox(name string) *inbox {
	return &inbox{name: name, events: make(chan models.Inbound, DefaultBufferSize)}
}

func (b *inbox) emit(in models.Inbound) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn("Channel dropping inbound (stopped)", "channel", b.name, "userID", in.UserID)
		return false
	}
	select {
	case b.events <- in:
		slog.Debug("Channel inbound queued", "channel", b.name, "userID", in.UserID)
		return true
	case <-time.After(DefaultEmitTimeout):
		slog.Warn("Channel inbound queue blocked, dropping message", "channel", b.name, "userID", in.UserID, "timeout", DefaultEmitTimeout)
		return false
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// close stops the inbox and closes the events channel. It is safe to call twice.
func (b *inbox) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.stopped = true
	close(b.events)
	return true
}
