// Package bot connects channels to the questionnaire engine.
//
// The Dispatcher reads inbound messages from every channel and hands each user's
// messages to a mailbox goroutine of their own, so one user's events are handled in
// arrival order while different users proceed concurrently. For every message it loads
// the user's progress, normalizes the message into engine events, applies them, saves or
// evicts the progress and renders the outcome. Completed questionnaires are formatted and
// appended to the response sink.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FormPipe/internal/channel"
	"github.com/BTreeMap/FormPipe/internal/completion"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/metrics"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/progress"
	"github.com/BTreeMap/FormPipe/internal/sink"
)

const (
	// DefaultIdleTimeout is how long a mailbox waits for the next message before exiting.
	DefaultIdleTimeout = 2 * time.Minute
	// DefaultMailboxSize is the per-user queue capacity.
	DefaultMailboxSize = 16

	// SaveFailedNotice is sent when the completed record could not be stored.
	SaveFailedNotice = "There was an error saving your responses. Please try again later."
	// InternalErrorNotice is sent when progress could not be loaded or saved.
	InternalErrorNotice = "Something went wrong on our side. Please try again in a moment."
)

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	IdleTimeout time.Duration
	MailboxSize int
	Metrics     *metrics.Metrics
	Clock       func() time.Time
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithIdleTimeout sets how long an idle mailbox lives.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.IdleTimeout = d
	}
}

// WithMailboxSize sets the per-user queue capacity.
func WithMailboxSize(n int) Option {
	return func(o *Opts) {
		o.MailboxSize = n
	}
}

// WithMetrics reports to m instead of unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) {
		o.Metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = now
	}
}

// Dispatcher routes inbound messages to per-user mailboxes.
type Dispatcher struct {
	engine  *flow.Engine
	store   progress.Store
	sink    sink.Sink
	cfg     Opts
	metrics *metrics.Metrics

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	wg        sync.WaitGroup
	quit      chan struct{}
}

type mailbox struct {
	key     string
	ch      channel.Channel
	in      chan models.Inbound
	pending int // messages handed over but not yet processed; guarded by Dispatcher.mu
}

// NewDispatcher creates a Dispatcher that walks users through engine's catalog, keeps
// progress in store and submits completed records to s.
func NewDispatcher(engine *flow.Engine, store progress.Store, s sink.Sink, opts ...Option) *Dispatcher {
	cfg := Opts{
		IdleTimeout: DefaultIdleTimeout,
		MailboxSize: DefaultMailboxSize,
		Clock:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Dispatcher{
		engine:    engine,
		store:     store,
		sink:      s,
		cfg:       cfg,
		metrics:   cfg.Metrics,
		mailboxes: make(map[string]*mailbox),
		quit:      make(chan struct{}),
	}
}

// Run consumes every channel's events until ctx is cancelled or all event streams are
// closed, then waits for running mailboxes to finish. It may be called once.
func (d *Dispatcher) Run(ctx context.Context, channels ...channel.Channel) error {
	var consumers sync.WaitGroup
	for _, ch := range channels {
		consumers.Add(1)
		go func(ch channel.Channel) {
			defer consumers.Done()
			d.consume(ctx, ch)
		}(ch)
	}
	consumers.Wait()
	close(d.quit)
	slog.Debug("Dispatcher consumers stopped, waiting for mailboxes")
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) consume(ctx context.Context, ch channel.Channel) {
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-events:
			if !ok {
				slog.Info("Dispatcher channel closed", "channel", ch.Name())
				return
			}
			d.Dispatch(ctx, ch, in)
		}
	}
}

// Dispatch queues in on the sender's mailbox, starting one if needed. It blocks while the
// mailbox is full.
func (d *Dispatcher) Dispatch(ctx context.Context, ch channel.Channel, in models.Inbound) {
	if in.UserID == "" {
		slog.Warn("Dispatcher dropping inbound without user", "channel", ch.Name())
		return
	}
	key := progress.Key(ch.Name(), in.UserID)

	d.mu.Lock()
	mb, ok := d.mailboxes[key]
	if !ok {
		mb = &mailbox{key: key, ch: ch, in: make(chan models.Inbound, d.cfg.MailboxSize)}
		d.mailboxes[key] = mb
		d.wg.Add(1)
		d.metrics.ActiveUsers.Inc()
		go d.runMailbox(ctx, mb)
	}
	mb.pending++
	d.mu.Unlock()

	select {
	case mb.in <- in:
	case <-ctx.Done():
		d.mu.Lock()
		mb.pending--
		d.mu.Unlock()
	}
}

// ActiveMailboxes returns the number of running mailboxes.
func (d *Dispatcher) ActiveMailboxes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

func (d *Dispatcher) runMailbox(ctx context.Context, mb *mailbox) {
	defer d.wg.Done()
	defer d.metrics.ActiveUsers.Dec()
	slog.Debug("Dispatcher mailbox started", "mailbox", mb.key)

	idle := time.NewTimer(d.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case in := <-mb.in:
			d.process(ctx, mb.ch, in)
			d.mu.Lock()
			mb.pending--
			d.mu.Unlock()
			idle.Reset(d.cfg.IdleTimeout)

		case <-idle.C:
			d.mu.Lock()
			if mb.pending == 0 {
				delete(d.mailboxes, mb.key)
				d.mu.Unlock()
				slog.Debug("Dispatcher mailbox idle, exiting", "mailbox", mb.key)
				return
			}
			d.mu.Unlock()
			idle.Reset(d.cfg.IdleTimeout)

		case <-d.quit:
			d.drain(ctx, mb)
			return

		case <-ctx.Done():
			d.mu.Lock()
			delete(d.mailboxes, mb.key)
			d.mu.Unlock()
			return
		}
	}
}

// drain processes what is already queued on mb, then removes it.
func (d *Dispatcher) drain(ctx context.Context, mb *mailbox) {
	for {
		d.mu.Lock()
		if mb.pending == 0 {
			delete(d.mailboxes, mb.key)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		select {
		case in := <-mb.in:
			d.process(ctx, mb.ch, in)
			d.mu.Lock()
			mb.pending--
			d.mu.Unlock()
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.mailboxes, mb.key)
			d.mu.Unlock()
			return
		}
	}
}

// process handles one inbound message for its user.
func (d *Dispatcher) process(ctx context.Context, ch channel.Channel, in models.Inbound) {
	to := in.UserID
	key := progress.Key(ch.Name(), to)
	state, err := d.store.Load(ctx, key)
	if errors.Is(err, progress.ErrNotFound) {
		state = nil
	} else if err != nil {
		slog.Error("Dispatcher failed to load progress", "error", err, "key", key)
		d.notify(ctx, ch, to, InternalErrorNotice)
		return
	}

	var current *models.QuestionView
	if state != nil && !state.Status.IsTerminal() {
		v := d.engine.View(state)
		current = &v
	}

	input := Normalize(in, current)
	slog.Debug("Dispatcher normalized inbound", "userID", to, "input", input.String())
	if input.Notice != "" {
		d.notify(ctx, ch, to, input.Notice)
		return
	}

	var view *models.QuestionView
	for _, ev := range input.Events {
		d.metrics.Events.WithLabelValues(ch.Name(), ev.Kind.String()).Inc()
		res := d.engine.Handle(state, ev, d.cfg.Clock())
		d.metrics.Results.WithLabelValues(res.Kind.String()).Inc()
		if ev.Kind == flow.EventStart && res.State != nil {
			// Progress is keyed by the channel and its address, which may differ from
			// the account id recorded in the identity.
			res.State.Channel = ch.Name()
			res.State.UserID = to
		}
		slog.Debug("Dispatcher handled event", "userID", to, "event", ev.Kind, "result", res.Kind, "questionID", res.QuestionID)

		switch res.Kind {
		case flow.ResultQuestion, flow.ResultRejected:
			if err := d.store.Save(ctx, res.State); err != nil {
				slog.Error("Dispatcher failed to save progress", "error", err, "userID", to)
				d.notify(ctx, ch, to, InternalErrorNotice)
				return
			}
			if res.Notice != "" {
				d.notify(ctx, ch, to, res.Notice)
			}
			state, view = res.State, res.View

		case flow.ResultCompleted:
			d.complete(ctx, ch, to, res.State)
			return

		case flow.ResultDisqualified, flow.ResultIneligible:
			d.evict(ctx, ch, to)
			d.notify(ctx, ch, to, res.Notice)
			return

		case flow.ResultIgnored:
			if res.Notice != "" {
				d.notify(ctx, ch, to, res.Notice)
			}
			return
		}
	}

	if view != nil {
		d.render(ctx, ch, to, *view)
	}
}

// complete submits the finished flow and tells the user how it went. Progress is
// discarded either way; a failed submission is not retried.
func (d *Dispatcher) complete(ctx context.Context, ch channel.Channel, to string, state *progress.State) {
	rec, summary := completion.Format(state, d.engine.Catalog(), d.cfg.Clock())

	start := time.Now()
	err := d.sink.AppendRecord(ctx, rec)
	d.metrics.ObserveSink(start, err)
	d.evict(ctx, ch, to)

	if err != nil {
		var se *sink.SinkError
		if errors.As(err, &se) {
			slog.Error("Dispatcher failed to store submission", "error", err, "sink", se.Sink, "op", se.Op, "userID", to, "submissionID", rec.SubmissionID)
		} else {
			slog.Error("Dispatcher failed to store submission", "error", err, "userID", to, "submissionID", rec.SubmissionID)
		}
		d.notify(ctx, ch, to, SaveFailedNotice)
		return
	}
	slog.Info("Dispatcher stored submission", "userID", to, "submissionID", rec.SubmissionID)
	d.notify(ctx, ch, to, summary)
}

// evict drops the user's progress and any per-user state the channel keeps.
func (d *Dispatcher) evict(ctx context.Context, ch channel.Channel, to string) {
	key := progress.Key(ch.Name(), to)
	if err := d.store.Delete(ctx, key); err != nil {
		slog.Warn("Dispatcher failed to evict progress", "error", err, "key", key)
	}
	if ender, ok := ch.(channel.SessionEnder); ok {
		ender.EndSession(to)
	}
}

// render shows view, falling back to plain text when the channel's rich rendering fails.
func (d *Dispatcher) render(ctx context.Context, ch channel.Channel, to string, view models.QuestionView) {
	err := ch.RenderQuestion(ctx, to, view)
	if err == nil {
		return
	}
	d.metrics.RenderErrors.WithLabelValues(ch.Name()).Inc()
	slog.Warn("Dispatcher render failed, falling back to text", "error", err, "channel", ch.Name(), "userID", to, "questionID", view.QuestionID)
	if err := ch.RenderMessage(ctx, to, channel.FormatQuestion(view)); err != nil {
		slog.Error("Dispatcher text fallback failed, dropping render", "error", err, "channel", ch.Name(), "userID", to)
	}
}

func (d *Dispatcher) notify(ctx context.Context, ch channel.Channel, to, text string) {
	if text == "" {
		return
	}
	if err := ch.RenderMessage(ctx, to, text); err != nil {
		d.metrics.RenderErrors.WithLabelValues(ch.Name()).Inc()
		slog.Error("Dispatcher failed to send message", "error", err, "channel", ch.Name(), "userID", to)
	}
}
