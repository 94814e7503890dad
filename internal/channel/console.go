package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// ConsoleUser is the user id of everything typed into a Console.
const ConsoleUser = "console"

// Console is a single-user text channel over a reader and a writer, for trying a
// catalog from a terminal. Each input line is one message; lines starting with "/" are
// commands. Events closes when the reader is exhausted.
type Console struct {
	r     io.Reader
	inbox *inbox

	mu sync.Mutex
	w  io.Writer

	once sync.Once
}

// NewConsole reads messages from r and writes questions and notices to w.
func NewConsole(r io.Reader, w io.Writer) *Console {
	return &Console{r: r, w: w, inbox: newInbox("console")}
}

// Name implements Channel.
func (c *Console) Name() string { return "console" }

// Events implements Channel.
func (c *Console) Events() <-chan models.Inbound { return c.inbox.events }

// Start begins reading lines in the background.
func (c *Console) Start(ctx context.Context) error {
	c.once.Do(func() {
		go c.read(ctx)
	})
	return nil
}

func (c *Console) read(ctx context.Context) {
	defer c.inbox.close()
	identity := models.Identity{DisplayName: "Console", Handle: ConsoleUser, UserID: ConsoleUser}
	scanner := bufio.NewScanner(c.r)
	for scanner.Scan() {
		if ctx.Err() != nil || c.inbox.isStopped() {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		in := models.Inbound{UserID: ConsoleUser, Identity: identity, Time: models.Now()}
		in.Command, in.Text = splitCommand(line)
		c.inbox.emit(in)
	}
	if err := scanner.Err(); err != nil {
		slog.Error("Console read failed", "error", err)
		return
	}
	slog.Debug("Console input exhausted")
}

// Stop closes Events. A read blocked on the underlying reader is abandoned.
func (c *Console) Stop() error {
	c.inbox.close()
	return nil
}

// RenderQuestion writes the question in numbered text form.
func (c *Console) RenderQuestion(ctx context.Context, to string, view models.QuestionView) error {
	return c.write(to, "render question", FormatQuestion(view))
}

// RenderMessage writes text.
func (c *Console) RenderMessage(ctx context.Context, to string, text string) error {
	if text == "" {
		return &ChannelError{Channel: c.Name(), To: to, Op: "send message", Err: models.ErrEmptyBody}
	}
	return c.write(to, "send message", text)
}

func (c *Console) write(to, op, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n\n", text); err != nil {
		return &ChannelError{Channel: c.Name(), To: to, Op: op, Err: err}
	}
	return nil
}
