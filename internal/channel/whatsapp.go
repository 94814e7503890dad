package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/util"
)

const (
	// DefaultWhatsAppDBPath is the default whatsmeow session database.
	DefaultWhatsAppDBPath = "/var/lib/formpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender sends plain-text WhatsApp messages.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// eventSource is implemented by senders that also deliver whatsmeow events.
type eventSource interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
}

// WhatsAppOpts holds configuration for the whatsmeow client.
type WhatsAppOpts struct {
	DBDSN       string // whatsmeow session database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // print the pairing code instead of a QR code
}

// WhatsAppOption configures the whatsmeow client.
type WhatsAppOption func(*WhatsAppOpts)

// WithWhatsAppDBDSN sets the session database connection string.
func WithWhatsAppDBDSN(dsn string) WhatsAppOption {
	return func(o *WhatsAppOpts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) WhatsAppOption {
	return func(o *WhatsAppOpts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() WhatsAppOption {
	return func(o *WhatsAppOpts) {
		o.NumericCode = true
	}
}

// WhatsAppClient is a logged-in whatsmeow client.
type WhatsAppClient struct {
	wa *whatsmeow.Client
}

// NewWhatsAppClient opens the session store, logs in (showing a QR code on first run)
// and connects.
func NewWhatsAppClient(ctx context.Context, opts ...WhatsAppOption) (*WhatsAppClient, error) {
	var cfg WhatsAppOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp client options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultWhatsAppDBPath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dsn)
	}
	driver := util.DetectDSNType(dsn)
	if driver == "sqlite3" && !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not enable foreign keys, which whatsmeow requires for data integrity",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err, "driver", driver)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	wa := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))
	if wa.Store.ID != nil {
		if err := wa.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		slog.Info("WhatsApp client connected")
		return &WhatsAppClient{wa: wa}, nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := wa.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get WhatsApp QR channel: %w", err)
	}
	if err := wa.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			wa.Disconnect()
			return nil, fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Info("WhatsApp login event", "event", evt.Event)
	}
	slog.Info("WhatsApp client connected")
	return &WhatsAppClient{wa: wa}, nil
}

// SendMessage sends body to the phone number to (digits, no JID suffix).
func (c *WhatsAppClient) SendMessage(ctx context.Context, to string, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "to", to, "body_length", len(body))
	return nil
}

// AddEventHandler registers handler for whatsmeow events.
func (c *WhatsAppClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	return c.wa.AddEventHandler(handler)
}

// RemoveEventHandler unregisters a handler added with AddEventHandler.
func (c *WhatsAppClient) RemoveEventHandler(id uint32) bool {
	return c.wa.RemoveEventHandler(id)
}

// Disconnect closes the connection to the WhatsApp servers.
func (c *WhatsAppClient) Disconnect() {
	c.wa.Disconnect()
}

// WhatsApp is a text-mode Channel over whatsmeow.
type WhatsApp struct {
	sender  WhatsAppSender
	inbox   *inbox
	source  eventSource
	handler uint32
}

// NewWhatsApp wraps sender as a Channel. Inbound messages are received only when sender
// can deliver events, as *WhatsAppClient does.
func NewWhatsApp(sender WhatsAppSender) *WhatsApp {
	w := &WhatsApp{sender: sender, inbox: newInbox("whatsapp")}
	if src, ok := sender.(eventSource); ok {
		w.source = src
	} else {
		slog.Debug("WhatsApp channel created without event source")
	}
	return w
}

// Name implements Channel.
func (w *WhatsApp) Name() string { return "whatsapp" }

// Events implements Channel.
func (w *WhatsApp) Events() <-chan models.Inbound { return w.inbox.events }

// Start registers the message handler.
func (w *WhatsApp) Start(ctx context.Context) error {
	if w.source == nil {
		return nil
	}
	w.handler = w.source.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			w.handleIncomingMessage(v)
		default:
			// receipts, presence and the like
		}
	})
	slog.Info("WhatsApp channel event handler registered")
	return nil
}

// Stop unregisters the handler and closes Events.
func (w *WhatsApp) Stop() error {
	if w.source != nil && w.handler != 0 {
		w.source.RemoveEventHandler(w.handler)
	}
	if w.inbox.close() {
		slog.Info("WhatsApp channel stopped")
	}
	return nil
}

func (w *WhatsApp) handleIncomingMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = evt.Message.ExtendedTextMessage.GetText()
	default:
		slog.Debug("WhatsApp ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	user := evt.Info.Sender.User
	in := models.Inbound{
		UserID: user,
		Identity: models.Identity{
			DisplayName: evt.Info.PushName,
			Handle:      "+" + user,
			UserID:      user,
		},
		Time: evt.Info.Timestamp.Unix(),
	}
	in.Command, in.Text = splitCommand(text)
	w.inbox.emit(in)
}

// RenderQuestion sends the question as numbered text.
func (w *WhatsApp) RenderQuestion(ctx context.Context, to string, view models.QuestionView) error {
	return w.send(ctx, to, "render question", FormatQuestion(view))
}

// RenderMessage sends a plain-text message.
func (w *WhatsApp) RenderMessage(ctx context.Context, to string, text string) error {
	return w.send(ctx, to, "send message", text)
}

func (w *WhatsApp) send(ctx context.Context, to, op, body string) error {
	if w.inbox.isStopped() {
		return &ChannelError{Channel: w.Name(), To: to, Op: op, Err: ErrChannelStopped}
	}
	if err := w.sender.SendMessage(ctx, to, body); err != nil {
		return &ChannelError{Channel: w.Name(), To: to, Op: op, Err: err}
	}
	return nil
}

// splitCommand separates "/start" style commands from free text. Text transports have no
// command entities, so a leading slash is the only marker.
func splitCommand(text string) (command, rest string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) == 1 {
		return "", text
	}
	word := strings.Fields(trimmed[1:])
	if len(word) == 0 {
		return "", text
	}
	return strings.ToLower(word[0]), ""
}
