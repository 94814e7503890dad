package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/FormPipe/internal/models"
)

const (
	whatsAppAddrPrefix = "whatsapp:"
	// TwilioSignatureHeader carries the request signature on Twilio webhooks.
	TwilioSignatureHeader = "X-Twilio-Signature"
)

// TwilioOpts holds configuration for the Twilio WhatsApp client.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// WebhookURL is the public URL Twilio posts to. Signatures are verified only when it
	// is set.
	WebhookURL string
}

// TwilioOption configures the Twilio client.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number, e.g. "whatsapp:+14155238886".
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// WithWebhookURL enables signature verification for the given public webhook URL.
func WithWebhookURL(url string) TwilioOption {
	return func(o *TwilioOpts) { o.WebhookURL = url }
}

// TwilioClient sends WhatsApp messages through the Twilio REST API.
type TwilioClient struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioClient builds a client, falling back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN
// and TWILIO_FROM_NUMBER for unset options.
func NewTwilioClient(opts ...TwilioOption) (*TwilioClient, error) {
	cfg := resolveTwilioOpts(opts...)
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	from := cfg.FromNumber
	if !strings.HasPrefix(from, whatsAppAddrPrefix) {
		from = whatsAppAddrPrefix + from
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{client: rc, from: from}, nil
}

func resolveTwilioOpts(opts ...TwilioOption) TwilioOpts {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("TWILIO_WEBHOOK_URL")
	}
	return cfg
}

// SendMessage sends body to the E.164 number to.
func (c *TwilioClient) SendMessage(ctx context.Context, to string, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsAppAddrPrefix + to)
	params.SetFrom(c.from)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio message sent", "to", to, "body_length", len(body))
	return nil
}

// Twilio is a text-mode Channel whose inbound messages arrive on an HTTP webhook.
type Twilio struct {
	sender     WhatsAppSender
	inbox      *inbox
	validator  *twilioclient.RequestValidator
	webhookURL string
}

// NewTwilio wraps sender as a Channel. When a webhook URL and auth token are configured
// (through opts or the environment), WebhookHandler rejects unsigned requests.
func NewTwilio(sender WhatsAppSender, opts ...TwilioOption) *Twilio {
	cfg := resolveTwilioOpts(opts...)
	t := &Twilio{sender: sender, inbox: newInbox("twilio"), webhookURL: cfg.WebhookURL}
	if cfg.WebhookURL != "" && cfg.AuthToken != "" {
		v := twilioclient.NewRequestValidator(cfg.AuthToken)
		t.validator = &v
		slog.Debug("Twilio webhook signature validation enabled", "url", cfg.WebhookURL)
	} else {
		slog.Warn("Twilio webhook signature validation disabled; set TWILIO_WEBHOOK_URL and TWILIO_AUTH_TOKEN to enable it")
	}
	return t
}

// Name implements Channel.
func (t *Twilio) Name() string { return "twilio" }

// Events implements Channel.
func (t *Twilio) Events() <-chan models.Inbound { return t.inbox.events }

// Start is a no-op; messages arrive through WebhookHandler.
func (t *Twilio) Start(ctx context.Context) error { return nil }

// Stop closes Events. Webhook requests received afterwards are acknowledged and dropped.
func (t *Twilio) Stop() error {
	if t.inbox.close() {
		slog.Info("Twilio channel stopped")
	}
	return nil
}

// WebhookHandler accepts Twilio's inbound message webhook and queues the message.
func (t *Twilio) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if t.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !t.validator.Validate(t.webhookURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.FormValue("From"), whatsAppAddrPrefix)
	body := r.FormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	in := models.Inbound{
		UserID: from,
		Identity: models.Identity{
			DisplayName: r.FormValue("ProfileName"),
			Handle:      from,
			UserID:      strings.TrimPrefix(from, "+"),
		},
		Time: models.Now(),
	}
	in.Command, in.Text = splitCommand(body)
	slog.Debug("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))
	t.inbox.emit(in)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// RenderQuestion sends the question as numbered text.
func (t *Twilio) RenderQuestion(ctx context.Context, to string, view models.QuestionView) error {
	return t.send(ctx, to, "render question", FormatQuestion(view))
}

// RenderMessage sends a plain-text message.
func (t *Twilio) RenderMessage(ctx context.Context, to string, text string) error {
	return t.send(ctx, to, "send message", text)
}

func (t *Twilio) send(ctx context.Context, to, op, body string) error {
	if t.inbox.isStopped() {
		return &ChannelError{Channel: t.Name(), To: to, Op: op, Err: ErrChannelStopped}
	}
	if err := t.sender.SendMessage(ctx, to, body); err != nil {
		return &ChannelError{Channel: t.Name(), To: to, Op: op, Err: err}
	}
	return nil
}
