package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/FormPipe/internal/models"
)

func multiView() models.QuestionView {
	return models.QuestionView{
		Position:   2,
		Total:      5,
		QuestionID: "skills",
		Prompt:     "Which skills do you have?",
		Hint:       "Select all that apply.",
		Kind:       models.InputKindMultiSelect,
		Options:    []string{"Writing", "Design", "Coding"},
		Selected:   []string{"Design"},
		CanGoBack:  true,
	}
}

func receive(t *testing.T, ch <-chan models.Inbound) models.Inbound {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
		return models.Inbound{}
	}
}

func TestCallback_RoundTrip(t *testing.T) {
	for _, cb := range []Callback{
		{Action: CallbackAnswer, Position: 3, Index: 1, Fingerprint: "0badf00d"},
		{Action: CallbackToggle, Position: 0, Index: 4, Fingerprint: "12345678"},
		{Action: CallbackConfirm, Position: 7},
		{Action: CallbackBack, Position: 2},
	} {
		got, err := ParseCallback(cb.Encode())
		require.NoError(t, err, cb.Encode())
		assert.Equal(t, cb, got)
	}
	assert.Equal(t, "a:3:1:0badf00d", Callback{Action: CallbackAnswer, Position: 3, Index: 1, Fingerprint: "0badf00d"}.Encode())
	assert.Equal(t, "c:3", Callback{Action: CallbackConfirm, Position: 3}.Encode())
}

func TestOptionsFingerprint(t *testing.T) {
	north := OptionsFingerprint([]string{"Oslo", "Bergen"})
	assert.Len(t, north, 8)
	assert.Equal(t, north, OptionsFingerprint([]string{"Oslo", "Bergen"}))
	assert.NotEqual(t, north, OptionsFingerprint([]string{"Rome", "Naples"}))
	assert.NotEqual(t, north, OptionsFingerprint([]string{"Bergen", "Oslo"}), "order matters")
	assert.NotEqual(t, OptionsFingerprint([]string{"ab", "c"}), OptionsFingerprint([]string{"a", "bc"}))
}

func TestParseCallback_Malformed(t *testing.T) {
	for _, data := range []string{"", "a", "a:x:1:ff", "a:1", "a:1:2", "a:1:-2:ff", "a:1:2:", "c:1:2", "z:1", "b:-1"} {
		_, err := ParseCallback(data)
		assert.Error(t, err, data)
	}
}

func TestFormatQuestion_MultiSelect(t *testing.T) {
	text := FormatQuestion(multiView())
	assert.True(t, strings.HasPrefix(text, "Q3/5: Which skills do you have?"))
	assert.Contains(t, text, "Select all that apply.")
	assert.Contains(t, text, "1. [ ] Writing")
	assert.Contains(t, text, "2. [x] Design")
	assert.Contains(t, text, `"done"`)
	assert.Contains(t, text, `"back"`)
}

func TestFormatQuestion_TextQuestion(t *testing.T) {
	text := FormatQuestion(models.QuestionView{Position: 0, Total: 2, Prompt: "Why?", Kind: models.InputKindText})
	assert.Equal(t, "Q1/2: Why?", text)
}

func TestSplitCommand(t *testing.T) {
	cmd, rest := splitCommand("/Start now")
	assert.Equal(t, "start", cmd)
	assert.Empty(t, rest)

	cmd, rest = splitCommand("1, 3")
	assert.Empty(t, cmd)
	assert.Equal(t, "1, 3", rest)

	cmd, rest = splitCommand("/")
	assert.Empty(t, cmd)
	assert.Equal(t, "/", rest)
}

type fakeTelegram struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
	editErr  error
	stopped  bool
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{updates: make(chan tgbotapi.Update, 10), nextID: 100}
}

func (f *fakeTelegram) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok && f.editErr != nil {
		return tgbotapi.Message{}, f.editErr
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestTelegram_InboundMessagesAndCallbacks(t *testing.T) {
	api := newFakeTelegram()
	tg := NewTelegram(api)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tg.Start(ctx))

	from := &tgbotapi.User{ID: 7, FirstName: "Ada", LastName: "Lovelace", UserName: "ada"}
	chat := &tgbotapi.Chat{ID: 42}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: from, Chat: chat, Text: "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}
	in := receive(t, tg.Events())
	assert.Equal(t, "42", in.UserID)
	assert.Equal(t, "start", in.Command)
	assert.Equal(t, models.Identity{DisplayName: "Ada Lovelace", Handle: "ada", UserID: "7"}, in.Identity)

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat, Text: "30"}}
	in = receive(t, tg.Events())
	assert.Equal(t, "30", in.Text)
	assert.Empty(t, in.Command)

	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb-1", From: from, Data: "t:2:0:0badf00d", Message: &tgbotapi.Message{Chat: chat},
	}}
	in = receive(t, tg.Events())
	assert.True(t, in.IsCallback())
	assert.Equal(t, "t:2:0:0badf00d", in.Callback)

	require.NoError(t, tg.Stop())
	require.NoError(t, tg.Stop())
	api.mu.Lock()
	assert.Len(t, api.requests, 1, "callback is acknowledged")
	assert.True(t, api.stopped)
	api.mu.Unlock()

	_, open := <-tg.Events()
	assert.False(t, open)
}

func TestTelegram_RenderQuestionEditsOnRefresh(t *testing.T) {
	api := newFakeTelegram()
	tg := NewTelegram(api)
	ctx := context.Background()

	view := multiView()
	require.NoError(t, tg.RenderQuestion(ctx, "42", view))
	view.Refresh = true
	view.Selected = []string{"Design", "Coding"}
	require.NoError(t, tg.RenderQuestion(ctx, "42", view))

	require.Len(t, api.sent, 2)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	edit, ok := api.sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 101, edit.MessageID)
	require.NotNil(t, edit.ReplyMarkup)
	assert.Equal(t, "✅ Coding", edit.ReplyMarkup.InlineKeyboard[2][0].Text)

	api.editErr = errors.New("message is not modified")
	require.NoError(t, tg.RenderQuestion(ctx, "42", view))
	require.Len(t, api.sent, 4, "failed edit falls back to a new message")
	_, ok = api.sent[3].(tgbotapi.MessageConfig)
	assert.True(t, ok)
}

func TestTelegram_EndSessionForgetsQuestionMessage(t *testing.T) {
	api := newFakeTelegram()
	tg := NewTelegram(api)
	ctx := context.Background()

	view := multiView()
	require.NoError(t, tg.RenderQuestion(ctx, "42", view))
	require.NoError(t, tg.RenderQuestion(ctx, "43", view))
	assert.Equal(t, 2, tg.trackedMessages())

	var ender SessionEnder = tg
	ender.EndSession("42")
	ender.EndSession("not-a-chat")
	assert.Equal(t, 1, tg.trackedMessages())

	// A refresh after the session ended sends a new message instead of editing.
	view.Refresh = true
	require.NoError(t, tg.RenderQuestion(ctx, "42", view))
	require.Len(t, api.sent, 3)
	_, ok := api.sent[2].(tgbotapi.MessageConfig)
	assert.True(t, ok)
}

func TestConsole_ReadsLinesUntilEOF(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("/Start\n\n  \n1, 3\nback\n"), &out)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	var got []models.Inbound
	for in := range c.Events() {
		got = append(got, in)
	}
	require.Len(t, got, 3, "blank lines are skipped and Events closes at EOF")
	assert.Equal(t, "start", got[0].Command)
	assert.Equal(t, ConsoleUser, got[0].UserID)
	assert.Equal(t, ConsoleUser, got[0].Identity.UserID)
	assert.Equal(t, "1, 3", got[1].Text)
	assert.Empty(t, got[1].Command)
	assert.Equal(t, "back", got[2].Text)

	require.NoError(t, c.Stop(), "stopping after EOF is harmless")
}

func TestConsole_Renders(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out)
	ctx := context.Background()

	require.NoError(t, c.RenderQuestion(ctx, ConsoleUser, multiView()))
	require.NoError(t, c.RenderMessage(ctx, ConsoleUser, "Thanks!"))
	assert.Equal(t, FormatQuestion(multiView())+"\n\nThanks!\n\n", out.String())

	var ce *ChannelError
	require.ErrorAs(t, c.RenderMessage(ctx, ConsoleUser, ""), &ce)
	assert.ErrorIs(t, ce, models.ErrEmptyBody)

	c = NewConsole(strings.NewReader(""), failingWriter{})
	require.ErrorAs(t, c.RenderMessage(ctx, ConsoleUser, "hi"), &ce)
	assert.Equal(t, "send message", ce.Op)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestTelegram_RenderErrors(t *testing.T) {
	tg := NewTelegram(newFakeTelegram())
	var ce *ChannelError
	require.ErrorAs(t, tg.RenderMessage(context.Background(), "not-a-chat", "hi"), &ce)
	require.ErrorAs(t, tg.RenderMessage(context.Background(), "42", ""), &ce)
	assert.ErrorIs(t, ce, models.ErrEmptyBody)
}

func TestKeyboard(t *testing.T) {
	kb, ok := Keyboard(multiView())
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 4)
	assert.Equal(t, "Writing", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "✅ Design", kb.InlineKeyboard[1][0].Text)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	fp := OptionsFingerprint(multiView().Options)
	assert.Equal(t, "t:2:0:"+fp, *kb.InlineKeyboard[0][0].CallbackData)
	nav := kb.InlineKeyboard[3]
	require.Len(t, nav, 2)
	assert.Equal(t, "b:2", *nav[0].CallbackData)
	assert.Equal(t, "c:2", *nav[1].CallbackData)

	single := models.QuestionView{Position: 0, Kind: models.InputKindSingleChoice, Options: []string{"Yes", "No"}}
	kb, ok = Keyboard(single)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "a:0:1:"+OptionsFingerprint(single.Options), *kb.InlineKeyboard[1][0].CallbackData)

	_, ok = Keyboard(models.QuestionView{Kind: models.InputKindText})
	assert.False(t, ok)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []string
	err  error

	handlers []whatsmeow.EventHandler
	removed  []uint32
}

func (r *recordingSender) SendMessage(ctx context.Context, to string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.sent = append(r.sent, body)
	return nil
}

type eventSender struct {
	recordingSender
}

func (e *eventSender) AddEventHandler(h whatsmeow.EventHandler) uint32 {
	e.handlers = append(e.handlers, h)
	return uint32(len(e.handlers))
}

func (e *eventSender) RemoveEventHandler(id uint32) bool {
	e.removed = append(e.removed, id)
	return true
}

func textEvent(user, push, text string, fromMe bool) *events.Message {
	evt := &events.Message{Message: &waE2E.Message{Conversation: &text}}
	evt.Info.Sender = types.NewJID(user, JIDSuffix)
	evt.Info.PushName = push
	evt.Info.IsFromMe = fromMe
	evt.Info.Timestamp = time.Unix(1739547280, 0)
	return evt
}

func TestWhatsApp_InboundEvents(t *testing.T) {
	src := &eventSender{}
	wa := NewWhatsApp(src)
	require.NoError(t, wa.Start(context.Background()))
	require.Len(t, src.handlers, 1)

	handler := src.handlers[0]
	handler(textEvent("15551234567", "Ada", "self", true))
	handler(&events.Receipt{})
	handler(textEvent("15551234567", "Ada", "/quiz", false))

	in := receive(t, wa.Events())
	assert.Equal(t, "15551234567", in.UserID)
	assert.Equal(t, "quiz", in.Command)
	assert.Equal(t, models.Identity{DisplayName: "Ada", Handle: "+15551234567", UserID: "15551234567"}, in.Identity)
	assert.Equal(t, int64(1739547280), in.Time)

	extended := "Design"
	evt := &events.Message{Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &extended}}}
	evt.Info.Sender = types.NewJID("15551234567", JIDSuffix)
	handler(evt)
	in = receive(t, wa.Events())
	assert.Equal(t, "Design", in.Text)

	require.NoError(t, wa.Stop())
	assert.Equal(t, []uint32{1}, src.removed)
	assert.Empty(t, wa.Events(), "messages from self and other events are dropped")
}

func TestWhatsApp_Render(t *testing.T) {
	sender := &recordingSender{}
	wa := NewWhatsApp(sender)
	ctx := context.Background()
	require.NoError(t, wa.Start(ctx))

	require.NoError(t, wa.RenderQuestion(ctx, "15551234567", multiView()))
	require.NoError(t, wa.RenderMessage(ctx, "15551234567", "Thanks"))
	assert.Equal(t, []string{FormatQuestion(multiView()), "Thanks"}, sender.sent)

	sender.err = errors.New("not connected")
	var ce *ChannelError
	require.ErrorAs(t, wa.RenderMessage(ctx, "15551234567", "x"), &ce)
	assert.Equal(t, "whatsapp", ce.Channel)

	require.NoError(t, wa.Stop())
	assert.ErrorIs(t, wa.RenderMessage(ctx, "1", "x"), ErrChannelStopped)
}

func postForm(t *testing.T, h http.HandlerFunc, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(TwilioSignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func clearTwilioEnv(t *testing.T) {
	for _, k := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL"} {
		t.Setenv(k, "")
	}
}

func TestTwilio_Webhook(t *testing.T) {
	clearTwilioEnv(t)
	sender := &recordingSender{}
	tw := NewTwilio(sender)

	rr := postForm(t, tw.WebhookHandler, url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"Writing"}, "ProfileName": {"Ada"}}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	in := receive(t, tw.Events())
	assert.Equal(t, "+15551234567", in.UserID)
	assert.Equal(t, "Writing", in.Text)
	assert.Equal(t, "Ada", in.Identity.DisplayName)
	assert.Equal(t, "15551234567", in.Identity.UserID)

	rr = postForm(t, tw.WebhookHandler, url.Values{"From": {"whatsapp:+15551234567"}}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, tw.RenderMessage(context.Background(), in.UserID, "hello"))
	assert.Equal(t, []string{"+15551234567"}, sender.to)
}

func twilioSignature(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(u)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilio_WebhookSignature(t *testing.T) {
	clearTwilioEnv(t)
	const token = "secret-token"
	const hook = "https://formpipe.example.com/webhooks/twilio"
	tw := NewTwilio(&recordingSender{}, WithAuthToken(token), WithWebhookURL(hook))

	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"/quiz"}}
	rr := postForm(t, tw.WebhookHandler, form, "bogus")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = postForm(t, tw.WebhookHandler, form, twilioSignature(token, hook, form))
	assert.Equal(t, http.StatusOK, rr.Code)
	in := receive(t, tw.Events())
	assert.Equal(t, "quiz", in.Command)
}

func TestNewTwilioClient_RequiresCredentials(t *testing.T) {
	clearTwilioEnv(t)
	_, err := NewTwilioClient()
	require.Error(t, err)
	_, err = NewTwilioClient(WithAccountSID("AC123"), WithAuthToken("tok"))
	require.Error(t, err)
	c, err := NewTwilioClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+14155238886"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.from)
}
