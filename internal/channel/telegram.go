package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/FormPipe/internal/models"
)

const (
	// DefaultPollTimeout is the long-polling timeout in seconds.
	DefaultPollTimeout = 30

	selectedMark = "✅ "
	confirmLabel = "Done"
	backLabel    = "⬅ Back"
)

// TelegramAPI is the subset of *tgbotapi.BotAPI the channel uses.
type TelegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram receives updates by long polling and renders questions with inline keyboards.
// Multi-select toggles edit the question message in place.
type Telegram struct {
	api   TelegramAPI
	inbox *inbox

	mu          sync.Mutex
	lastMessage map[int64]int

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("Failed to connect to Telegram", "error", err)
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)
	return bot, nil
}

// NewTelegram wraps api as a Channel.
func NewTelegram(api TelegramAPI) *Telegram {
	return &Telegram{
		api:         api,
		inbox:       newInbox("telegram"),
		lastMessage: make(map[int64]int),
		done:        make(chan struct{}),
	}
}

// Name implements Channel.
func (t *Telegram) Name() string { return "telegram" }

// Events implements Channel.
func (t *Telegram) Events() <-chan models.Inbound { return t.inbox.events }

// Start begins long polling.
func (t *Telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultPollTimeout
	updates := t.api.GetUpdatesChan(u)
	slog.Info("Telegram channel polling started")

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Telegram polling stopping due to context cancellation")
				return
			case <-t.done:
				return
			case update, ok := <-updates:
				if !ok {
					slog.Debug("Telegram updates channel closed")
					return
				}
				t.handleUpdate(ctx, update)
			}
		}
	}()
	return nil
}

// Stop stops polling and closes Events.
func (t *Telegram) Stop() error {
	t.once.Do(func() {
		slog.Info("Telegram channel Stop invoked")
		t.api.StopReceivingUpdates()
		close(t.done)
		t.wg.Wait()
		t.inbox.close()
	})
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		// Acknowledge so the client stops showing a spinner.
		if _, err := t.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			slog.Warn("Telegram callback acknowledge failed", "error", err, "callbackID", q.ID)
		}
		if q.Message == nil || q.Message.Chat == nil {
			slog.Debug("Telegram callback without message ignored", "callbackID", q.ID)
			return
		}
		t.inbox.emit(models.Inbound{
			UserID:   strconv.FormatInt(q.Message.Chat.ID, 10),
			Identity: identityOf(q.From),
			Callback: q.Data,
			Time:     models.Now(),
		})

	case update.Message != nil:
		m := update.Message
		if m.Chat == nil {
			return
		}
		in := models.Inbound{
			UserID:   strconv.FormatInt(m.Chat.ID, 10),
			Identity: identityOf(m.From),
			Time:     models.Now(),
		}
		if m.IsCommand() {
			in.Command = m.Command()
		} else {
			in.Text = m.Text
		}
		if in.Command == "" && strings.TrimSpace(in.Text) == "" {
			slog.Debug("Telegram ignoring non-text message", "chatID", m.Chat.ID)
			return
		}
		t.inbox.emit(in)

	default:
		slog.Debug("Telegram ignoring update", "updateID", update.UpdateID)
	}
}

func identityOf(u *tgbotapi.User) models.Identity {
	if u == nil {
		return models.Identity{}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return models.Identity{
		DisplayName: name,
		Handle:      u.UserName,
		UserID:      strconv.FormatInt(u.ID, 10),
	}
}

// RenderQuestion sends the question with one button per option, or edits the previous
// question message when view is a refresh of it.
func (t *Telegram) RenderQuestion(ctx context.Context, to string, view models.QuestionView) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return &ChannelError{Channel: t.Name(), To: to, Op: "render question", Err: fmt.Errorf("invalid chat id: %w", err)}
	}
	text := QuestionHeading(view)
	markup, hasMarkup := Keyboard(view)

	if view.Refresh && hasMarkup {
		t.mu.Lock()
		msgID, ok := t.lastMessage[chatID]
		t.mu.Unlock()
		if ok {
			edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, markup)
			_, err := t.api.Send(edit)
			if err == nil {
				slog.Debug("Telegram question edited", "chatID", chatID, "messageID", msgID, "questionID", view.QuestionID)
				return nil
			}
			slog.Warn("Telegram edit failed, sending new message", "error", err, "chatID", chatID, "messageID", msgID)
		}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if hasMarkup {
		msg.ReplyMarkup = markup
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		slog.Error("Telegram RenderQuestion failed", "error", err, "chatID", chatID, "questionID", view.QuestionID)
		return &ChannelError{Channel: t.Name(), To: to, Op: "render question", Err: err}
	}
	t.mu.Lock()
	t.lastMessage[chatID] = sent.MessageID
	t.mu.Unlock()
	slog.Debug("Telegram question sent", "chatID", chatID, "messageID", sent.MessageID, "questionID", view.QuestionID)
	return nil
}

// EndSession forgets the question message kept for in-place edits once the user's flow
// has ended.
func (t *Telegram) EndSession(to string) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return
	}
	t.mu.Lock()
	delete(t.lastMessage, chatID)
	t.mu.Unlock()
}

// trackedMessages returns the number of chats with a remembered question message.
func (t *Telegram) trackedMessages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastMessage)
}

// RenderMessage sends a plain-text message.
func (t *Telegram) RenderMessage(ctx context.Context, to string, text string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return &ChannelError{Channel: t.Name(), To: to, Op: "send message", Err: fmt.Errorf("invalid chat id: %w", err)}
	}
	if text == "" {
		return &ChannelError{Channel: t.Name(), To: to, Op: "send message", Err: models.ErrEmptyBody}
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Error("Telegram RenderMessage failed", "error", err, "chatID", chatID)
		return &ChannelError{Channel: t.Name(), To: to, Op: "send message", Err: err}
	}
	return nil
}

// Keyboard builds the inline keyboard for view. It reports false when the question has
// no buttons at all.
func Keyboard(view models.QuestionView) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	multi := view.Kind == models.InputKindMultiSelect
	fp := OptionsFingerprint(view.Options)

	for i, opt := range view.Options {
		cb := Callback{Action: CallbackAnswer, Position: view.Position, Index: i, Fingerprint: fp}
		label := opt
		if multi {
			cb.Action = CallbackToggle
			if view.IsSelected(opt) {
				label = selectedMark + opt
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, cb.Encode())))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if view.CanGoBack {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(backLabel, Callback{Action: CallbackBack, Position: view.Position}.Encode()))
	}
	if multi {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(confirmLabel, Callback{Action: CallbackConfirm, Position: view.Position}.Encode()))
	}
	if len(nav) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(nav...))
	}

	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
