package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Telegram adapts the bot API to the Messenger interface and feeds
// updates to a Handler. Telegram has no true thread objects here, so a
// thread id is "<chatID>.<messageID>" and thread messages are replies
// to the anchor message.
type Telegram struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger

	// extraAdmins are user ids treated as privileged regardless of
	// chat-member status.
	extraAdmins map[string]bool

	// allowedChats restricts handling to the listed chat ids when
	// non-empty.
	allowedChats map[int64]bool

	mu        sync.Mutex
	privCache map[string]privEntry
}

type privEntry struct {
	privileged bool
	checkedAt  time.Time
}

const privCacheTTL = 5 * time.Minute

func NewTelegram(token string, adminIDs []string, allowedChats []int64, log zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize bot: %w", err)
	}
	log.Info().Str("account", bot.Self.UserName).Msg("bot authorized")

	extra := map[string]bool{}
	for _, id := range adminIDs {
		extra[id] = true
	}
	allowed := map[int64]bool{}
	for _, id := range allowedChats {
		allowed[id] = true
	}
	return &Telegram{
		bot:          bot,
		log:          log,
		extraAdmins:  extra,
		allowedChats: allowed,
		privCache:    map[string]privEntry{},
	}, nil
}

// chatAllowed reports whether updates from the chat should be handled.
// An empty allow list admits every chat.
func (t *Telegram) chatAllowed(chatID int64) bool {
	return len(t.allowedChats) == 0 || t.allowedChats[chatID]
}

// splitChannel decodes "<chatID>" or "<chatID>.<messageID>".
func splitChannel(channelID string) (chatID int64, replyTo int, err error) {
	chatPart := channelID
	if i := strings.IndexByte(channelID, '.'); i >= 0 {
		chatPart = channelID[:i]
		replyTo, err = strconv.Atoi(channelID[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("bad channel id %q: %w", channelID, err)
		}
	}
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad channel id %q: %w", channelID, err)
	}
	return chatID, replyTo, nil
}

func (t *Telegram) Send(ctx context.Context, channelID, text string) (string, error) {
	chatID, replyTo, err := splitChannel(channelID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) SendWithButton(ctx context.Context, channelID, text, buttonLabel, buttonData string) (string, error) {
	chatID, replyTo, err := splitChannel(channelID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonLabel, buttonData),
		),
	)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) Edit(ctx context.Context, channelID, messageID, text string) error {
	chatID, _, err := splitChannel(channelID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, err)
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	if _, err := t.bot.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Telegram) DisableButton(ctx context.Context, channelID, messageID string) error {
	chatID, _, err := splitChannel(channelID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, err)
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(),
	))
	if _, err := t.bot.Send(edit); err != nil {
		return fmt.Errorf("clear buttons: %w", err)
	}
	return nil
}

// CreateThread posts an anchor message and returns the composite id
// that scopes subsequent sends to replies under it.
func (t *Telegram) CreateThread(ctx context.Context, channelID, title string) (string, error) {
	chatID, _, err := splitChannel(channelID)
	if err != nil {
		return "", err
	}
	sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, title))
	if err != nil {
		return "", fmt.Errorf("create thread anchor: %w", err)
	}
	return fmt.Sprintf("%d.%d", chatID, sent.MessageID), nil
}

func (t *Telegram) AckButton(ctx context.Context, pressID, text string) error {
	cb := tgbotapi.NewCallback(pressID, text)
	if _, err := t.bot.Request(cb); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (t *Telegram) Mention(userID string) string {
	return "[user](tg://user?id=" + userID + ")"
}

// isPrivileged checks chat administrator status, cached briefly since
// admin sets change rarely and the check is a round trip.
func (t *Telegram) isPrivileged(chatID int64, userID int64) bool {
	key := fmt.Sprintf("%d/%d", chatID, userID)
	if t.extraAdmins[strconv.FormatInt(userID, 10)] {
		return true
	}

	t.mu.Lock()
	if e, ok := t.privCache[key]; ok && time.Since(e.checkedAt) < privCacheTTL {
		t.mu.Unlock()
		return e.privileged
	}
	t.mu.Unlock()

	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	priv := err == nil && (member.IsAdministrator() || member.IsCreator())
	if err != nil {
		t.log.Warn().Err(err).Int64("chat", chatID).Int64("user", userID).Msg("chat member lookup failed")
	}

	t.mu.Lock()
	t.privCache[key] = privEntry{privileged: priv, checkedAt: time.Now()}
	t.mu.Unlock()
	return priv
}

// Listen consumes updates until ctx is cancelled, decoding them into
// Handler calls.
func (t *Telegram) Listen(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.dispatch(ctx, h, update)
		}
	}
}

func (t *Telegram) dispatch(ctx context.Context, h Handler, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		cq := update.CallbackQuery
		if cq.Message != nil && !t.chatAllowed(cq.Message.Chat.ID) {
			return
		}
		press := ButtonPress{
			PressID: cq.ID,
			UserID:  strconv.FormatInt(cq.From.ID, 10),
			Data:    cq.Data,
		}
		if cq.From.UserName != "" {
			press.UserName = cq.From.UserName
		} else {
			press.UserName = cq.From.FirstName
		}
		if cq.Message != nil {
			press.ChannelID = strconv.FormatInt(cq.Message.Chat.ID, 10)
			press.MessageID = strconv.Itoa(cq.Message.MessageID)
		}
		h.HandleButton(ctx, press)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}
	m := update.Message
	if !t.chatAllowed(m.Chat.ID) {
		return
	}

	base := Message{
		ChannelID:  t.channelOf(m),
		MessageID:  strconv.Itoa(m.MessageID),
		UserID:     strconv.FormatInt(m.From.ID, 10),
		Text:       m.Text,
		Privileged: t.isPrivileged(m.Chat.ID, m.From.ID),
	}
	if m.From.UserName != "" {
		base.UserName = m.From.UserName
	} else {
		base.UserName = m.From.FirstName
	}

	if m.IsCommand() {
		h.HandleCommand(ctx, Command{
			Message: base,
			Name:    m.Command(),
			Args:    strings.TrimSpace(m.CommandArguments()),
		})
		return
	}
	h.HandleMessage(ctx, base)
}

// channelOf maps a reply inside a thread back to the thread's
// composite id, so raffle state keyed by thread keeps working when
// users answer under the anchor.
func (t *Telegram) channelOf(m *tgbotapi.Message) string {
	if m.ReplyToMessage != nil {
		return fmt.Sprintf("%d.%d", m.Chat.ID, m.ReplyToMessage.MessageID)
	}
	return strconv.FormatInt(m.Chat.ID, 10)
}
