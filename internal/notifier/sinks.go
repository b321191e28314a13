package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "mudbooker/pkg/logx"
)

// NewLogSink returns a sink that writes each notification as an info line.
func NewLogSink(log logx.Logger) Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return logSink{log: log.With(logx.String("comp", "notify"))}
}

type logSink struct{ log logx.Logger }

func (logSink) Name() string { return "log" }

func (s logSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info(n.Text, logx.String("title", n.Title))
	return nil
}

// TelegramConfig addresses a chat (and optionally a forum topic).
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// URL overrides the Bot API endpoint (tests, self-hosted API servers).
	URL string
}

// telegramSender is the slice of *tele.Bot the sink uses.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type telegramSink struct {
	bot      telegramSender
	chat     *tele.Chat
	threadID int
}

// NewTelegramSink builds a send-only bot client. No polling is started.
func NewTelegramSink(cfg TelegramConfig) (Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return newTelegramSink(b, cfg), nil
}

func newTelegramSink(bot telegramSender, cfg TelegramConfig) *telegramSink {
	return &telegramSink{bot: bot, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}
}

func (*telegramSink) Name() string { return "telegram" }

func (s *telegramSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := escapeHTML(n.Text)
	if n.Title != "" {
		text = "<b>" + escapeHTML(n.Title) + "</b>\n" + text
	}
	// telebot has no per-call context; the client timeout bounds the call.
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              s.threadID,
	})
	return err
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }

// MultiSink fans a notification out to every sink; it fails only if all fail.
func MultiSink(sinks ...Sink) Sink {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m multiSink) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}
