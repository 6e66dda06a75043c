package courier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"nestwatch/internal/alert"
	logx "nestwatch/pkg/logx"
)

// TelegramConfig configures the Telegram-backed push courier.
type TelegramConfig struct {
	Token   string
	Timeout time.Duration
}

// TelegramCourier delivers push notifications as bot messages to the
// guardian's Telegram chat. It satisfies the same contract as the HTTP
// push courier, so config picks one of the two as the push channel.
type TelegramCourier struct {
	bot     *tele.Bot
	timeout time.Duration
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*TelegramCourier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCourierTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramCourier{bot: b, timeout: cfg.Timeout, log: log}, nil
}

func (c *TelegramCourier) Name() string { return "telegram" }

func (c *TelegramCourier) Deliver(ctx context.Context, r Recipient, a *alert.Alert) error {
	if r.TelegramChatID == 0 {
		return ErrNoRecipient
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := c.bot.Send(&tele.Chat{ID: r.TelegramChatID}, renderText(a))
	if err != nil {
		return err
	}
	c.log.Debug("telegram message delivered", logx.String("alert", a.ID), logx.Int64("chat_id", r.TelegramChatID))
	return nil
}
