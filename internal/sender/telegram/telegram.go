// Package telegram implements the sender boundary on top of the Telegram Bot
// API via telebot. The adapter is send-only: it never polls for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
	"blastbot/internal/sender"
)

type Config struct {
	Token string
	// HTTPTimeout caps each Bot API round trip. The engine additionally
	// bounds the whole resolve+deliver pair with its own context deadline.
	HTTPTimeout time.Duration
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, log: log}, nil
}

// Resolve accepts the three target forms: positive numeric chat id, signed
// numeric private-chat id, and "@username" (one getChat lookup).
func (a *Adapter) Resolve(ctx context.Context, target string) (sender.Recipient, error) {
	t := strings.TrimSpace(target)
	if strings.HasPrefix(t, "@") {
		var (
			chat *tele.Chat
			err  error
		)
		if werr := a.call(ctx, func() error {
			chat, err = a.bot.ChatByUsername(t)
			return err
		}); werr != nil {
			if errors.Is(werr, tele.ErrChatNotFound) {
				return sender.Recipient{}, fmt.Errorf("%w: %s", sender.ErrTargetNotFound, t)
			}
			return sender.Recipient{}, fmt.Errorf("%w: %s: %v", sender.ErrResolution, t, werr)
		}
		return sender.Recipient{ChatID: chat.ID, Username: t}, nil
	}
	id, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return sender.Recipient{}, fmt.Errorf("%w: %q is not a chat id", sender.ErrResolution, target)
	}
	return sender.Recipient{ChatID: id}, nil
}

func (a *Adapter) Deliver(ctx context.Context, to sender.Recipient, p campaign.Payload) error {
	chat := &tele.Chat{ID: to.ChatID}

	var what any
	switch p.Kind {
	case campaign.PayloadText:
		what = p.Text
	case campaign.PayloadImage:
		what = &tele.Photo{File: fileFromRef(p.Ref), Caption: p.Caption}
	case campaign.PayloadFile:
		what = &tele.Document{File: fileFromRef(p.Ref), Caption: p.Caption}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", sender.ErrDelivery, p.Kind)
	}

	if err := a.call(ctx, func() error {
		_, err := a.bot.Send(chat, what)
		return err
	}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: chat %d: %v", sender.ErrDelivery, to.ChatID, err)
	}
	return nil
}

// call runs one Bot API operation under the caller's context. telebot has no
// context plumbing, so an already-issued call is left to finish in the
// background when the deadline wins; the HTTP client timeout keeps that
// bounded.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fileFromRef(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	// anything else is treated as a Telegram file id
	return tele.File{FileID: ref}
}
