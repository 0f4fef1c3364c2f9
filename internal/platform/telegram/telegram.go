// Package telegram publishes posts to Telegram channels and reads channel
// member counts as follower metrics.
package telegram

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"automod/internal/content"
	logx "automod/pkg/logx"
)

// Platform is the content.Account.Platform value served by this package.
const Platform = "telegram"

// ErrRateLimited is returned when Telegram answers with a flood-wait.
var ErrRateLimited = errors.New("rate_limited")

type Config struct {
	Token string
	// Channels maps account IDs to chat IDs, overriding Account.ChannelID.
	Channels   map[string]int64
	RatePerSec int
	Timeout    time.Duration
}

// api is the part of *tele.Bot used here.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Len(chat *tele.Chat) (int, error)
}

type Client struct {
	cfg     Config
	bot     api
	limiter *rate.Limiter
	log     logx.Logger
}

// New creates a client without contacting Telegram.
func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return newClient(cfg, b, log), nil
}

func newClient(cfg Config, bot api, log logx.Logger) *Client {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With(logx.String("comp", "telegram")),
	}
}

func (c *Client) chat(acc content.Account) (*tele.Chat, error) {
	if id, ok := c.cfg.Channels[acc.ID]; ok {
		return &tele.Chat{ID: id}, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(acc.ChannelID), 10, 64)
	if err != nil {
		return nil, errors.Newf("account %s: channel id %q is not a chat id", acc.ID, acc.ChannelID)
	}
	return &tele.Chat{ID: id}, nil
}

// Publish sends the post as a text message, or as a photo with caption when
// it carries a media URL.
func (c *Client) Publish(ctx context.Context, acc content.Account, p content.Post) error {
	chat, err := c.chat(acc)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	text := Render(p)
	var what interface{} = text
	if p.MediaURL != "" {
		what = &tele.Photo{File: tele.FromURL(p.MediaURL), Caption: text}
	}
	msg, err := c.bot.Send(chat, what)
	if err != nil {
		return classify(err)
	}
	c.log.Debug("message sent", logx.String("post", p.ID), logx.Int64("chat_id", chat.ID), logx.Int("message_id", msg.ID))
	return nil
}

// FetchMetrics reports the channel member count as followers. Telegram has
// no following or post count for a channel, so those keep the cached values.
func (c *Client) FetchMetrics(ctx context.Context, acc content.Account) (content.Metrics, error) {
	chat, err := c.chat(acc)
	if err != nil {
		return content.Metrics{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return content.Metrics{}, errors.Wrap(err, "rate limiter")
	}
	n, err := c.bot.Len(chat)
	if err != nil {
		return content.Metrics{}, classify(err)
	}
	return content.Metrics{
		Followers:  int64(n),
		Following:  acc.Metrics.Following,
		PostsCount: acc.Metrics.PostsCount,
	}, nil
}

// Render formats a post body followed by its tags.
func Render(p content.Post) string {
	body := strings.TrimSpace(p.Body)
	if len(p.Tags) == 0 {
		return body
	}
	return body + "\n\n" + strings.Join(p.Tags, " ")
}

func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return errors.Mark(errors.Newf("%s (retry after %ds)", ErrRateLimited, flood.RetryAfter), ErrRateLimited)
	}
	return errors.Wrap(err, "telegram")
}
