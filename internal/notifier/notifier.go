// Package notifier posts a short rich-text summary of a flagged message to
// a routed destination chat via the Telegram bot API.
package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chatsignal/internal/providers"
)

// maxBodyWidth bounds the forwarded message body by display width, leaving
// room in Telegram's ~4096 character message cap for the chat/from/at
// fields and the original-message link.
const maxBodyWidth = 3500

var parseErrRe = regexp.MustCompile(`(?i)can't parse entities|parse entities|find end of the entity`)

// Request is one notification to deliver.
type Request struct {
	Text          string
	SourceChatID  int64
	SenderID      int64
	MessageID     int32
	SenderHandle  string // optional, without leading @
	ChatHandle    string // optional, without leading @
	MessageDate   time.Time
	TargetChatID  int64
}

// Notifier posts to each request's TargetChatID via the bot API.
type Notifier struct {
	bot *telego.Bot
}

func New(bot *telego.Bot) *Notifier {
	return &Notifier{bot: bot}
}

// Send formats and posts req. A bot-API error is retried under
// DefaultRetryConfig only when providers.IsRetryableError accepts it (a
// network error, or text naming a connection reset, broken pipe, EOF or
// timeout); it is not converted to providers.HTTPError, so a rate-limit
// response's retry-after is not used. Failures are logged and swallowed —
// a notifier outage must never block ingestion.
func (n *Notifier) Send(ctx context.Context, req Request) {
	body := format(req)

	_, err := providers.RetryDo(ctx, providers.DefaultRetryConfig(), func() (struct{}, error) {
		msg := tu.Message(tu.ID(req.TargetChatID), body)
		msg.ParseMode = telego.ModeHTML
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			if parseErrRe.MatchString(err.Error()) {
				msg.ParseMode = ""
				_, err = n.bot.SendMessage(ctx, msg)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		slog.Warn("notifier: delivery failed, dropping", "target", req.TargetChatID, "source_chat", req.SourceChatID, "error", err)
	}
}

func format(req Request) string {
	var b strings.Builder

	chatLabel := fmt.Sprintf("%d", req.SourceChatID)
	if req.ChatHandle != "" {
		chatLabel = "@" + req.ChatHandle
	}
	fmt.Fprintf(&b, "<b>Chat:</b> %s\n", html.EscapeString(chatLabel))

	author := fmt.Sprintf("%d", req.SenderID)
	if req.SenderHandle != "" {
		author = "@" + req.SenderHandle
	}
	fmt.Fprintf(&b, "<b>From:</b> %s\n", html.EscapeString(author))

	if !req.MessageDate.IsZero() {
		fmt.Fprintf(&b, "<b>At:</b> %s\n", req.MessageDate.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	b.WriteString("\n")
	b.WriteString(html.EscapeString(truncateByWidth(req.Text, maxBodyWidth)))

	if req.ChatHandle != "" && req.MessageID != 0 {
		link := fmt.Sprintf("https://t.me/%s/%d", req.ChatHandle, req.MessageID)
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">open original</a>", link)
	}

	return b.String()
}

// truncateByWidth trims s to at most max terminal columns, counting
// double-width runes (CJK, many emoji) as two — a plain rune count
// undercounts how much of Telegram's limit those messages actually use.
func truncateByWidth(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	var b strings.Builder
	width := 0
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if width+w > max {
			b.WriteRune('…')
			break
		}
		b.WriteRune(r)
		width += w
	}
	return b.String()
}
