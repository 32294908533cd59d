// Package telegram posts the daily estimate summary to a Telegram chat. Each
// day's message replies to the previous day's, forming one long thread per
// channel, and the run loop uses the error/recovery notices to flag broken
// and healed cycles. Delivery is retried with linear backoff.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/epimetrics/rtwatch/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ChatID returns the configured destination chat.
func (c *Client) ChatID() int64 {
	return c.chatID
}

// SendDailySummary posts the summary for one source date: the ranked table
// and, when non-empty, a region chart, both inside code blocks so the
// alignment survives. replyTo > 0 makes the message a reply, continuing the
// daily thread. Returns the sent message ID for state tracking.
func (c *Client) SendDailySummary(date time.Time, summary, chart string, replyTo int) (int, error) {
	message := FormatDailySummary(date, summary, chart)

	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2"
	if replyTo > 0 {
		msg.ReplyToMessageID = replyTo
	}

	sent, err := c.sendWithRetry(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendError notifies the chat that an estimation cycle failed.
func (c *Client) SendError(err error) error {
	message := fmt.Sprintf("⚠️ *rtwatch cycle failed*\n\n%s", escapeMarkdownV2(err.Error()))
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2"
	_, serr := c.sendWithRetry(msg)
	return serr
}

// SendRecovery notifies the chat that cycles succeed again after failures.
func (c *Client) SendRecovery(consecutiveFailures int) error {
	message := fmt.Sprintf("✅ *rtwatch recovered* after %d failed cycle%s",
		consecutiveFailures, plural(consecutiveFailures))
	msg := tgbotapi.NewMessage(c.chatID, escapeMarkdownV2Keeping(message, '*'))
	msg.ParseMode = "MarkdownV2"
	_, err := c.sendWithRetry(msg)
	return err
}

func (c *Client) sendWithRetry(msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		sent, err := c.bot.Send(msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return tgbotapi.Message{}, fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// FormatDailySummary builds the MarkdownV2 message body for one date.
func FormatDailySummary(date time.Time, summary, chart string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *R\\(t\\) estimates for %s*\n\n", escapeMarkdownV2(date.Format(models.DateLayout)))
	b.WriteString("```\n")
	b.WriteString(escapeCodeBlock(summary))
	b.WriteString("```\n")
	if chart != "" {
		b.WriteString("```\n")
		b.WriteString(escapeCodeBlock(chart))
		b.WriteString("```\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeMarkdownV2Keeping escapes like escapeMarkdownV2 but leaves one
// formatting character alone, for messages that carry their own markup.
func escapeMarkdownV2Keeping(text string, keep rune) string {
	var b strings.Builder
	for _, char := range text {
		if char != keep {
			switch char {
			case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
				b.WriteByte('\\')
			}
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCodeBlock escapes only what MarkdownV2 treats specially inside a
// code block.
func escapeCodeBlock(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	return strings.ReplaceAll(text, "`", "\\`")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
