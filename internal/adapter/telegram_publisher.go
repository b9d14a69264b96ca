package adapter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/coin-tracker/internal/config"
	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AboutButtonText is the label of the inline button linking to the channel post
const AboutButtonText = "About the experiment"

// TelegramPublisher keeps one channel message up to date with the latest summary
type TelegramPublisher struct {
	bot       *tgbotapi.BotAPI
	channelID int64
	messageID int
	aboutURL  string
}

// NewTelegramPublisher connects to the Bot API and resolves the channel link
func NewTelegramPublisher(cfg *config.TelegramConfig) (*TelegramPublisher, error) {
	return NewTelegramPublisherWithEndpoint(cfg, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
}

// NewTelegramPublisherWithEndpoint is NewTelegramPublisher against a custom Bot API endpoint.
// endpoint is a format string taking the token and the method name.
func NewTelegramPublisherWithEndpoint(cfg *config.TelegramConfig, endpoint string, client *http.Client) (*TelegramPublisher, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, apperrors.NewPublisherError("connect", err)
	}

	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: cfg.ChannelID},
	})
	if err != nil {
		return nil, classifyBotError("get channel", err)
	}

	p := &TelegramPublisher{
		bot:       bot,
		channelID: cfg.ChannelID,
		messageID: cfg.ChannelMessageID,
	}
	if chat.UserName != "" {
		p.aboutURL = fmt.Sprintf("https://t.me/%s/%d", chat.UserName, cfg.ChannelMessageID)
	}

	logging.WithFields(map[string]interface{}{
		"bot":       bot.Self.UserName,
		"channelId": cfg.ChannelID,
		"messageId": cfg.ChannelMessageID,
	}).Info("Telegram publisher ready")

	return p, nil
}

// Publish replaces the text of the channel message. An unchanged message counts as published.
func (p *TelegramPublisher) Publish(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := "<code>" + html.EscapeString(text) + "</code>"

	var edit tgbotapi.EditMessageTextConfig
	if p.aboutURL != "" {
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(AboutButtonText, p.aboutURL),
			),
		)
		edit = tgbotapi.NewEditMessageTextAndMarkup(p.channelID, p.messageID, body, markup)
	} else {
		edit = tgbotapi.NewEditMessageText(p.channelID, p.messageID, body)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	if _, err := p.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			logging.FromContext(ctx).Debug("Channel message already up to date")
			return nil
		}
		return classifyBotError("edit message", err)
	}
	return nil
}

// classifyBotError keeps the Bot API error code so that rejected edits are not retried
// and flood control waits as long as Telegram asks
func classifyBotError(operation string, err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return apperrors.NewPublisherError(operation, err)
	}
	if apiErr.RetryAfter > 0 {
		return apperrors.NewPublisherRateLimitError(time.Duration(apiErr.RetryAfter)*time.Second, err)
	}
	return apperrors.NewPublisherStatusError(operation, apiErr.Code, err)
}
