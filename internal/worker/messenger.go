package worker

import (
	"bytes"
	"context"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// Messenger is the chat surface jobs report to.
type Messenger interface {
	Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string) error
	SendDocument(ctx context.Context, chatID, replyTo int64, name, caption string, content []byte) error
}

type BotMessenger struct {
	Bot *gotgbot.Bot
}

func (m BotMessenger) Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error) {
	opts := &gotgbot.SendMessageOpts{}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo, AllowSendingWithoutReply: true}
	}
	msg, err := m.Bot.SendMessageWithContext(ctx, chatID, text, opts)
	if err != nil {
		return 0, err
	}
	return msg.MessageId, nil
}

func (m BotMessenger) Edit(ctx context.Context, chatID, messageID int64, text string) error {
	_, _, err := m.Bot.EditMessageTextWithContext(ctx, text, &gotgbot.EditMessageTextOpts{
		ChatId:    chatID,
		MessageId: messageID,
	})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return nil
	}
	return err
}

func (m BotMessenger) SendDocument(ctx context.Context, chatID, replyTo int64, name, caption string, content []byte) error {
	opts := &gotgbot.SendDocumentOpts{Caption: caption}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo, AllowSendingWithoutReply: true}
	}
	_, err := m.Bot.SendDocumentWithContext(ctx, chatID, gotgbot.InputFileByReader(name, bytes.NewReader(content)), opts)
	return err
}
