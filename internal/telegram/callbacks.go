package telegram

import (
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	switch {
	case data == cbHowTo:
		s.answerCallback(b, ctx, "", false)
		return s.replyWithMarkup(ctx, b, howToText(), nil)

	case data == cbHistory:
		s.answerCallback(b, ctx, "", false)
		return s.history(b, ctx)

	case data == cbKeys:
		s.answerCallback(b, ctx, "", false)
		return s.keyList(b, ctx)

	case strings.HasPrefix(data, cbShow):
		s.answerCallback(b, ctx, "Sending...", false)
		return s.sendPRD(b, ctx, strings.TrimPrefix(data, cbShow))

	case strings.HasPrefix(data, cbDelete):
		s.answerCallback(b, ctx, s.deletePRD(ctx, strings.TrimPrefix(data, cbDelete)), true)
		return nil

	default:
		s.answerCallback(b, ctx, "This button has expired.", true)
		return nil
	}
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	if _, err := b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts); err != nil {
		s.logger.Debug().Err(err).Msg("answer callback failed")
	}
}
