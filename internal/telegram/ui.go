package telegram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const (
	cbPrefix = "prd:"

	cbHistory  = cbPrefix + "history"
	cbHowTo    = cbPrefix + "howto"
	cbKeys     = cbPrefix + "keys"
	cbShow     = cbPrefix + "show:"
	cbDelete   = cbPrefix + "del:"
	maxButtons = 5
)

func helpText() string {
	return strings.Join([]string{
		"I write Product Requirements Documents for AI coding assistants.",
		"",
		"/prd [cursor|lovable|replit] <requirements> - write a new PRD",
		"/refine <additional requirements> - extend your latest PRD",
		"/history - your saved PRDs",
		"/show <id> - get a PRD as a markdown file",
		"/delete <id> - delete a PRD",
		"",
		"Keys (private chat):",
		"/key_add - store your own provider API key",
		"/key_list - list your stored keys",
		"/key_del <provider> - remove a key",
		"/cancel - stop the current dialog",
	}, "\n")
}

func howToText() string {
	return strings.Join([]string{
		"Describe what you want to build in plain words, for example:",
		"",
		"/prd cursor A habit tracker with streaks, reminders and Google sign-in",
		"",
		"The document streams into a message and arrives as a file when done.",
		"Use /refine to add requirements to the last PRD.",
	}, "\n")
}

func menuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "How it works", CallbackData: cbHowTo},
			{Text: "My PRDs", CallbackData: cbHistory},
		},
		{
			{Text: "My keys", CallbackData: cbKeys},
		},
	}}
}

func historyText(prds []storage.PRD) string {
	lines := []string{"Your PRDs (newest first):"}
	for _, p := range prds {
		platform := p.Platform
		if platform == "" {
			platform = "any"
		}
		lines = append(lines, fmt.Sprintf("- %s [%s] %s\n  id: %s", p.CreatedAt.UTC().Format("2006-01-02 15:04"), platform, p.Title, p.ID))
	}
	return strings.Join(lines, "\n")
}

// historyKeyboard offers show and delete buttons for the newest documents.
func historyKeyboard(prds []storage.PRD) *gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, maxButtons)
	for i, p := range prds {
		if i == maxButtons {
			break
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: "Get " + shortTitle(p.Title), CallbackData: cbShow + p.ID},
			{Text: "Delete", CallbackData: cbDelete + p.ID},
		})
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func shortTitle(title string) string {
	r := []rune(title)
	if len(r) > 24 {
		return string(r[:24]) + "..."
	}
	return title
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// DocumentName builds a file name for a PRD and falls back to prd.md.
func DocumentName(p storage.PRD) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(p.Title), "-"), "-")
	if base == "" || strings.HasPrefix(base, "untitled-prd") {
		return "prd.md"
	}
	if len(base) > 48 {
		base = strings.TrimRight(base[:48], "-")
	}
	return base + ".md"
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	if ctx.EffectiveMessage != nil && ctx.CallbackQuery == nil {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: ctx.EffectiveMessage.MessageId, AllowSendingWithoutReply: true}
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}
