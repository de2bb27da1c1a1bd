package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/generator"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/queue"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const historyLimit = 10

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, helpText(), menuKeyboard())
}

func (s *Service) prd(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	platform, requirements := parsePRDCommand(commandRemainder(msg.GetText()))
	if requirements == "" {
		return s.reply(ctx, b, "Usage: /prd [cursor|lovable|replit] <requirements>")
	}
	return s.enqueue(b, ctx, queue.GenerateJob{
		Kind:         queue.JobGenerate,
		Platform:     platform,
		Requirements: requirements,
	})
}

func (s *Service) refine(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	additional := strings.TrimSpace(commandRemainder(msg.GetText()))
	if additional == "" {
		return s.reply(ctx, b, "Usage: /refine <additional requirements>")
	}
	latest, err := s.prds.ListPRDsByOwner(context.Background(), OwnerID(ctx.EffectiveUser.Id), 1)
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest prd failed")
		return s.reply(ctx, b, "Failed to load your PRDs.")
	}
	if len(latest) == 0 {
		return s.reply(ctx, b, "You have no PRD to refine yet. Start with /prd.")
	}
	return s.enqueue(b, ctx, queue.GenerateJob{
		Kind:         queue.JobRefine,
		Platform:     latest[0].Platform,
		Requirements: additional,
		BasePRDID:    latest[0].ID,
	})
}

func (s *Service) enqueue(b *gotgbot.Bot, ctx *ext.Context, job queue.GenerateJob) error {
	owner := OwnerID(ctx.EffectiveUser.Id)
	if !s.allowRate(owner, b, ctx) {
		return nil
	}
	job.ChatID = ctx.EffectiveChat.Id
	job.UserID = ctx.EffectiveUser.Id
	job.MessageID = ctx.EffectiveMessage.MessageId
	job.OwnerID = owner
	if _, err := s.queue.Enqueue(context.Background(), job); err != nil {
		s.logger.Error().Err(err).Str("kind", job.Kind).Msg("failed to enqueue job")
		return s.reply(ctx, b, "Queue is unavailable right now.")
	}
	s.metrics.EnqueuedJobs.Inc()
	return s.reply(ctx, b, "Accepted. Your PRD is being written.")
}

func (s *Service) history(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	prds, err := s.prds.ListPRDsByOwner(context.Background(), OwnerID(ctx.EffectiveUser.Id), historyLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list prds failed")
		return s.reply(ctx, b, "Failed to load your PRDs.")
	}
	if len(prds) == 0 {
		return s.reply(ctx, b, "No saved PRDs yet. Start with /prd.")
	}
	return s.replyWithMarkup(ctx, b, historyText(prds), historyKeyboard(prds))
}

func (s *Service) show(b *gotgbot.Bot, ctx *ext.Context) error {
	id := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if id == "" {
		return s.reply(ctx, b, "Usage: /show <id>")
	}
	return s.sendPRD(b, ctx, id)
}

func (s *Service) sendPRD(b *gotgbot.Bot, ctx *ext.Context, id string) error {
	if ctx.EffectiveUser == nil || ctx.EffectiveChat == nil {
		return nil
	}
	p, err := s.prds.GetPRD(context.Background(), id)
	if err != nil || p.OwnerID != OwnerID(ctx.EffectiveUser.Id) {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("prd_id", id).Msg("get prd failed")
			return s.reply(ctx, b, "Failed to load the PRD.")
		}
		return s.reply(ctx, b, "PRD not found.")
	}
	_, err = b.SendDocument(ctx.EffectiveChat.Id,
		gotgbot.InputFileByReader(DocumentName(p), bytes.NewReader([]byte(p.Content))),
		&gotgbot.SendDocumentOpts{Caption: p.Title})
	return err
}

func (s *Service) deleteCmd(b *gotgbot.Bot, ctx *ext.Context) error {
	id := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if id == "" {
		return s.reply(ctx, b, "Usage: /delete <id>")
	}
	return s.reply(ctx, b, s.deletePRD(ctx, id))
}

func (s *Service) deletePRD(ctx *ext.Context, id string) string {
	if ctx.EffectiveUser == nil {
		return "PRD not found."
	}
	err := s.prds.DeletePRD(context.Background(), id, OwnerID(ctx.EffectiveUser.Id))
	switch {
	case err == nil:
		return "PRD deleted."
	case errors.Is(err, storage.ErrNotFound):
		return "PRD not found."
	default:
		s.logger.Error().Err(err).Str("prd_id", id).Msg("delete prd failed")
		return "Failed to delete the PRD."
	}
}

func (s *Service) keyAdd(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "Send /key_add to me in a private chat so your key stays private.")
	}
	if err := s.wizard.Set(context.Background(), ctx.EffectiveUser.Id, keyWizardState{Step: stepProvider}); err != nil {
		s.logger.Error().Err(err).Msg("start key wizard failed")
		return s.reply(ctx, b, "Failed to start. Please try again.")
	}
	return s.reply(ctx, b, "Which provider? Send one of: "+providerChoices()+". Send /cancel to stop.")
}

func (s *Service) keyList(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	keys, err := s.keys.ListUserKeys(context.Background(), OwnerID(ctx.EffectiveUser.Id))
	if err != nil {
		s.logger.Error().Err(err).Msg("list keys failed")
		return s.reply(ctx, b, "Failed to load your keys.")
	}
	if len(keys) == 0 {
		return s.reply(ctx, b, "No personal keys stored. Shared keys are used instead. Add one with /key_add.")
	}
	lines := []string{"Your keys:"}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s %s", k.Provider, k.Hint))
	}
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) keyDel(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	provider := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if provider == "" {
		return s.reply(ctx, b, "Usage: /key_del <provider>")
	}
	if err := s.keys.DeleteUserKey(context.Background(), OwnerID(ctx.EffectiveUser.Id), provider); err != nil {
		if e, ok := apperr.As(err); ok && (e.Kind == apperr.KindValidation || e.Kind == apperr.KindNotFound) {
			return s.reply(ctx, b, e.Message)
		}
		s.logger.Error().Err(err).Msg("delete key failed")
		return s.reply(ctx, b, "Failed to delete the key.")
	}
	return s.reply(ctx, b, "Key deleted.")
}

func (s *Service) cancelWizard(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || ctx.EffectiveChat.Type != "private" {
		return nil
	}
	if err := s.wizard.Clear(context.Background(), ctx.EffectiveUser.Id); err != nil {
		return s.reply(ctx, b, "Failed to cancel right now.")
	}
	return s.reply(ctx, b, "Canceled.")
}

func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	text := strings.TrimSpace(ctx.EffectiveMessage.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}

	userID := ctx.EffectiveUser.Id
	state, err := s.wizard.Get(context.Background(), userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("wizard load failed")
		return s.reply(ctx, b, "Something went wrong. Start again with /key_add.")
	}
	if state == nil {
		return nil
	}

	switch state.Step {
	case stepProvider:
		kind, err := providers.ParseKind(text)
		if err != nil {
			return s.reply(ctx, b, "Unknown provider. Send one of: "+providerChoices())
		}
		state.Provider = string(kind)
		state.Step = stepKey
		if err := s.wizard.Set(context.Background(), userID, *state); err != nil {
			return s.reply(ctx, b, "Failed to save your progress.")
		}
		return s.reply(ctx, b, "Now send the API key for "+string(kind)+".")

	case stepKey:
		info, err := s.keys.SaveUserKey(context.Background(), OwnerID(userID), state.Provider, text)
		if err != nil {
			if e, ok := apperr.As(err); ok && e.Kind == apperr.KindValidation {
				return s.reply(ctx, b, e.Message+". Send the key again or /cancel.")
			}
			s.logger.Error().Err(err).Msg("save key failed")
			return s.reply(ctx, b, "Failed to save the key. Start again with /key_add.")
		}
		_ = s.wizard.Clear(context.Background(), userID)
		s.deleteSecretMessage(b, ctx)
		return s.reply(ctx, b, fmt.Sprintf("Saved %s key %s.", info.Provider, info.Hint))
	}
	return nil
}

// deleteSecretMessage removes the message carrying a raw API key from the
// chat history.
func (s *Service) deleteSecretMessage(b *gotgbot.Bot, ctx *ext.Context) {
	if _, err := b.DeleteMessage(ctx.EffectiveChat.Id, ctx.EffectiveMessage.MessageId, nil); err != nil {
		s.logger.Debug().Err(err).Msg("could not delete key message")
	}
}

func (s *Service) allowRate(owner string, b *gotgbot.Bot, ctx *ext.Context) bool {
	if s.limiter == nil {
		return true
	}
	now := s.now()
	d, err := s.limiter.Allow(context.Background(), rateScope, owner, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if d.Allowed {
		return true
	}
	s.metrics.RateLimited.WithLabelValues(rateScope).Inc()
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+d.ResetAt.Format("15:04 UTC"))
	return false
}

// parsePRDCommand splits an optional leading platform off the requirements.
func parsePRDCommand(rest string) (platform, requirements string) {
	first, remainder := splitFirstWord(rest)
	for _, p := range generator.Platforms {
		if strings.EqualFold(first, p.ID) && remainder != "" {
			return p.ID, remainder
		}
	}
	return "", strings.TrimSpace(rest)
}

func providerChoices() string {
	names := make([]string, 0, len(providers.Kinds))
	for _, k := range providers.Kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// commandRemainder drops the leading /command word. Requirements often
// start on the next line, so any whitespace separates it.
func commandRemainder(text string) string {
	_, rest := splitFirstWord(text)
	return rest
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexAny(s, " \n\t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
