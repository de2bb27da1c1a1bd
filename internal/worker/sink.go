package worker

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	// Telegram rejects messages over 4096 characters.
	previewRunes = 3900
	editInterval = 1500 * time.Millisecond
)

// messageSink mirrors a streaming document into one Telegram message,
// editing it at most once per interval with the tail of the text.
// Edit failures are logged and never fail the generation.
type messageSink struct {
	ctx       context.Context
	messenger Messenger
	logger    zerolog.Logger
	chatID    int64
	messageID int64
	interval  time.Duration
	now       func() time.Time

	buf      strings.Builder
	lastEdit time.Time
	dirty    bool
}

func (s *messageSink) Reset() error {
	s.buf.Reset()
	s.dirty = false
	s.lastEdit = s.now()
	s.edit("Writing your PRD...")
	return nil
}

func (s *messageSink) Append(fragment string) error {
	s.buf.WriteString(fragment)
	s.dirty = true
	if s.now().Sub(s.lastEdit) < s.interval {
		return nil
	}
	return s.flush()
}

func (s *messageSink) Restore(content string) error {
	s.buf.Reset()
	s.dirty = false
	s.edit("Refinement failed. Your previous PRD is unchanged.")
	return nil
}

func (s *messageSink) flush() error {
	if !s.dirty || strings.TrimSpace(s.buf.String()) == "" {
		return nil
	}
	s.lastEdit = s.now()
	s.dirty = false
	s.edit(tailPreview(s.buf.String(), previewRunes))
	return nil
}

func (s *messageSink) edit(text string) {
	if err := s.messenger.Edit(s.ctx, s.chatID, s.messageID, text); err != nil {
		s.logger.Warn().Err(err).
			Int64("chat_id", s.chatID).
			Int64("message_id", s.messageID).
			Msg("failed to update progress message")
	}
}

// tailPreview keeps the last max runes so the newest text stays visible.
func tailPreview(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	r := []rune(text)
	return "..." + string(r[len(r)-max+3:])
}
