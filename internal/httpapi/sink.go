package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/sse"
)

// streamSink writes generation output as server-sent events. Headers are
// committed on Reset so earlier failures can still be sent as JSON.
type streamSink struct {
	c       *gin.Context
	w       *sse.Writer
	started bool
}

func newStreamSink(c *gin.Context) *streamSink {
	return &streamSink{c: c}
}

func (s *streamSink) Reset() error {
	if s.started {
		return nil
	}
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.w = sse.NewWriter(s.c.Writer)
	s.started = true
	s.c.Writer.Flush()
	return nil
}

func (s *streamSink) Append(fragment string) error {
	return s.w.Delta(fragment)
}

func (s *streamSink) Restore(content string) error {
	return s.w.Event(controlFrame{Event: "restore", Content: content})
}

type controlFrame struct {
	Event   string   `json:"event"`
	Content string   `json:"content,omitempty"`
	PRD     *prdView `json:"prd,omitempty"`
	Error   string   `json:"error,omitempty"`
	Kind    string   `json:"kind,omitempty"`
}
