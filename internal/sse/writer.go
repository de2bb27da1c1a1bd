package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer emits canonical chat-completion frames.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

type deltaFrame struct {
	Choices [1]deltaChoice `json:"choices"`
}

type deltaChoice struct {
	Index int `json:"index"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// Delta writes one content fragment.
func (w *Writer) Delta(text string) error {
	var f deltaFrame
	f.Choices[0].Delta.Content = text
	return w.Event(f)
}

// Event writes v as the JSON payload of a data line.
func (w *Writer) Event(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return w.raw(b)
}

func (w *Writer) Done() error {
	return w.raw([]byte(DoneSentinel))
}

func (w *Writer) raw(payload []byte) error {
	buf := make([]byte, 0, len(dataPrefix)+len(payload)+2)
	buf = append(buf, dataPrefix...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
