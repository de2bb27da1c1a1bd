package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
)

// Decoder turns a canonical chat-completion stream into text fragments.
type Decoder struct {
	sc          *Scanner
	onMalformed func(payload []byte, err error)
}

func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	sc := NewScanner(r, opts...)
	return &Decoder{sc: sc, onMalformed: sc.opts.onMalformed}
}

// Next returns the next non-empty content fragment, or io.EOF when the
// stream has terminated.
func (d *Decoder) Next() (string, error) {
	for {
		payload, err := d.sc.Next()
		if err != nil {
			return "", err
		}
		text, err := ExtractDelta(payload)
		if err != nil {
			if d.onMalformed != nil {
				d.onMalformed(payload, err)
			}
			continue
		}
		if text == "" {
			continue
		}
		return text, nil
	}
}

// Fragments ranges over the stream. Iteration stops silently at the end of
// the stream and yields a single error if reading fails.
func (d *Decoder) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			text, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ExtractDelta returns choices[0].delta.content of a frame payload. Frames
// without choices or content yield an empty string.
func ExtractDelta(payload []byte) (string, error) {
	var c chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", nil
	}
	return *c.Choices[0].Delta.Content, nil
}
