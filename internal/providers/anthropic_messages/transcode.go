package anthropic_messages

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/sse"
)

type event struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// transcodedBody is the read side of the pipe. Closing it also closes the
// upstream body so a reader blocked on the network returns promptly.
type transcodedBody struct {
	*io.PipeReader
	upstream io.Closer
}

func (b *transcodedBody) Close() error {
	err := b.PipeReader.Close()
	_ = b.upstream.Close()
	return err
}

func transcode(upstream io.ReadCloser, provider providers.Kind) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer upstream.Close()
		pw.CloseWithError(copyCanonical(upstream, pw, provider))
	}()
	return &transcodedBody{PipeReader: pr, upstream: upstream}
}

// copyCanonical rewrites Messages API events as chat-completion frames.
// Events that fail to parse are dropped.
func copyCanonical(r io.Reader, w io.Writer, provider providers.Kind) error {
	out := sse.NewWriter(w)
	sc := sse.NewScanner(r)
	for {
		payload, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var ev event
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			if err := out.Delta(ev.Delta.Text); err != nil {
				return err
			}
		case "message_stop":
			return out.Done()
		case "error":
			kind, status := apperr.KindUpstream, 0
			switch ev.Error.Type {
			case "rate_limit_error":
				kind = apperr.KindRateLimited
			case "overloaded_error":
				status = 529
			}
			msg := ev.Error.Message
			if msg == "" {
				msg = ev.Error.Type
			}
			return apperr.Upstream(kind, string(provider), status, msg)
		}
	}
}
