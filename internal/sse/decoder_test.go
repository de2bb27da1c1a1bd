package sse

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

const sampleStream = ": keep-alive\n" +
	"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"# Todo App\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" PRD — 完成 ✅\"}}]}\r\n\r\n" +
	"data: {not json\n\n" +
	"event: ping\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"\\n## Overview\"}}]}\n\n" +
	"data: [DONE]\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n"

var sampleFragments = []string{"# Todo App", " PRD — 完成 ✅", "\n## Overview"}

// chunkReader returns the configured chunks one Read at a time.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	return n, nil
}

func collect(t *testing.T, r io.Reader, opts ...Option) []string {
	t.Helper()
	var out []string
	for frag, err := range NewDecoder(r, opts...).Fragments() {
		require.NoError(t, err)
		out = append(out, frag)
	}
	return out
}

func TestDecoderFragments(t *testing.T) {
	var malformed int
	got := collect(t, strings.NewReader(sampleStream), WithMalformedHandler(func([]byte, error) { malformed++ }))
	require.Equal(t, sampleFragments, got)
	require.Equal(t, 1, malformed)
}

func TestDecoderSplitAtEveryOffset(t *testing.T) {
	data := []byte(sampleStream)
	for i := 0; i <= len(data); i++ {
		r := &chunkReader{chunks: [][]byte{bytes.Clone(data[:i]), bytes.Clone(data[i:])}}
		require.Equal(t, sampleFragments, collect(t, r, WithReadSize(len(data))), "split at %d", i)
	}
}

func TestDecoderRandomChunking(t *testing.T) {
	data := []byte(sampleStream)
	rng := rand.New(rand.NewPCG(7, 42))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		rest := data
		for len(rest) > 0 {
			n := 1 + rng.IntN(17)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, bytes.Clone(rest[:n]))
			rest = rest[n:]
		}
		readSize := 1 + rng.IntN(64)
		got := collect(t, &chunkReader{chunks: chunks}, WithReadSize(readSize))
		require.Equal(t, sampleFragments, got, "round %d", round)
	}
}

func TestDecoderOneByteReads(t *testing.T) {
	got := collect(t, iotest.OneByteReader(strings.NewReader(sampleStream)))
	require.Equal(t, sampleFragments, got)
}

func TestDecoderInvalidFrameBetweenValid(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: [DONE]\n"
	require.Equal(t, []string{"a", "b"}, collect(t, strings.NewReader(stream)))
}

func TestDecoderConnectionCloseWithoutSentinel(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}"
	require.Equal(t, []string{"a", "b"}, collect(t, strings.NewReader(stream)))
}

func TestDecoderEmptyStream(t *testing.T) {
	require.Empty(t, collect(t, strings.NewReader("")))
	require.Empty(t, collect(t, strings.NewReader(": only a comment\n\n")))
}

func TestDecoderReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n"),
		iotest.ErrReader(boom),
	)
	var got []string
	var gotErr error
	for frag, err := range NewDecoder(r).Fragments() {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, frag)
	}
	require.Equal(t, []string{"a"}, got)
	require.ErrorIs(t, gotErr, boom)
}

func TestScannerLineLimit(t *testing.T) {
	sc := NewScanner(strings.NewReader("data: "+strings.Repeat("x", 64)), WithMaxLineBytes(16), WithReadSize(8))
	_, err := sc.Next()
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, f := range sampleFragments {
		require.NoError(t, w.Delta(f))
	}
	require.NoError(t, w.Event(map[string]string{"event": "saved"}))
	require.NoError(t, w.Done())

	require.Equal(t, sampleFragments, collect(t, &buf))
}
