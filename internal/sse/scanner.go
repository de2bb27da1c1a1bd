// Package sse reads and writes the chat-completion event streams that
// providers return.
package sse

import (
	"bytes"
	"errors"
	"io"
)

const (
	// DoneSentinel is the payload that terminates a canonical stream.
	DoneSentinel = "[DONE]"

	dataPrefix = "data: "

	defaultReadSize     = 4 << 10
	defaultMaxLineBytes = 8 << 20
)

var ErrLineTooLong = errors.New("sse: line exceeds limit")

type options struct {
	readSize    int
	maxLine     int
	onMalformed func(payload []byte, err error)
}

type Option func(*options)

// WithMaxLineBytes bounds how much of a single unterminated line is buffered.
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLine = n
		}
	}
}

// WithReadSize sets the size of each read from the underlying reader.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithMalformedHandler is called for every data frame the decoder skips
// because its payload could not be parsed.
func WithMalformedHandler(fn func(payload []byte, err error)) Option {
	return func(o *options) { o.onMalformed = fn }
}

func buildOptions(opts []Option) options {
	o := options{readSize: defaultReadSize, maxLine: defaultMaxLineBytes}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Scanner yields the payload of each `data: ` line. Blank lines, comments
// and other fields are skipped. A line split across reads is held until
// its newline arrives.
type Scanner struct {
	r    io.Reader
	opts options

	buf   []byte
	chunk []byte
	eof   bool
	done  bool
	err   error
}

func NewScanner(r io.Reader, opts ...Option) *Scanner {
	o := buildOptions(opts)
	return &Scanner{r: r, opts: o, chunk: make([]byte, o.readSize)}
}

// Next returns the next data payload. The slice is only valid until the
// following call. io.EOF is returned after the sentinel or once the reader
// is exhausted.
func (s *Scanner) Next() ([]byte, error) {
	for {
		if s.done {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}

		line, ok := s.nextLine()
		if !ok {
			if s.eof {
				// connection closed: the trailing fragment is the last line
				line = s.buf
				s.buf = nil
				s.done = true
				if len(line) == 0 {
					continue
				}
			} else {
				if err := s.fill(); err != nil {
					s.done = true
					s.err = err
				}
				continue
			}
		}

		payload, isData := parseLine(line)
		if !isData {
			continue
		}
		if string(payload) == DoneSentinel {
			s.done = true
			return nil, io.EOF
		}
		return payload, nil
	}
}

func (s *Scanner) nextLine() ([]byte, bool) {
	idx := bytes.IndexByte(s.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := s.buf[:idx]
	s.buf = s.buf[idx+1:]
	return line, true
}

func (s *Scanner) fill() error {
	if len(s.buf) > s.opts.maxLine {
		return ErrLineTooLong
	}
	n, err := s.r.Read(s.chunk)
	if n > 0 {
		s.buf = append(s.buf, s.chunk[:n]...)
	}
	if errors.Is(err, io.EOF) {
		s.eof = true
		return nil
	}
	return err
}

func parseLine(line []byte) ([]byte, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
		return nil, false
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(dataPrefix):]), true
}
