package logx

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		" WARNING": zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"":         zerolog.InfoLevel,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedactToken(t *testing.T) {
	token := "123456:ABCdef"
	err := errors.New(`Post "https://api.telegram.org/bot123456:ABCdef/getUpdates": timeout`)
	got := RedactToken(err, token)
	if got != `Post "https://api.telegram.org/bot<redacted-token>/getUpdates": timeout` {
		t.Fatalf("unexpected redaction %q", got)
	}
	if RedactToken(nil, token) != "" {
		t.Fatalf("nil error must give empty string")
	}
	if RedactToken(errors.New("plain"), "") != "plain" {
		t.Fatalf("empty token must leave message unchanged")
	}
}
