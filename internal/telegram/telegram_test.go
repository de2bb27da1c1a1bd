package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

func TestParsePRDCommand(t *testing.T) {
	cases := []struct {
		in           string
		platform     string
		requirements string
	}{
		{"cursor Build a todo app with auth", "cursor", "Build a todo app with auth"},
		{"Lovable\nA landing page", "lovable", "A landing page"},
		{"Build a todo app", "", "Build a todo app"},
		{"replit", "", "replit"},
		{"   ", "", ""},
	}
	for _, tc := range cases {
		platform, req := parsePRDCommand(tc.in)
		if platform != tc.platform || req != tc.requirements {
			t.Fatalf("parse %q: got (%q, %q)", tc.in, platform, req)
		}
	}
}

func TestCommandRemainder(t *testing.T) {
	if got := commandRemainder("/prd@prd_bot cursor todo"); got != "cursor todo" {
		t.Fatalf("unexpected remainder %q", got)
	}
	if got := commandRemainder("/refine\nadd payments"); got != "add payments" {
		t.Fatalf("unexpected remainder %q", got)
	}
	if got := commandRemainder("/history"); got != "" {
		t.Fatalf("expected empty remainder, got %q", got)
	}
}

func TestOwnerID(t *testing.T) {
	if OwnerID(42) != "tg:42" {
		t.Fatalf("unexpected owner id %q", OwnerID(42))
	}
}

func TestDocumentName(t *testing.T) {
	cases := map[string]string{
		"Build a todo app with auth": "build-a-todo-app-with-auth.md",
		"Untitled PRD":               "prd.md",
		"!!!":                        "prd.md",
		"add dark mode (Enhanced)":   "add-dark-mode-enhanced.md",
	}
	for title, want := range cases {
		if got := DocumentName(storage.PRD{Title: title}); got != want {
			t.Fatalf("title %q: got %q want %q", title, got, want)
		}
	}
}

func TestHistoryKeyboardCapsButtons(t *testing.T) {
	prds := make([]storage.PRD, 8)
	for i := range prds {
		prds[i] = storage.PRD{ID: strings.Repeat("a", 36), Title: "A very long title that needs shortening"}
	}
	kb := historyKeyboard(prds)
	if len(kb.InlineKeyboard) != maxButtons {
		t.Fatalf("expected %d rows, got %d", maxButtons, len(kb.InlineKeyboard))
	}
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if len(btn.CallbackData) > 64 {
				t.Fatalf("callback data exceeds telegram limit: %q", btn.CallbackData)
			}
		}
	}
	if !strings.HasPrefix(kb.InlineKeyboard[0][0].CallbackData, cbShow) {
		t.Fatalf("unexpected callback %q", kb.InlineKeyboard[0][0].CallbackData)
	}
}

func TestHistoryText(t *testing.T) {
	text := historyText([]storage.PRD{{
		ID:        "p1",
		Title:     "Todo app",
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	if !strings.Contains(text, "2026-03-01 09:30 [any] Todo app") || !strings.Contains(text, "id: p1") {
		t.Fatalf("unexpected history text %q", text)
	}
}

func TestWizardStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	w := newWizardStore(rdb, time.Minute)

	state, err := w.Get(ctx, 7)
	if err != nil || state != nil {
		t.Fatalf("expected no state, got %+v %v", state, err)
	}
	if err := w.Set(ctx, 7, keyWizardState{Step: stepKey, Provider: "openai"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	state, err = w.Get(ctx, 7)
	if err != nil || state == nil || state.Provider != "openai" || state.Step != stepKey {
		t.Fatalf("unexpected state %+v %v", state, err)
	}

	mr.FastForward(2 * time.Minute)
	state, err = w.Get(ctx, 7)
	if err != nil || state != nil {
		t.Fatalf("expected expired state, got %+v %v", state, err)
	}

	_ = w.Set(ctx, 7, keyWizardState{Step: stepProvider})
	if err := w.Clear(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if state, _ := w.Get(ctx, 7); state != nil {
		t.Fatalf("expected cleared state")
	}
}
