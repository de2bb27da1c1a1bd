package registry

import (
	"testing"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/anthropic_messages"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/openai_compat"
)

func TestBuildDispatchesByShape(t *testing.T) {
	r := New(providers.HTTPOptions{})
	for _, kind := range []providers.Kind{providers.KindOpenAI, providers.KindGoogle, providers.KindGateway} {
		a, err := r.Build(kind)
		if err != nil {
			t.Fatalf("build %s: %v", kind, err)
		}
		if _, ok := a.(*openai_compat.Client); !ok {
			t.Fatalf("expected openai_compat adapter for %s, got %T", kind, a)
		}
	}
	a, err := r.Build(providers.KindAnthropic)
	if err != nil {
		t.Fatalf("build anthropic: %v", err)
	}
	if _, ok := a.(*anthropic_messages.Client); !ok {
		t.Fatalf("expected anthropic adapter, got %T", a)
	}
	if _, err := r.Build("mistral"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
