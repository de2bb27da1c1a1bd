package registry

import (
	"fmt"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/anthropic_messages"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/openai_compat"
)

// Registry maps each provider kind onto the adapter for its wire shape.
type Registry struct {
	adapters map[providers.Kind]providers.Adapter
}

func New(opts providers.HTTPOptions) *Registry {
	chat := openai_compat.New(opts)
	return &Registry{adapters: map[providers.Kind]providers.Adapter{
		providers.KindOpenAI:    chat,
		providers.KindGoogle:    chat,
		providers.KindGateway:   chat,
		providers.KindAnthropic: anthropic_messages.New(opts),
	}}
}

func (r *Registry) Build(kind providers.Kind) (providers.Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported provider kind %q", kind)
	}
	return a, nil
}
