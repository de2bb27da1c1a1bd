package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
)

// Endpoint is the model and URL used for one provider.
type Endpoint struct {
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

type Catalog map[providers.Kind]Endpoint

func DefaultCatalog() Catalog {
	return Catalog{
		providers.KindOpenAI: {
			Model:    "gpt-4o",
			Endpoint: "https://api.openai.com/v1/chat/completions",
		},
		providers.KindGoogle: {
			Model:    "gemini-2.0-flash",
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions",
		},
		providers.KindAnthropic: {
			Model:    "claude-sonnet-4-20250514",
			Endpoint: "https://api.anthropic.com/v1/messages",
		},
		providers.KindGateway: {
			Model:    "google/gemini-2.5-flash",
			Endpoint: "https://ai.gateway.lovable.dev/v1/chat/completions",
		},
	}
}

type catalogFile struct {
	Providers map[string]Endpoint `yaml:"providers"`
}

// LoadCatalog returns the default catalog with per-field overrides from a
// YAML file. An empty path yields the defaults.
//
//	providers:
//	  openai:
//	    model: gpt-4o-mini
//	  gateway:
//	    endpoint: https://gateway.internal/v1/chat/completions
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	for name, override := range f.Providers {
		kind, err := providers.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("provider catalog: %w", err)
		}
		e := cat[kind]
		if override.Model != "" {
			e.Model = override.Model
		}
		if override.Endpoint != "" {
			e.Endpoint = override.Endpoint
		}
		cat[kind] = e
	}
	return cat, nil
}
