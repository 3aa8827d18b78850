package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/internal/auth"
	"github.com/coworklabs/cowork/pkg/protocol"
)

// Known provider names.
const (
	NameGoogle    = "google"
	NameAnthropic = "anthropic"
	NameOpenAI    = "openai"
)

// envKeys maps providers to the environment variable consulted when no
// stored connection exists.
var envKeys = map[string]string{
	NameGoogle:    "GEMINI_API_KEY",
	NameAnthropic: "ANTHROPIC_API_KEY",
	NameOpenAI:    "OPENAI_API_KEY",
}

// DefaultModel returns the model used when a session switches to the
// provider without naming one.
func DefaultModel(provider string) string {
	switch provider {
	case NameAnthropic:
		return DefaultAnthropicModel
	case NameOpenAI:
		return DefaultOpenAIModel
	default:
		return DefaultGoogleModel
	}
}

// Known reports whether the provider name is in the catalog.
func Known(provider string) bool {
	switch provider {
	case NameGoogle, NameAnthropic, NameOpenAI:
		return true
	}
	return false
}

// Catalog resolves provider adapters from stored credentials and describes
// them for the provider surfaces of the protocol.
type Catalog struct {
	Auth *auth.Store
}

// NewCatalog builds a catalog over the given credential store.
func NewCatalog(store *auth.Store) *Catalog {
	return &Catalog{Auth: store}
}

// apiKey resolves the credential for a provider: stored connection first,
// then environment.
func (c *Catalog) apiKey(provider string) string {
	if c.Auth != nil {
		if conn, ok, err := c.Auth.Get(provider); err == nil && ok && conn.APIKey != "" {
			return conn.APIKey
		}
	}
	return os.Getenv(envKeys[provider])
}

// New constructs the adapter for a provider name.
func (c *Catalog) New(ctx context.Context, provider string) (agent.Provider, error) {
	key := c.apiKey(provider)
	switch provider {
	case NameGoogle:
		return NewGoogle(ctx, key)
	case NameAnthropic:
		return NewAnthropic(key, "")
	case NameOpenAI:
		return NewOpenAI(key, "")
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// Providers lists the catalog with per-provider configured flags.
func (c *Catalog) Providers() []protocol.ProviderInfo {
	infos := []protocol.ProviderInfo{
		{Name: NameGoogle, DefaultModel: DefaultGoogleModel, Models: (&Google{}).Models()},
		{Name: NameAnthropic, DefaultModel: DefaultAnthropicModel, Models: (&Anthropic{}).Models()},
		{Name: NameOpenAI, DefaultModel: DefaultOpenAIModel, Models: (&OpenAI{}).Models()},
	}
	for i := range infos {
		infos[i].Configured = c.apiKey(infos[i].Name) != ""
	}
	return infos
}

// AuthMethods lists the supported auth methods. API keys are the only
// method; OAuth flows reply with an explanatory challenge instead.
func (c *Catalog) AuthMethods() []protocol.AuthMethod {
	return []protocol.AuthMethod{
		{Provider: NameGoogle, MethodID: "api_key", Label: "Gemini API key"},
		{Provider: NameAnthropic, MethodID: "api_key", Label: "Anthropic API key"},
		{Provider: NameOpenAI, MethodID: "api_key", Label: "OpenAI API key"},
	}
}
