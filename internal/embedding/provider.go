package embedding

import (
	"fmt"

	"github.com/brainstem-run/brainstem/internal/domain"
)

const ProviderHash = "hash"

// NewClient creates an embedding client for the configured provider. The
// teacher's equivalent factory (internal/embedding/provider.go) dispatches
// between a real OpenAI client and a mock; a real network provider is out
// of scope here, so "hash" is the only supported provider today. The
// switch is kept, rather than collapsed to a single constructor call, so a
// future real provider slots in the same way the teacher's did.
func NewClient(provider string, dimensions int) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderHash, "":
		return NewHashEmbedder(dimensions), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q (valid options: hash)", provider)
	}
}
