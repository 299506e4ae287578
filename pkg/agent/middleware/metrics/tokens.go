package metrics

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Claude and Gemini tokenizers are not public; GPT-4 encoding is a close
// enough approximation for usage accounting across all supported providers.
var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// CountTokens returns the approximate number of tokens in text.
// Falls back to character-based estimation (4 chars per token) if the
// tokenizer cannot be initialized.
func CountTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(text) / 4
	}
	count, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// modelPricing holds USD cost per million tokens.
type modelPricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

//nolint:gochecknoglobals // Pricing table - acceptable for package defaults
var pricingTable = map[string]modelPricing{
	"claude":  {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	"gpt":     {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
	"o3":      {PromptPerMTok: 2.00, CompletionPerMTok: 8.00},
	"gemini":  {PromptPerMTok: 1.25, CompletionPerMTok: 10.00},
	"default": {PromptPerMTok: 1.00, CompletionPerMTok: 3.00},
}

// EstimateCost returns the approximate USD cost of a request given its model
// name and token counts. Local models (ollama, mock) cost nothing.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "ollama") || lower == "mock" {
		return 0
	}

	pricing := pricingTable["default"]
	for prefix, p := range pricingTable {
		if prefix != "default" && strings.HasPrefix(lower, prefix) {
			pricing = p
			break
		}
	}

	const mTok = 1_000_000
	return float64(promptTokens)*pricing.PromptPerMTok/mTok +
		float64(completionTokens)*pricing.CompletionPerMTok/mTok
}
