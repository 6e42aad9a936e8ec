// Package anthropic provides Anthropic API utilities.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ValidateAPIKey validates an Anthropic API key by making a minimal API call.
// role identifies which side of a rally the key belongs to ("reviewer" or
// "reviewee") so a failure names the key that's bad without the caller
// threading it through a separate error-wrapping layer. Returns nil if the
// key is valid, or an error describing the problem.
func ValidateAPIKey(ctx context.Context, role, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%s API key is empty", role)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	// Make a minimal API call to verify the key works
	// Using Haiku with max 1 token to minimize cost
	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.ModelClaude3_5HaikuLatest),
		MaxTokens: anthropic.F(int64(1)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		}),
	})
	if err != nil {
		return fmt.Errorf("%s API key (...%s) validation failed: %w", role, ExtractKeyHint(apiKey), err)
	}

	return nil
}

// ExtractKeyHint returns the last 4 characters of an API key, for naming a
// bad key in a log line or error without ever printing the key itself.
func ExtractKeyHint(apiKey string) string {
	if len(apiKey) < 4 {
		return "****"
	}
	return apiKey[len(apiKey)-4:]
}
