package ai

import (
	"errors"
	"strings"
)

var (
	// ErrRateLimited marks a provider failure that rotates the credential.
	ErrRateLimited = errors.New("ai: rate limited")
	// ErrProviderExhausted is returned once every attempt was rate limited.
	ErrProviderExhausted = errors.New("ai: provider exhausted")
	// ErrNoCredentials means no chat model could be configured.
	ErrNoCredentials = errors.New("ai: no credentials configured")
)

var rateLimitMarkers = []string{"429", "rate limit", "ratelimit", "too many requests", "toomanyrequests"}

// IsRateLimited reports whether err belongs to the rate-limit class. Ark and
// most OpenAI compatible providers only surface this in the error text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
