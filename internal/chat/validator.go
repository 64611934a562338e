package chat

import (
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/moderation"
)

// DefaultMaxTextChars caps a chat message after sanitizing.
const DefaultMaxTextChars = 500

// ValidateText sanitizes a chat message and rejects it when empty or longer
// than maxChars runes.
func ValidateText(text string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	clean := moderation.Sanitize(text)
	if clean == "" {
		return "", apperrors.InvalidInput("text", "message is empty")
	}
	if moderation.TooLong(clean, maxChars) {
		return "", apperrors.InvalidInput("text", "message exceeds character limit")
	}
	return clean, nil
}
