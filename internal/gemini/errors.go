package gemini

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned before any request is made when no API key
	// is configured.
	ErrNoCredential = errors.New("no API key configured")

	// ErrNoCandidates means the response held an empty candidate list.
	ErrNoCandidates = errors.New("no response from AI service")

	// ErrEmptyResponse means the first candidate had no content.
	ErrEmptyResponse = errors.New("AI service returned empty response")

	// ErrBlocked means the content was withheld by the safety filters.
	ErrBlocked = errors.New("response was blocked by content filters")

	// ErrTruncated means generation stopped at the output token limit before
	// producing any part.
	ErrTruncated = errors.New("response was too long and got cut off")

	// ErrNoContent means the candidate content had no parts for any other
	// reason.
	ErrNoContent = errors.New("AI service returned no content")

	// ErrNoText means the first part carried no text.
	ErrNoText = errors.New("AI service returned no text")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API call failed: %s", e.Status)
}

// UserMessage returns the sentence shown to a reader for err.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "Please configure your API key in Settings first to use Sarthi AI."
	case errors.Is(err, ErrNoCandidates):
		return "No response from AI service"
	case errors.Is(err, ErrEmptyResponse):
		return "AI service returned empty response"
	case errors.Is(err, ErrBlocked):
		return "Response was blocked by content filters. Please try rephrasing your question."
	case errors.Is(err, ErrTruncated):
		return "Response was too long and got cut off. Please try a more specific question."
	case errors.Is(err, ErrNoContent):
		return "AI service returned no content. Please try again with a different question."
	case errors.Is(err, ErrNoText):
		return "AI service returned no text"
	case errors.As(err, &apiErr):
		return apiErr.Error()
	default:
		return "Sorry, there was a technical issue. Please try again later."
	}
}
