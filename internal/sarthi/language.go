package sarthi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultLanguage is used until a preference is saved.
const DefaultLanguage = "english"

// Languages lists the supported language keys in display order.
var Languages = []string{
	"english",
	"hindi",
	"gujarati",
	"bengali",
	"tamil",
	"telugu",
	"marathi",
	"kannada",
	"punjabi",
	"spanish",
	"arabic",
	"chinese",
}

// ErrUnknownLanguage is returned for a language that is not supported.
var ErrUnknownLanguage = errors.New("unknown language")

var titleCaser = cases.Title(language.English)

// IsLanguage reports whether key is a supported language key.
func IsLanguage(key string) bool {
	return slices.Contains(Languages, key)
}

// LanguageName returns the display name used in prompts. Unknown keys fall
// back to English.
func LanguageName(key string) string {
	if !IsLanguage(key) {
		return "English"
	}
	return titleCaser.String(key)
}

// ResolveLanguage maps free-form input such as "Hindi" or "guj" to a
// supported language key.
func ResolveLanguage(input string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(input))
	if q == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownLanguage)
	}
	if IsLanguage(q) {
		return q, nil
	}
	matches := fuzzy.Find(q, Languages)
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, input)
	}
	return matches[0].Str, nil
}

// Language returns the saved language preference.
func (a *App) Language(ctx context.Context) (string, error) {
	lang, ok, err := a.store.Get(ctx, LanguageKey)
	if err != nil {
		return "", fmt.Errorf("failed to read language: %w", err)
	}
	if !ok || lang == "" {
		return DefaultLanguage, nil
	}
	return lang, nil
}

// SetLanguage saves the language preference.
func (a *App) SetLanguage(ctx context.Context, lang string) error {
	if !IsLanguage(lang) {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	if err := a.store.Set(ctx, LanguageKey, lang); err != nil {
		return fmt.Errorf("failed to save language: %w", err)
	}
	return nil
}
