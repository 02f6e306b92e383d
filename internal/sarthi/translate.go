package sarthi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/gemini"
)

const translationPrompt = `You are an AI spiritual guide. Provide a deep, spiritually-aligned meaning of this Bhagavad Gita verse in %[1]s:

Chapter %[2]d, Verse %[3]d:
Sanskrit: %[4]s

You must follow this EXACT FORMAT (do not include chapter/verse numbers in your response):

[First paragraph: Brief meaning of the verse in 1-2 sentences]

Core Teaching: [Deep spiritual insight explaining the essence and practical wisdom of this teaching in 2-3 sentences]

CRITICAL REQUIREMENTS:
- Maximum 150 words total
- Do NOT include the sloka/verse text itself
- Do NOT mention chapter or verse numbers
- Focus on deep spiritual meaning and practical application
- Response must be ONLY in %[1]s language
- If Hindi, use Devanagari script; if Gujarati, use Gujarati script
- Do not mix languages or use English words unless absolutely necessary`

// TranslationPrompt builds the prompt asking for the meaning of v in the
// language named by languageKey.
func TranslationPrompt(v Verse, languageKey string) string {
	return fmt.Sprintf(translationPrompt, LanguageName(languageKey), v.Chapter, v.Number, v.Text)
}

// Translation is a verse meaning in one language.
type Translation struct {
	Verse    Verse
	Language string
	Text     string
}

// Translate returns the meaning of a verse in the saved language.
func (a *App) Translate(ctx context.Context, chapter, verse int) (Translation, error) {
	lang, err := a.Language(ctx)
	if err != nil {
		return Translation{}, err
	}
	return a.TranslateIn(ctx, chapter, verse, lang)
}

// TranslateIn returns the meaning of a verse in lang. Meanings are generated
// once per verse and language and then served from the memo.
func (a *App) TranslateIn(ctx context.Context, chapter, verse int, lang string) (Translation, error) {
	if err := a.requireAPIKey(ctx); err != nil {
		return Translation{}, err
	}
	v, err := a.Verse(ctx, chapter, verse)
	if err != nil {
		return Translation{}, err
	}

	group := strconv.Itoa(v.Chapter)
	item := strconv.Itoa(v.Number)
	text, err := a.memo.GetOrGenerate(ctx, group, item, lang, func(ctx context.Context) (string, error) {
		log.Debug("generating translation", "verse", v.Ref(), "language", lang)
		return a.client.Generate(ctx, gemini.Request{
			Model:  a.translationModel,
			Prompt: TranslationPrompt(v, lang),
		})
	})
	if err != nil {
		return Translation{}, err
	}
	return Translation{Verse: v, Language: lang, Text: text}, nil
}
