package sarthi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sarthi-app/sarthi/internal/offline"
)

// Asset paths of the scripture data.
const (
	VersesPath   = "/assets/verse.json"
	ChaptersPath = "/assets/chapters.json"
)

// ErrVerseNotFound is returned for a reference with no verse.
var ErrVerseNotFound = errors.New("sloka not found")

// Verse is one entry of verse.json.
type Verse struct {
	ID              int    `json:"id"`
	Chapter         int    `json:"chapter_number"`
	Number          int    `json:"verse_number"`
	Text            string `json:"text"`
	Transliteration string `json:"transliteration"`
	WordMeanings    string `json:"word_meanings,omitempty"`
}

// Ref formats the verse as "chapter.verse".
func (v Verse) Ref() string {
	return fmt.Sprintf("%d.%d", v.Chapter, v.Number)
}

// Chapter is one entry of chapters.json.
type Chapter struct {
	ID          int    `json:"id"`
	Number      int    `json:"chapter_number"`
	Name        string `json:"name"`
	NameMeaning string `json:"name_meaning"`
	Summary     string `json:"chapter_summary"`
	VersesCount int    `json:"verses_count"`
}

// Verses returns every verse, loaded through the offline cache.
func (a *App) Verses(ctx context.Context) ([]Verse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.verses != nil {
		return a.verses, nil
	}

	var verses []Verse
	if err := a.loadJSON(ctx, VersesPath, &verses); err != nil {
		return nil, err
	}
	sort.SliceStable(verses, func(i, j int) bool {
		if verses[i].Chapter != verses[j].Chapter {
			return verses[i].Chapter < verses[j].Chapter
		}
		return verses[i].Number < verses[j].Number
	})
	a.verses = verses
	return verses, nil
}

// Chapters returns every chapter, loaded through the offline cache.
func (a *App) Chapters(ctx context.Context) ([]Chapter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chapters != nil {
		return a.chapters, nil
	}

	var chapters []Chapter
	if err := a.loadJSON(ctx, ChaptersPath, &chapters); err != nil {
		return nil, err
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	a.chapters = chapters
	return chapters, nil
}

// Verse finds one verse.
func (a *App) Verse(ctx context.Context, chapter, verse int) (Verse, error) {
	verses, err := a.Verses(ctx)
	if err != nil {
		return Verse{}, err
	}
	for _, v := range verses {
		if v.Chapter == chapter && v.Number == verse {
			return v, nil
		}
	}
	return Verse{}, fmt.Errorf("%w: chapter %d, verse %d", ErrVerseNotFound, chapter, verse)
}

// ChapterVerses returns the verses of one chapter in order.
func (a *App) ChapterVerses(ctx context.Context, chapter int) ([]Verse, error) {
	verses, err := a.Verses(ctx)
	if err != nil {
		return nil, err
	}
	var out []Verse
	for _, v := range verses {
		if v.Chapter == chapter {
			out = append(out, v)
		}
	}
	return out, nil
}

func (a *App) loadJSON(ctx context.Context, path string, v any) error {
	resp, err := a.offline.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	if !resp.OK() {
		return &offline.FetchError{URL: resp.URL, StatusCode: resp.Status}
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
