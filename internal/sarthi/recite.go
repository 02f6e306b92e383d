package sarthi

import (
	"context"
	"fmt"

	"github.com/sarthi-app/sarthi/internal/offline"
)

// RecitationPath is the asset path of a verse recitation under prefix.
func RecitationPath(prefix string, chapter, verse int) string {
	return fmt.Sprintf("%s%d/%d.mp3", prefix, chapter, verse)
}

// Recitation fetches the audio of a verse. Recitations are always tried on
// the network first and fall back to the copy cached by an earlier play.
func (a *App) Recitation(ctx context.Context, chapter, verse int) (*offline.Response, error) {
	if chapter < 1 || verse < 1 {
		return nil, fmt.Errorf("%w: chapter %d, verse %d", ErrVerseNotFound, chapter, verse)
	}
	resp, err := a.offline.Get(ctx, RecitationPath(a.offline.RecitationPrefix(), chapter, verse))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &offline.FetchError{URL: resp.URL, StatusCode: resp.Status}
	}
	return resp, nil
}
