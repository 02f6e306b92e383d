package sarthi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sarthi-app/sarthi/internal/cache"
	"github.com/sarthi-app/sarthi/internal/gemini"
	"github.com/sarthi-app/sarthi/internal/kv"
	"github.com/sarthi-app/sarthi/internal/offline"
)

const versesJSON = `[
  {"id":2,"chapter_number":2,"verse_number":48,"text":"योगस्थः कुरु कर्माणि","transliteration":"yoga-sthaḥ kuru karmāṇi"},
  {"id":1,"chapter_number":2,"verse_number":47,"text":"कर्मण्येवाधिकारस्ते","transliteration":"karmaṇy-evādhikāras te"},
  {"id":3,"chapter_number":7,"verse_number":12,"text":"ये चैव सात्त्विका भावा","transliteration":"ye chaiva sāttvikā bhāvā"}
]`

const chaptersJSON = `[
  {"id":2,"chapter_number":2,"name":"सांख्ययोग","name_meaning":"Transcendental Knowledge","chapter_summary":"…","verses_count":72},
  {"id":1,"chapter_number":1,"name":"अर्जुनविषादयोग","name_meaning":"Arjuna's Dilemma","chapter_summary":"…","verses_count":47}
]`

type harness struct {
	app    *App
	store  kv.Store
	assets *httptest.Server
	ai     *httptest.Server

	mu        sync.Mutex
	hits      map[string]int
	aiBodies  []map[string]any
	aiStatus  int
	aiReply   string
	aiHeaders []string
}

func newHarness(t *testing.T, manifest ...string) *harness {
	t.Helper()
	h := &harness{
		store:    kv.NewMemoryStore(),
		hits:     make(map[string]int),
		aiStatus: http.StatusOK,
		aiReply:  "meaning",
	}

	h.assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[r.URL.Path]++
		h.mu.Unlock()

		switch r.URL.Path {
		case VersesPath:
			_, _ = io.WriteString(w, versesJSON)
		case ChaptersPath:
			_, _ = io.WriteString(w, chaptersJSON)
		case "/assets/verse_recitation/2/47.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = io.WriteString(w, "ID3-recitation")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(h.assets.Close)

	h.ai = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		h.mu.Lock()
		h.aiBodies = append(h.aiBodies, body)
		h.aiHeaders = append(h.aiHeaders, r.Header.Get("x-goog-api-key"))
		status, reply := h.aiStatus, h.aiReply
		h.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"boom"}}`)
			return
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": reply}}},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(h.ai.Close)

	mgr, err := offline.New(offline.Config{
		Version:  "1.0.8",
		Origin:   h.assets.URL,
		Manifest: manifest,
	}, cache.NewMemoryStorage(), offline.NewHTTPFetcher(5*time.Second, "sarthi-test"))
	if err != nil {
		t.Fatalf("offline.New: %v", err)
	}

	h.app, err = New(Options{
		Store:   h.store,
		Offline: mgr,
		Gemini: gemini.Config{
			BaseURL:           h.ai.URL,
			RequestsPerMinute: 60000,
		},
		Temperature:     0.7,
		MaxOutputTokens: 800,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) respond(status int, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aiStatus, h.aiReply = status, reply
}

func (h *harness) assetHits(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func (h *harness) aiCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.aiBodies)
}

func (h *harness) lastAIBody() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aiBodies[len(h.aiBodies)-1]
}

func promptOf(t *testing.T, body map[string]any) string {
	t.Helper()
	contents := body["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	return parts[0].(map[string]any)["text"].(string)
}

func TestAPIKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if key, err := h.app.APIKey(ctx); err != nil || key != "" {
		t.Fatalf("APIKey on a fresh store = %q, %v", key, err)
	}
	if err := h.app.SetAPIKey(ctx, "   "); !errors.Is(err, ErrBlankAPIKey) {
		t.Errorf("SetAPIKey blank = %v, want ErrBlankAPIKey", err)
	}
	if err := h.app.SetAPIKey(ctx, "  AIza-test  "); err != nil {
		t.Fatal(err)
	}
	if stored, _, _ := h.store.Get(ctx, APIKeyKey); stored != "AIza-test" {
		t.Errorf("stored key = %q, want it trimmed", stored)
	}
	if err := h.app.ClearAPIKey(ctx); err != nil {
		t.Fatal(err)
	}
	if key, _ := h.app.APIKey(ctx); key != "" {
		t.Errorf("APIKey after clear = %q", key)
	}
}

func TestAPIKey_EnvironmentWins(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	_ = store.Set(ctx, APIKeyKey, "stored")

	mgr, _ := offline.New(offline.Config{Version: "v", Origin: "https://gita.example"}, cache.NewMemoryStorage(), offline.NewHTTPFetcher(time.Second, ""))
	app, err := New(Options{Store: store, Offline: mgr, EnvAPIKey: "from-env"})
	if err != nil {
		t.Fatal(err)
	}
	if key, _ := app.APIKey(ctx); key != "from-env" {
		t.Errorf("APIKey = %q, want from-env", key)
	}
	state, err := app.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasAPIKey || !state.APIKeyFromEnv || state.Language != DefaultLanguage || state.CacheVersion != "v" {
		t.Errorf("State = %+v", state)
	}
}

func TestLanguage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if lang, _ := h.app.Language(ctx); lang != "english" {
		t.Errorf("default language = %q", lang)
	}
	if err := h.app.SetLanguage(ctx, "klingon"); !errors.Is(err, ErrUnknownLanguage) {
		t.Errorf("SetLanguage unknown = %v", err)
	}
	if err := h.app.SetLanguage(ctx, "gujarati"); err != nil {
		t.Fatal(err)
	}
	if lang, _ := h.app.Language(ctx); lang != "gujarati" {
		t.Errorf("language = %q", lang)
	}
}

func TestLanguageName(t *testing.T) {
	tests := map[string]string{
		"english": "English",
		"hindi":   "Hindi",
		"chinese": "Chinese",
		"french":  "English",
		"":        "English",
	}
	for key, want := range tests {
		if got := LanguageName(key); got != want {
			t.Errorf("LanguageName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestResolveLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "hindi", want: "hindi"},
		{in: "  Tamil ", want: "tamil"},
		{in: "guj", want: "gujarati"},
		{in: "pnjb", want: "punjabi"},
		{in: "", wantErr: true},
		{in: "xyz", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ResolveLanguage(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownLanguage) {
				t.Errorf("ResolveLanguage(%q) error = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ResolveLanguage(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestVerse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	v, err := h.app.Verse(ctx, 2, 47)
	if err != nil {
		t.Fatal(err)
	}
	if v.Text != "कर्मण्येवाधिकारस्ते" || v.Ref() != "2.47" {
		t.Errorf("Verse = %+v", v)
	}
	if _, err := h.app.Verse(ctx, 18, 99); !errors.Is(err, ErrVerseNotFound) {
		t.Errorf("missing verse error = %v", err)
	}
	if n := h.assetHits(VersesPath); n != 1 {
		t.Errorf("verse.json fetched %d times, want 1", n)
	}

	verses, _ := h.app.ChapterVerses(ctx, 2)
	if len(verses) != 2 || verses[0].Number != 47 || verses[1].Number != 48 {
		t.Errorf("ChapterVerses = %+v", verses)
	}

	chapters, err := h.app.Chapters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chapters) != 2 || chapters[0].Number != 1 || chapters[1].VersesCount != 72 {
		t.Errorf("Chapters = %+v", chapters)
	}
}

func TestVerse_ServedFromInstalledCacheWhenOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, VersesPath)

	if err := h.app.Offline().Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	h.assets.Close()

	v, err := h.app.Verse(ctx, 7, 12)
	if err != nil {
		t.Fatalf("Verse while offline: %v", err)
	}
	if v.Transliteration != "ye chaiva sāttvikā bhāvā" {
		t.Errorf("Verse = %+v", v)
	}
}

func TestTranslate_RequiresAPIKey(t *testing.T) {
	h := newHarness(t)
	_, err := h.app.Translate(context.Background(), 2, 47)
	if !errors.Is(err, gemini.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
	if gemini.UserMessage(err) != "Please configure your API key in Settings first to use Sarthi AI." {
		t.Errorf("UserMessage = %q", gemini.UserMessage(err))
	}
	if h.aiCalls() != 0 {
		t.Errorf("AI called %d times", h.aiCalls())
	}
}

func TestTranslate_MemoizesPerLanguage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.app.SetAPIKey(ctx, "k")
	_ = h.app.SetLanguage(ctx, "hindi")

	reply := "  कर्म करो।\n\nCore Teaching: फल की चिंता मत करो।  "
	h.respond(http.StatusOK, reply)
	tr, err := h.app.Translate(ctx, 2, 47)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != reply {
		t.Errorf("Text = %q, want the generated text unchanged", tr.Text)
	}
	if tr.Language != "hindi" {
		t.Errorf("Language = %q", tr.Language)
	}

	h.mu.Lock()
	sentKey := h.aiHeaders[0]
	h.mu.Unlock()
	if sentKey != "k" {
		t.Errorf("x-goog-api-key = %q, want the stored key", sentKey)
	}

	body := h.lastAIBody()
	if _, ok := body["generationConfig"]; ok {
		t.Errorf("translation request carries generation parameters: %v", body)
	}
	prompt := promptOf(t, body)
	for _, want := range []string{"verse in Hindi:", "Chapter 2, Verse 47:", "Sanskrit: कर्मण्येवाधिकारस्ते", "Response must be ONLY in Hindi language"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}

	if _, err := h.app.Translate(ctx, 2, 47); err != nil {
		t.Fatal(err)
	}
	if h.aiCalls() != 1 {
		t.Errorf("AI called %d times, want 1 after a memo hit", h.aiCalls())
	}

	if _, err := h.app.TranslateIn(ctx, 2, 47, "english"); err != nil {
		t.Fatal(err)
	}
	if h.aiCalls() != 2 {
		t.Errorf("AI called %d times, want 2 for a second language", h.aiCalls())
	}

	entries, err := h.app.Memo().Entries(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if entries["47_hindi"] == "" || entries["47_english"] == "" || len(entries) != 2 {
		t.Errorf("memo entries = %v", entries)
	}
}

func TestTranslate_FailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.app.SetAPIKey(ctx, "k")
	h.respond(http.StatusInternalServerError, "")

	_, err := h.app.Translate(ctx, 2, 47)
	var apiErr *gemini.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *gemini.APIError", err)
	}
	if _, ok, _ := h.store.Get(ctx, "sarthi_chapter_2"); ok {
		t.Error("a failed translation created a memo record")
	}
}

func TestAsk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.app.SetAPIKey(ctx, "k")

	answer := "\nFocus on action.\n\nRecommended Verses:\nChapter 2, Verse 47: duty\nchapter 3,  verse 19: detachment\nChapter 6, Verse 5: self\n"
	h.respond(http.StatusOK, answer)
	reply, err := h.app.Ask(ctx, "  How do I stop worrying about results?  ")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != strings.TrimSpace(answer) {
		t.Errorf("Text = %q, want it trimmed", reply.Text)
	}
	wantRefs := []string{"2.47", "3.19", "6.5"}
	if strings.Join(reply.References, ",") != strings.Join(wantRefs, ",") {
		t.Errorf("References = %v, want %v", reply.References, wantRefs)
	}

	body := h.lastAIBody()
	gc, ok := body["generationConfig"].(map[string]any)
	if !ok || gc["temperature"] != 0.7 || gc["maxOutputTokens"] != float64(800) {
		t.Errorf("generationConfig = %v", body["generationConfig"])
	}
	if !strings.Contains(promptOf(t, body), "User Question: How do I stop worrying about results?\n") {
		t.Errorf("prompt = %q", promptOf(t, body))
	}

	history, err := h.app.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Sender != SenderUser || history[1].Sender != SenderAI {
		t.Fatalf("History = %+v", history)
	}
	if len(history[1].References) != 3 {
		t.Errorf("stored references = %v", history[1].References)
	}
	if ok, _ := h.app.HasUserMessages(ctx); !ok {
		t.Error("HasUserMessages = false")
	}
}

func TestAsk_FailureRecordsApology(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.app.SetAPIKey(ctx, "k")
	h.respond(http.StatusTooManyRequests, "")

	if _, err := h.app.Ask(ctx, "why?"); err == nil {
		t.Fatal("expected an error")
	}
	history, _ := h.app.History(ctx)
	if len(history) != 2 || history[1].Text != Apology {
		t.Errorf("History = %+v", history)
	}
}

func TestAsk_WithoutKeyLeavesHistoryAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.app.Ask(ctx, "why?"); !errors.Is(err, gemini.ErrNoCredential) {
		t.Fatalf("error = %v", err)
	}
	if history, _ := h.app.History(ctx); len(history) != 0 {
		t.Errorf("History = %+v", history)
	}
}

func TestHistory_CorruptIsEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.store.Set(ctx, HistoryKey, "{broken")

	history, err := h.app.History(ctx)
	if err != nil || len(history) != 0 {
		t.Fatalf("History = %v, %v", history, err)
	}

	_ = h.app.SetAPIKey(ctx, "k")
	if _, err := h.app.Ask(ctx, "what is dharma?"); err != nil {
		t.Fatal(err)
	}
	history, _ = h.app.History(ctx)
	if len(history) != 2 {
		t.Errorf("History after reset = %+v", history)
	}

	if err := h.app.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.store.Get(ctx, HistoryKey); ok {
		t.Error("history key still present after clear")
	}
}

func TestRecitation_FallsBackToCachedCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.app.Recitation(ctx, 2, 47)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "ID3-recitation" || resp.FromCache {
		t.Errorf("first play = %q (cached %v)", resp.Body, resp.FromCache)
	}

	h.assets.Close()
	resp, err = h.app.Recitation(ctx, 2, 47)
	if err != nil {
		t.Fatalf("offline replay: %v", err)
	}
	if !resp.FromCache || string(resp.Body) != "ID3-recitation" {
		t.Errorf("offline replay = %q (cached %v)", resp.Body, resp.FromCache)
	}

	if _, err := h.app.Recitation(ctx, 2, 48); !errors.Is(err, offline.ErrUnavailable) {
		t.Errorf("uncached recitation offline = %v, want ErrUnavailable", err)
	}
}

func TestRecitation_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.app.Recitation(context.Background(), 2, 99)
	var fe *offline.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want a 404 FetchError", err)
	}
}
