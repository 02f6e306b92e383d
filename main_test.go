package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sarthi-app/sarthi/internal/cache"
	"github.com/sarthi-app/sarthi/internal/gemini"
	"github.com/sarthi-app/sarthi/internal/offline"
	"github.com/sarthi-app/sarthi/internal/sarthi"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		chapterOnly bool
		chapter     int
		verse       int
		wantErr     bool
	}{
		{name: "two args", args: []string{"2", "47"}, chapter: 2, verse: 47},
		{name: "dotted", args: []string{"2.47"}, chapter: 2, verse: 47},
		{name: "colon", args: []string{"18:66"}, chapter: 18, verse: 66},
		{name: "chapter only", args: []string{"12"}, chapterOnly: true, chapter: 12},
		{name: "chapter only not allowed", args: []string{"12"}, wantErr: true},
		{name: "zero verse", args: []string{"2", "0"}, wantErr: true},
		{name: "not a number", args: []string{"two", "47"}, wantErr: true},
		{name: "too many parts", args: []string{"1.2.3"}, wantErr: true},
		{name: "empty", args: []string{"."}, chapterOnly: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, v, err := parseRef(tt.args, tt.chapterOnly)
			if tt.wantErr {
				if !errors.Is(err, errBadRef) {
					t.Errorf("error = %v, want errBadRef", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c != tt.chapter || v != tt.verse {
				t.Errorf("parseRef(%v) = %d, %d, want %d, %d", tt.args, c, v, tt.chapter, tt.verse)
			}
		})
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"AIzaSyExample1234", "AIza*********1234"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	st := offline.Status{
		Version:   "1.0.8",
		Origin:    "https://gita.example",
		Installed: true,
		Stale:     []string{"1.0.7"},
		Buckets: []cache.BucketInfo{
			{Name: "1.0.7", Created: now.Add(-48 * time.Hour), ItemCount: 20, Size: 2048},
			{Name: "1.0.8", Created: now.Add(-time.Hour), ItemCount: 1234, Size: 5 << 20},
		},
	}

	out := formatStatus(st, now)
	for _, want := range []string{"1.0.8", "installed", "https://gita.example", "BUCKET", "1,234", "5.2 MB", "2 days ago", "stale"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	var staleLines int
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "stale") {
			staleLines++
			if !strings.Contains(line, "1.0.7") {
				t.Errorf("current bucket marked stale: %q", line)
			}
		}
	}
	if staleLines != 1 {
		t.Errorf("%d stale lines, want 1", staleLines)
	}
}

func TestFormatStatus_NoBuckets(t *testing.T) {
	out := formatStatus(offline.Status{Version: "1.0.8"}, time.Now())
	if !strings.Contains(out, "not installed") || !strings.Contains(out, "No buckets") {
		t.Errorf("output = %q", out)
	}
}

func TestMessageMarkdown(t *testing.T) {
	user := messageMarkdown(sarthi.Message{Sender: sarthi.SenderUser, Text: "Why act?"})
	if user != "**You:** Why act?\n" {
		t.Errorf("user message = %q", user)
	}

	ai := messageMarkdown(sarthi.Message{
		Sender:     sarthi.SenderAI,
		Text:       "Act without attachment.\n",
		References: []string{"2.47", "3.19"},
	})
	if !strings.Contains(ai, "Act without attachment.") {
		t.Errorf("reply text missing: %q", ai)
	}
	if !strings.Contains(ai, "`sarthi verse 2.47`, `sarthi verse 3.19`") {
		t.Errorf("references missing: %q", ai)
	}
}

func TestVersesMarkdown(t *testing.T) {
	md := versesMarkdown([]sarthi.Verse{
		{Chapter: 2, Number: 47, Text: "line one\nline two", Transliteration: "karmaṇy\n  evādhikāras te"},
		{Chapter: 2, Number: 48, Text: "next"},
	})
	for _, want := range []string{"## Chapter 2, Verse 47", "> line one\n> line two", "*karmaṇy evādhikāras te*", "---", "## Chapter 2, Verse 48"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown lacks %q:\n%s", want, md)
		}
	}
}

func TestChaptersMarkdown(t *testing.T) {
	md := chaptersMarkdown([]sarthi.Chapter{{Number: 1, Name: "Arjuna Visada Yoga", NameMeaning: "Arjuna's Dilemma", VersesCount: 47}})
	if !strings.Contains(md, "1. **Arjuna Visada Yoga** (Arjuna's Dilemma), 47 verses") {
		t.Errorf("markdown = %q", md)
	}
}

func TestUserError(t *testing.T) {
	if err := userError(fmt.Errorf("translate: %w", gemini.ErrNoCredential)); !strings.Contains(err.Error(), "Please configure your API key") {
		t.Errorf("no credential: %v", err)
	}
	if err := userError(&gemini.APIError{StatusCode: 429, Status: "429 Too Many Requests"}); err.Error() != "API call failed: 429 Too Many Requests" {
		t.Errorf("api error: %v", err)
	}
	if err := userError(gemini.ErrBlocked); !strings.Contains(err.Error(), "rephrasing") {
		t.Errorf("blocked: %v", err)
	}

	notFound := fmt.Errorf("%w: chapter 19, verse 1", sarthi.ErrVerseNotFound)
	if err := userError(notFound); err != notFound { //nolint:errorlint
		t.Errorf("unrelated error replaced: %v", err)
	}
}

func TestReadCacheVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sarthi.yml")
	yaml := "cache:\n  version: \"2.0.0\"\n  dir: " + filepath.Join(dir, "cache") + "\nstore:\n  ephemeral: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := readCacheVersion(path)
	if err != nil {
		t.Fatalf("readCacheVersion: %v", err)
	}
	if v != "2.0.0" {
		t.Errorf("version = %q, want 2.0.0", v)
	}

	if err := os.WriteFile(path, []byte("cache: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readCacheVersion(path); err == nil {
		t.Error("expected an error for a broken config file")
	}
}

func TestValidateStyle(t *testing.T) {
	if err := validateStyle("auto"); err != nil {
		t.Errorf("auto: %v", err)
	}
	if err := validateStyle("dark"); err != nil {
		t.Errorf("dark: %v", err)
	}
	if err := validateStyle(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing style file")
	}
}

func TestDefaultConfigIsValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sarthi.yml")
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readCacheVersion(path); err != nil {
		t.Errorf("default config does not load: %v", err)
	}
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "heading and emphasis",
			in:   "## Chapter 2, Verse 47 · Hindi\n\n**Karma** is *duty*.\n",
			want: "Chapter 2, Verse 47 · Hindi\n\nKarma is duty.",
		},
		{
			name: "bullet list",
			in:   "Read:\n\n- one\n- two\n",
			want: "Read:\n\n- one\n- two",
		},
		{
			name: "ordered list",
			in:   "3. **Karma Yoga** (Path of Action), 43 verses\n4. Jnana\n",
			want: "3. Karma Yoga (Path of Action), 43 verses\n4. Jnana",
		},
		{
			name: "code span and line breaks",
			in:   "> line one\n> line two\n\nRun `sarthi verse 2.47`.",
			want: "line one\nline two\n\nRun sarthi verse 2.47.",
		},
		{
			name: "plain text",
			in:   sarthi.Welcome,
			want: sarthi.Welcome,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdown(tt.in); got != tt.want {
				t.Errorf("stripMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderPlain_HasNoMarkup(t *testing.T) {
	old := width
	width = 40
	t.Cleanup(func() { width = old })

	out := renderPlain(messageMarkdown(sarthi.Message{
		Sender:     sarthi.SenderAI,
		Text:       "## Guidance\n\nFocus on **action**, not on its *fruits*.",
		References: []string{"2.47"},
	}))
	for _, markup := range []string{"**", "##", "`"} {
		if strings.Contains(out, markup) {
			t.Errorf("plain output contains %q:\n%s", markup, out)
		}
	}
	if !strings.Contains(out, "Focus on action") || !strings.Contains(out, "sarthi verse 2.47") {
		t.Errorf("plain output lost text:\n%s", out)
	}
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") && line != "" {
			t.Errorf("line not indented: %q", line)
		}
	}
}
