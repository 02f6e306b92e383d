// Package sarthi is the application controller. It owns the stored user
// preferences and ties the offline cache, the generation client and the
// translation memo together.
package sarthi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/gemini"
	"github.com/sarthi-app/sarthi/internal/kv"
	"github.com/sarthi-app/sarthi/internal/memo"
	"github.com/sarthi-app/sarthi/internal/offline"
)

// Keys under which preferences are stored.
const (
	APIKeyKey   = "geminiApiKey"
	LanguageKey = "sarthiLanguage"
	HistoryKey  = "sarthiChatHistory"
)

// ErrBlankAPIKey is returned when saving an empty credential.
var ErrBlankAPIKey = errors.New("please enter a valid API key")

// Options configures an App.
type Options struct {
	Store   kv.Store
	Offline *offline.Manager

	// Gemini configures the generation client. Its key source is replaced
	// by the App's credential lookup.
	Gemini gemini.Config

	ChatModel        string
	TranslationModel string
	Temperature      float64
	MaxOutputTokens  int

	// EnvAPIKey, when set, takes precedence over the stored credential.
	EnvAPIKey string
}

// App is the single owner of sarthi's state.
type App struct {
	store   kv.Store
	offline *offline.Manager
	client  *gemini.Client
	memo    *memo.Cache

	chatModel        string
	translationModel string
	temperature      float64
	maxOutputTokens  int
	envAPIKey        string

	mu       sync.Mutex
	verses   []Verse
	chapters []Chapter

	// serializes history read-modify-write
	historyMu sync.Mutex
}

// New creates an App.
func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Offline == nil {
		return nil, errors.New("offline manager is required")
	}
	if opts.ChatModel == "" {
		opts.ChatModel = gemini.DefaultModel
	}
	if opts.TranslationModel == "" {
		opts.TranslationModel = gemini.DefaultModel
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 800
	}

	a := &App{
		store:            opts.Store,
		offline:          opts.Offline,
		memo:             memo.New(opts.Store),
		chatModel:        opts.ChatModel,
		translationModel: opts.TranslationModel,
		temperature:      opts.Temperature,
		maxOutputTokens:  opts.MaxOutputTokens,
		envAPIKey:        strings.TrimSpace(opts.EnvAPIKey),
	}

	gc := opts.Gemini
	gc.Key = a.APIKey
	a.client = gemini.New(gc)
	return a, nil
}

// Offline returns the install cache manager.
func (a *App) Offline() *offline.Manager {
	return a.offline
}

// Memo returns the translation memo.
func (a *App) Memo() *memo.Cache {
	return a.memo
}

// State is a snapshot of the stored preferences.
type State struct {
	Language      string
	LanguageName  string
	HasAPIKey     bool
	APIKeyFromEnv bool
	CacheVersion  string
}

// State loads the current preferences.
func (a *App) State(ctx context.Context) (State, error) {
	lang, err := a.Language(ctx)
	if err != nil {
		return State{}, err
	}
	key, err := a.APIKey(ctx)
	if err != nil {
		return State{}, err
	}
	return State{
		Language:      lang,
		LanguageName:  LanguageName(lang),
		HasAPIKey:     key != "",
		APIKeyFromEnv: a.envAPIKey != "",
		CacheVersion:  a.offline.Version(),
	}, nil
}

// APIKey returns the credential, preferring the environment over the stored
// key. An empty string means none is configured.
func (a *App) APIKey(ctx context.Context) (string, error) {
	if a.envAPIKey != "" {
		return a.envAPIKey, nil
	}
	key, _, err := a.store.Get(ctx, APIKeyKey)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(key), nil
}

// SetAPIKey stores the credential.
func (a *App) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrBlankAPIKey
	}
	if err := a.store.Set(ctx, APIKeyKey, key); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}
	log.Debug("API key saved")
	return nil
}

// ClearAPIKey removes the stored credential.
func (a *App) ClearAPIKey(ctx context.Context) error {
	if err := a.store.Remove(ctx, APIKeyKey); err != nil {
		return fmt.Errorf("failed to remove API key: %w", err)
	}
	return nil
}

func (a *App) requireAPIKey(ctx context.Context) error {
	key, err := a.APIKey(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return gemini.ErrNoCredential
	}
	return nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
