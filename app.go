package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/cache"
	"github.com/sarthi-app/sarthi/internal/gemini"
	"github.com/sarthi-app/sarthi/internal/kv"
	"github.com/sarthi-app/sarthi/internal/offline"
	"github.com/sarthi-app/sarthi/internal/sarthi"
)

// runtime holds everything a command needs, opened from cfg.
type runtime struct {
	storage cache.Storage
	fetcher offline.Fetcher
	store   kv.Store
	app     *sarthi.App
}

func openStorage() (cache.Storage, error) {
	c := cache.Config{
		Dir:              cfg.Cache.Dir,
		CompressionLevel: cfg.Cache.CompressionLevel,
		HotCapacity:      cfg.Cache.HotCapacity(),
	}
	if cfg.Store.Ephemeral {
		c.Dir = ""
	}
	s, err := cache.New(c)
	if err != nil {
		return nil, fmt.Errorf("unable to open cache: %w", err)
	}
	return s, nil
}

func openStore() (kv.Store, error) {
	if cfg.Store.Ephemeral {
		return kv.NewMemoryStore(), nil
	}
	s, err := kv.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open settings: %w", err)
	}
	return s, nil
}

func newFetcher() offline.Fetcher {
	return offline.NewHTTPFetcher(cfg.Cache.FetchTimeout, "sarthi/"+Version)
}

// newManager creates the manager owning the bucket of version.
func newManager(version string, storage cache.Storage, fetcher offline.Fetcher) (*offline.Manager, error) {
	m, err := offline.New(offline.Config{
		Version:          version,
		Origin:           cfg.Origin,
		Manifest:         cfg.Cache.Manifest,
		RecitationPrefix: cfg.Cache.RecitationPrefix,
		Concurrency:      cfg.Cache.Concurrency,
	}, storage, fetcher)
	if err != nil {
		return nil, fmt.Errorf("unable to create cache manager: %w", err)
	}
	return m, nil
}

func openRuntime() (*runtime, error) {
	storage, err := openStorage()
	if err != nil {
		return nil, err
	}
	fetcher := newFetcher()

	m, err := newManager(cfg.Cache.Version, storage, fetcher)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	store, err := openStore()
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	app, err := sarthi.New(sarthi.Options{
		Store:   store,
		Offline: m,
		Gemini: gemini.Config{
			BaseURL:           cfg.AI.BaseURL,
			Timeout:           cfg.AI.Timeout,
			RequestsPerMinute: cfg.AI.RequestsPerMinute,
		},
		ChatModel:        cfg.AI.ChatModel,
		TranslationModel: cfg.AI.TranslationModel,
		Temperature:      cfg.AI.Temperature,
		MaxOutputTokens:  cfg.AI.MaxOutputTokens,
		EnvAPIKey:        envCfg.GeminiAPIKey,
	})
	if err != nil {
		_ = store.Close()
		_ = storage.Close()
		return nil, err
	}

	log.Debug("runtime opened", "version", m.Version(), "cache", cfg.Cache.Dir, "store", cfg.Store.Path, "ephemeral", cfg.Store.Ephemeral)
	return &runtime{storage: storage, fetcher: fetcher, store: store, app: app}, nil
}

func (r *runtime) Close() error {
	if err := r.app.Close(); err != nil {
		log.Error("unable to close settings", "error", err)
	}
	return r.storage.Close() //nolint:wrapcheck
}
