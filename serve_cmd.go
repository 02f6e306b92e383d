package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/sarthi-app/sarthi/internal/config"
	"github.com/sarthi-app/sarthi/internal/proxy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

var (
	serveWatch    bool
	serveNoUpdate bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the reader through the offline cache",
		Long: paragraph(fmt.Sprintf("\n%s the reader's assets on a local address. Precached resources are answered without the network, recitations are fetched network-first.",
			keyword("Serve"))),
		Example: paragraph("sarthi serve\nsarthi serve --listen 127.0.0.1:9000 --watch"),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "switch cache versions when the config file changes")
	serveCmd.Flags().BoolVar(&serveNoUpdate, "no-update", false, "serve without installing the current version first")
	_ = viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logToStderr()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()
	fetcher := newFetcher()

	m, err := newManager(cfg.Cache.Version, storage, fetcher)
	if err != nil {
		return err
	}

	if !serveNoUpdate {
		if deleted, err := m.Update(ctx); err != nil {
			log.Warn("install failed, serving whatever is cached", "version", m.Version(), "error", err)
		} else {
			log.Info("cache installed", "version", m.Version(), "deleted", deleted)
		}
	}

	srv := proxy.New(proxy.Config{
		Listen:         cfg.Serve.Listen,
		AllowedOrigins: cfg.Serve.AllowedOrigins,
		Debug:          envCfg.Debug,
	}, m)

	if serveWatch {
		path := configPath()
		if path == "" {
			log.Warn("no config file to watch")
		} else {
			go watchConfig(ctx, path, func(version string) {
				next, err := newManager(version, storage, fetcher)
				if err != nil {
					log.Error("unable to switch version", "version", version, "error", err)
					return
				}
				deleted, err := next.Update(ctx)
				if err != nil {
					log.Error("install failed, keeping the previous version", "version", version, "error", err)
					return
				}
				srv.Swap(next)
				log.Info("switched cache version", "version", version, "deleted", deleted)
			})
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("unable to stop server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// configPath returns the config file in use, if any.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return viper.ConfigFileUsed()
}

// watchConfig calls onVersion whenever a change to the config file at path
// names a new cache version. It returns when ctx is done.
func watchConfig(ctx context.Context, path string, onVersion func(string)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("error creating fsnotify watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Error("error adding dir to fsnotify watcher", "error", err)
		return
	}
	log.Info("fsnotify watching dir", "dir", dir)

	current := cfg.Cache.Version
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)

			version, err := readCacheVersion(path)
			if err != nil {
				log.Warn("ignoring config change", "error", err)
				continue
			}
			if version == current {
				continue
			}
			current = version
			onVersion(version)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}

// readCacheVersion loads the config file at path on its own and returns
// the cache version it names.
func readCacheVersion(path string) (string, error) {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("unable to read config file: %w", err)
	}
	c, err := config.Load(v)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return c.Cache.Version, nil
}
