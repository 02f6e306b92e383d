package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultRecitationPrefix is where verse recitations live.
const DefaultRecitationPrefix = "/assets/verse_recitation/"

// DefaultConcurrency is the number of manifest entries fetched at once.
const DefaultConcurrency = 6

// Config configures a Manager.
type Config struct {
	// Version names the bucket the manager owns.
	Version string

	// Origin resolves relative request URLs, e.g. "https://gita.example".
	Origin string

	// Manifest lists the resources precached by Install.
	Manifest []string

	// RecitationPrefix selects the network-first resources. Any GET whose
	// path starts with it and ends in ".mp3" is one.
	RecitationPrefix string

	// Concurrency bounds the parallel fetches of Install.
	Concurrency int
}

// Manager implements the install, fetch and activate lifecycle over a
// cache.Storage.
type Manager struct {
	cfg     Config
	origin  *url.URL
	storage cache.Storage
	fetcher Fetcher

	// serializes Install and Activate
	lifecycle sync.Mutex
}

// Status describes the buckets known to a manager.
type Status struct {
	Version   string             `json:"version"`
	Origin    string             `json:"origin"`
	Installed bool               `json:"installed"`
	Stale     []string           `json:"stale"`
	Buckets   []cache.BucketInfo `json:"buckets"`
}

// New creates a manager.
func New(cfg Config, storage cache.Storage, fetcher Fetcher) (*Manager, error) {
	if cfg.Version == "" {
		return nil, ErrNoVersion
	}
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.RecitationPrefix == "" {
		cfg.RecitationPrefix = DefaultRecitationPrefix
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	m := &Manager{cfg: cfg, storage: storage, fetcher: fetcher}
	if cfg.Origin != "" {
		origin, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", cfg.Origin, err)
		}
		if !origin.IsAbs() || origin.Host == "" {
			return nil, fmt.Errorf("origin %q must be an absolute URL", cfg.Origin)
		}
		m.origin = origin
	}
	return m, nil
}

// Version returns the tag of the bucket this manager owns.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// RecitationPrefix returns the path prefix of network-first resources.
func (m *Manager) RecitationPrefix() string {
	return m.cfg.RecitationPrefix
}

// Manifest returns the manifest resolved against the origin, without
// duplicates, in manifest order.
func (m *Manager) Manifest() ([]string, error) {
	seen := make(map[string]bool, len(m.cfg.Manifest))
	urls := make([]string, 0, len(m.cfg.Manifest))
	for _, entry := range m.cfg.Manifest {
		abs, err := m.resolve(entry)
		if err != nil {
			return nil, err
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		urls = append(urls, abs)
	}
	return urls, nil
}

// Install precaches every manifest entry into the current bucket. Either
// every entry is fetched with a 2xx status and all of them are stored, or
// nothing is stored and the error wraps ErrInstallFailed and the first
// *FetchError. A bucket created by a failed install is removed again.
func (m *Manager) Install(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	urls, err := m.Manifest()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	existed, err := m.storage.Has(m.cfg.Version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	bucket, err := m.storage.Open(m.cfg.Version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	log.Info("installing offline cache", "version", m.cfg.Version, "entries", len(urls))

	encoded := make([][]byte, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			req := NewRequest(u)
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return &FetchError{URL: u, Err: err}
			}
			if !resp.OK() {
				return &FetchError{URL: u, StatusCode: resp.Status}
			}
			data, err := encodeResponse(resp)
			if err != nil {
				return &FetchError{URL: u, Err: err}
			}
			encoded[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.abandon(existed)
		log.Error("install failed", "version", m.cfg.Version, "error", err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	entries := make(map[string][]byte, len(urls))
	for i, u := range urls {
		entries[NewRequest(u).Key()] = encoded[i]
	}
	if err := bucket.PutAll(entries); err != nil {
		m.abandon(existed)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	log.Info("offline cache installed", "version", m.cfg.Version, "entries", len(entries))
	return nil
}

func (m *Manager) abandon(existed bool) {
	if existed {
		return
	}
	if _, err := m.storage.Delete(m.cfg.Version); err != nil {
		log.Warn("could not remove incomplete bucket", "version", m.cfg.Version, "error", err)
	}
}

// Serve answers req. Recitations are fetched from the network first, stored
// in the current bucket on a 200 and read back from it when the network
// fails. Every other GET is looked up in all buckets, oldest first, and only
// fetched when no bucket holds it; such fetches are not stored. Other methods
// always go to the network.
func (m *Manager) Serve(ctx context.Context, req *Request) (*Response, error) {
	abs, err := m.resolve(req.URL)
	if err != nil {
		return nil, err
	}
	r := *req
	r.URL = abs

	switch {
	case !r.Cacheable():
		return m.fetch(ctx, &r)
	case m.isRecitation(abs):
		return m.networkFirst(ctx, &r)
	default:
		return m.cacheFirst(ctx, &r)
	}
}

// Get is Serve for a GET of target.
func (m *Manager) Get(ctx context.Context, target string) (*Response, error) {
	return m.Serve(ctx, NewRequest(target))
}

// Lookup answers req from the buckets only, the way cache-first requests
// are matched.
func (m *Manager) Lookup(req *Request) (*Response, bool, error) {
	if !req.Cacheable() {
		return nil, false, ErrNotCacheable
	}
	abs, err := m.resolve(req.URL)
	if err != nil {
		return nil, false, err
	}
	r := *req
	r.URL = abs
	return m.match(&r)
}

func (m *Manager) networkFirst(ctx context.Context, req *Request) (*Response, error) {
	resp, fetchErr := m.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if resp.Status == http.StatusOK {
			m.store(req, resp)
		}
		return resp, nil
	}

	log.Debug("network fetch failed, trying cache", "url", req.URL, "error", fetchErr)
	if cached, ok := m.fromCurrent(req); ok {
		return cached, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, &FetchError{URL: req.URL, Err: fetchErr})
}

func (m *Manager) cacheFirst(ctx context.Context, req *Request) (*Response, error) {
	if cached, ok, err := m.match(req); err != nil {
		log.Warn("cache lookup failed", "url", req.URL, "error", err)
	} else if ok {
		return cached, nil
	}
	return m.fetch(ctx, req)
}

func (m *Manager) fetch(ctx context.Context, req *Request) (*Response, error) {
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, &FetchError{URL: req.URL, Err: err})
	}
	return resp, nil
}

func (m *Manager) match(req *Request) (*Response, bool, error) {
	data, ok, err := m.storage.Match(req.Key())
	if err != nil || !ok {
		return nil, false, err
	}
	resp, err := decodeResponse(data)
	if err != nil {
		log.Warn("ignoring unreadable cache entry", "key", req.Key(), "error", err)
		return nil, false, nil
	}
	return resp, true, nil
}

func (m *Manager) fromCurrent(req *Request) (*Response, bool) {
	has, err := m.storage.Has(m.cfg.Version)
	if err != nil || !has {
		return nil, false
	}
	bucket, err := m.storage.Open(m.cfg.Version)
	if err != nil {
		return nil, false
	}
	data, ok := bucket.Get(req.Key())
	if !ok {
		return nil, false
	}
	resp, err := decodeResponse(data)
	if err != nil {
		log.Warn("ignoring unreadable cache entry", "key", req.Key(), "error", err)
		return nil, false
	}
	return resp, true
}

// store writes resp into the current bucket. Failures are logged only; the
// live response is served either way.
func (m *Manager) store(req *Request, resp *Response) {
	data, err := encodeResponse(resp)
	if err == nil {
		var bucket cache.Bucket
		if bucket, err = m.storage.Open(m.cfg.Version); err == nil {
			err = bucket.Put(req.Key(), data)
		}
	}
	if err != nil {
		log.Warn("could not cache response", "url", req.URL, "error", err)
	}
}

// Activate deletes every bucket whose name differs from the current version
// tag and returns the deleted names.
func (m *Manager) Activate(_ context.Context) ([]string, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	names, err := m.storage.Names()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if name == m.cfg.Version {
			continue
		}
		removed, err := m.storage.Delete(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			deleted = append(deleted, name)
			log.Info("deleted stale cache bucket", "version", name)
		}
	}
	return deleted, errors.Join(errs...)
}

// Update installs the current version and, only when that succeeded,
// activates it.
func (m *Manager) Update(ctx context.Context) ([]string, error) {
	if err := m.Install(ctx); err != nil {
		return nil, err
	}
	return m.Activate(ctx)
}

// Status reports the buckets currently present.
func (m *Manager) Status() (Status, error) {
	infos, err := m.storage.Info()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Version: m.cfg.Version,
		Origin:  m.cfg.Origin,
		Buckets: infos,
	}
	for _, info := range infos {
		if info.Name == m.cfg.Version {
			st.Installed = true
		} else {
			st.Stale = append(st.Stale, info.Name)
		}
	}
	return st, nil
}

func (m *Manager) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if m.origin == nil {
		return "", fmt.Errorf("relative request URL %q needs an origin", target)
	}
	return m.origin.ResolveReference(u).String(), nil
}

func (m *Manager) isRecitation(abs string) bool {
	u, err := url.Parse(abs)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, m.cfg.RecitationPrefix) && strings.HasSuffix(u.Path, ".mp3")
}
