package qualified

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// EULOTLLocation is the location of the EU list of the lists.
const EULOTLLocation = "https://ec.europa.eu/tools/lotl/eu-lotl.xml"

// ErrNoTrustedLists is returned by Refresh when the provider has nothing to
// load from.
var ErrNoTrustedLists = errors.New("no trusted list sources configured")

// TLCache stores downloaded lists keyed by URL.
type TLCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Reset() error
}

// InMemoryTLCache keeps lists in memory for the life of the process.
type InMemoryTLCache struct {
	mu    sync.RWMutex
	cache map[string][]byte
}

// NewInMemoryTLCache creates an empty in-memory cache.
func NewInMemoryTLCache() *InMemoryTLCache {
	return &InMemoryTLCache{cache: make(map[string][]byte)}
}

func (c *InMemoryTLCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.cache[key]
	return value, ok
}

func (c *InMemoryTLCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = value
}

func (c *InMemoryTLCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string][]byte)
	return nil
}

// FileSystemTLCache keeps lists on disk with an expiry per entry.
type FileSystemTLCache struct {
	mu          sync.RWMutex
	root        string
	expireAfter time.Duration
	clock       clockwork.Clock
	index       map[string]cacheEntry
}

type cacheEntry struct {
	ExpEpochSeconds int64  `json:"exp_epoch_seconds"`
	Fname           string `json:"fname"`
}

// NewFileSystemTLCache opens or creates a cache rooted at cachePath.
func NewFileSystemTLCache(cachePath string, expireAfter time.Duration, clock clockwork.Clock) (*FileSystemTLCache, error) {
	if err := os.MkdirAll(cachePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &FileSystemTLCache{
		root:        cachePath,
		expireAfter: expireAfter,
		clock:       clock,
		index:       make(map[string]cacheEntry),
	}
	if data, err := os.ReadFile(c.indexPath()); err == nil {
		if err := json.Unmarshal(data, &c.index); err != nil {
			c.index = make(map[string]cacheEntry)
		}
	}
	return c, nil
}

func (c *FileSystemTLCache) indexPath() string {
	return filepath.Join(c.root, "index.json")
}

func (c *FileSystemTLCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.index[key]
	if !ok || c.clock.Now().Unix() > entry.ExpEpochSeconds {
		return nil, false
	}
	content, err := os.ReadFile(filepath.Join(c.root, entry.Fname))
	if err != nil {
		return nil, false
	}
	return content, true
}

func (c *FileSystemTLCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := sha256.Sum256([]byte(key))
	fname := hex.EncodeToString(sum[:])
	if err := os.WriteFile(filepath.Join(c.root, fname), value, 0o644); err != nil {
		return
	}
	c.index[key] = cacheEntry{
		ExpEpochSeconds: c.clock.Now().Add(c.expireAfter).Unix(),
		Fname:           fname,
	}
	if data, err := json.Marshal(c.index); err == nil {
		_ = os.WriteFile(c.indexPath(), data, 0o644)
	}
}

func (c *FileSystemTLCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		os.Remove(filepath.Join(c.root, entry.Name()))
	}
	c.index = make(map[string]cacheEntry)
	return nil
}

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// TLFetcher downloads trusted lists with retries and an optional cache.
type TLFetcher struct {
	client     *http.Client
	cache      TLCache
	maxRetries int
	baseDelay  time.Duration
	clock      clockwork.Clock
}

// TLFetcherOption configures a TLFetcher.
type TLFetcherOption func(*TLFetcher)

// WithCache sets the cache for the fetcher.
func WithCache(cache TLCache) TLFetcherOption {
	return func(f *TLFetcher) { f.cache = cache }
}

// WithMaxRetries sets the number of attempts per URL.
func WithMaxRetries(retries int) TLFetcherOption {
	return func(f *TLFetcher) { f.maxRetries = retries }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) TLFetcherOption {
	return func(f *TLFetcher) { f.client = client }
}

// WithRetryDelay sets the delay before the first retry. It doubles for each
// following attempt.
func WithRetryDelay(d time.Duration) TLFetcherOption {
	return func(f *TLFetcher) { f.baseDelay = d }
}

// WithFetcherClock sets the clock used for retry back-off.
func WithFetcherClock(clock clockwork.Clock) TLFetcherOption {
	return func(f *TLFetcher) { f.clock = clock }
}

// NewTLFetcher creates a fetcher with three attempts and a 30 second
// timeout.
func NewTLFetcher(opts ...TLFetcherOption) *TLFetcher {
	f := &TLFetcher{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  2 * time.Second,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Cache returns the fetcher's cache, which may be nil.
func (f *TLFetcher) Cache() TLCache {
	return f.cache
}

// Fetch returns the document at uri, from cache when possible. Client errors
// are not retried.
func (f *TLFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if f.cache != nil {
		if content, ok := f.cache.Get(uri); ok {
			return content, nil
		}
	}

	var lastErr error
	delay := f.baseDelay
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		content, err := f.doFetch(ctx, uri)
		if err == nil {
			if f.cache != nil {
				f.cache.Set(uri, content)
			}
			return content, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return nil, err
		}
		if attempt < f.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.clock.After(delay):
				delay *= 2
			}
		}
	}
	return nil, lastErr
}

func (f *TLFetcher) doFetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/xml")
	req.Header.Add("Accept", ETSITSLMimeType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: uri, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// TrustedListSource is a single trusted list to load. With no signer
// certificates the list is accepted without signature verification.
type TrustedListSource struct {
	URL         string
	Territory   string
	SignerCerts []*x509.Certificate
}

// Provider owns the registry used for TSA classification. The registry is
// only replaced by an explicit Refresh and dropped by Invalidate; lookups
// never trigger network access.
type Provider struct {
	mu          sync.RWMutex
	registry    *TSPRegistry
	lastRefresh time.Time

	fetcher     *TLFetcher
	lotlURL     string
	lotlCerts   []*x509.Certificate
	sources     []TrustedListSource
	territories map[string]bool
	clock       clockwork.Clock
	logger      *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLOTL loads the trusted lists referenced by a list of the lists. The
// LOTL signature is checked when certs is non-empty.
func WithLOTL(url string, certs []*x509.Certificate) ProviderOption {
	return func(p *Provider) {
		p.lotlURL = url
		p.lotlCerts = certs
	}
}

// WithTrustedList adds a single trusted list.
func WithTrustedList(src TrustedListSource) ProviderOption {
	return func(p *Provider) { p.sources = append(p.sources, src) }
}

// WithTerritories restricts LOTL loading to the given territories.
func WithTerritories(territories ...string) ProviderOption {
	return func(p *Provider) {
		for _, t := range territories {
			p.territories[t] = true
		}
	}
}

// WithFetcher sets the fetcher used by Refresh.
func WithFetcher(f *TLFetcher) ProviderOption {
	return func(p *Provider) { p.fetcher = f }
}

// WithRegistry seeds the provider with a prepared registry.
func WithRegistry(r *TSPRegistry) ProviderOption {
	return func(p *Provider) { p.registry = r }
}

// WithClock sets the clock used to stamp refreshes.
func WithClock(clock clockwork.Clock) ProviderOption {
	return func(p *Provider) { p.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

// NewProvider creates a provider. It does not load anything until Refresh
// is called.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		territories: make(map[string]bool),
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = NewTLFetcher(WithCache(NewInMemoryTLCache()))
	}
	if p.registry == nil {
		p.registry = NewTSPRegistry()
	}
	return p
}

// Registry returns the current registry.
func (p *Provider) Registry() *TSPRegistry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry
}

// Classifier returns a classifier over the current registry.
func (p *Provider) Classifier() *Classifier {
	return NewClassifier(p.Registry())
}

// LastRefresh returns when the registry was last rebuilt.
func (p *Provider) LastRefresh() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRefresh
}

// Refresh rebuilds the registry from the configured sources and swaps it in
// atomically. Individual lists that fail are logged and skipped; the old
// registry is kept if nothing could be loaded.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.lotlURL == "" && len(p.sources) == 0 {
		return ErrNoTrustedLists
	}

	sources := append([]TrustedListSource(nil), p.sources...)
	if p.lotlURL != "" {
		refs, err := p.loadLOTL(ctx)
		if err != nil {
			return err
		}
		sources = append(sources, refs...)
	}

	registry := NewTSPRegistry()
	loaded := 0
	for _, src := range sources {
		content, err := p.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			p.logger.Warn("trusted list fetch failed", "url", src.URL, "territory", src.Territory, "error", err)
			continue
		}
		var errs []*TSPServiceParsingError
		if len(src.SignerCerts) > 0 {
			_, errs = TrustListToRegistry(content, src.SignerCerts, registry)
		} else {
			_, errs = TrustListToRegistryUnsafe(content, registry)
		}
		for _, e := range errs {
			p.logger.Warn("trusted list entry skipped", "url", src.URL, "error", e.Message)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("refresh trusted lists: none of %d lists could be loaded", len(sources))
	}

	p.mu.Lock()
	p.registry = registry
	p.lastRefresh = p.clock.Now()
	p.mu.Unlock()
	p.logger.Info("trusted lists refreshed", "lists", loaded, "services", registry.Len())
	return nil
}

func (p *Provider) loadLOTL(ctx context.Context) ([]TrustedListSource, error) {
	content, err := p.fetcher.Fetch(ctx, p.lotlURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch LOTL: %w", err)
	}
	if len(p.lotlCerts) > 0 {
		signed, _, err := ValidateXMLSignatureWithMultipleCerts(string(content), p.lotlCerts)
		if err != nil {
			return nil, fmt.Errorf("LOTL signature validation failed: %w", err)
		}
		content = []byte(signed)
	}
	parsed, err := ParseLOTL(content)
	if err != nil {
		return nil, err
	}
	for _, e := range parsed.Errors {
		p.logger.Warn("LOTL pointer skipped", "error", e.Message)
	}

	var out []TrustedListSource
	for _, ref := range parsed.References {
		if len(p.territories) > 0 && !p.territories[ref.Territory] {
			continue
		}
		out = append(out, TrustedListSource{
			URL:         ref.LocationURI,
			Territory:   ref.Territory,
			SignerCerts: ref.TLSOCerts,
		})
	}
	return out, nil
}

// Invalidate drops the registry and the fetcher cache so the next Refresh
// downloads everything again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.registry = NewTSPRegistry()
	p.lastRefresh = time.Time{}
	p.mu.Unlock()

	if cache := p.fetcher.Cache(); cache != nil {
		if err := cache.Reset(); err != nil {
			p.logger.Warn("trusted list cache reset failed", "error", err)
		}
	}
}
