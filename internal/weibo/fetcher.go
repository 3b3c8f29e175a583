package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "weiborelay/pkg/logx"
)

// apiClient is the slice of Client the fetcher needs; tests substitute
// a fake.
type apiClient interface {
	LookupUserID(ctx context.Context, handle string) (string, error)
	Timeline(ctx context.Context, numericID string) ([]json.RawMessage, error)
}

type FetcherConfig struct {
	// CacheDuration is how long a fetch result stays valid. Default 5m.
	CacheDuration time.Duration
	// MaxPosts caps the posts kept per fetch. Default 5.
	MaxPosts int
}

// Fetcher owns the author catalog, lazy numeric-ID resolution, and a
// short-lived per-author result cache. Safe for concurrent use.
type Fetcher struct {
	api apiClient
	log logx.Logger

	cacheDur time.Duration
	maxPosts int

	mu      sync.Mutex
	authors map[string]*Author
	keys    []string // catalog iteration order (sorted)
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	at    time.Time
	posts []Post
}

func NewFetcher(cfg FetcherConfig, api apiClient, authors []Author, log logx.Logger) *Fetcher {
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = 5 * time.Minute
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	byKey := make(map[string]*Author, len(authors))
	keys := make([]string, 0, len(authors))
	for i := range authors {
		a := authors[i]
		if a.Key == "" {
			continue
		}
		cp := a
		byKey[a.Key] = &cp
		keys = append(keys, a.Key)
	}
	sort.Strings(keys)

	return &Fetcher{
		api:      api,
		log:      log,
		cacheDur: cfg.CacheDuration,
		maxPosts: cfg.MaxPosts,
		authors:  byKey,
		keys:     keys,
		cache:    map[string]cacheEntry{},
	}
}

// Authors returns a snapshot of the catalog, sorted by key.
func (f *Fetcher) Authors() []Author {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Author, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, *f.authors[k])
	}
	return out
}

// ResolveAuthor returns the author for key, attempting numeric-ID
// resolution if it is still unset. Resolution failure is non-fatal:
// the author is returned with the ID empty and a later call retries.
func (f *Fetcher) ResolveAuthor(ctx context.Context, key string) (Author, error) {
	f.mu.Lock()
	a, ok := f.authors[key]
	if !ok {
		f.mu.Unlock()
		return Author{}, fmt.Errorf("%w: %q", ErrUnknownAuthor, key)
	}
	if a.NumericID != "" {
		out := *a
		f.mu.Unlock()
		return out, nil
	}
	handle := a.Handle
	f.mu.Unlock()

	id, err := f.api.LookupUserID(ctx, handle)
	if err != nil {
		f.log.Warn("numeric id lookup failed", logx.String("author", key), logx.Err(err))
		return f.snapshot(key), nil
	}
	if id == "" {
		f.log.Warn("numeric id not found", logx.String("author", key), logx.String("handle", handle))
		return f.snapshot(key), nil
	}

	f.mu.Lock()
	// Once resolved the ID never changes; a concurrent resolver wins
	// and we keep the first value.
	if a.NumericID == "" {
		a.NumericID = id
		f.log.Info("numeric id resolved", logx.String("author", key), logx.String("id", id))
	}
	out := *a
	f.mu.Unlock()
	return out, nil
}

func (f *Fetcher) snapshot(key string) Author {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.authors[key]; ok {
		return *a
	}
	return Author{}
}

// FetchPosts returns the author's most recent posts, newest first,
// at most max entries (<=0 means the configured default). Cached
// results are reused within the cache window unless force is set.
func (f *Fetcher) FetchPosts(ctx context.Context, key string, max int, force bool) ([]Post, error) {
	if max <= 0 {
		max = f.maxPosts
	}

	f.mu.Lock()
	if _, ok := f.authors[key]; !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthor, key)
	}
	if ce, ok := f.cache[key]; ok && !force && time.Since(ce.at) < f.cacheDur {
		posts := ce.posts
		f.mu.Unlock()
		if len(posts) > max {
			posts = posts[:max]
		}
		return posts, nil
	}
	f.mu.Unlock()

	author, err := f.ResolveAuthor(ctx, key)
	if err != nil {
		return nil, err
	}
	if author.NumericID == "" {
		return nil, fmt.Errorf("%s: %w", key, ErrUnresolvedID)
	}

	records, err := f.api.Timeline(ctx, author.NumericID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	ref := AuthorRef{
		ID:          author.NumericID,
		Handle:      author.Handle,
		Name:        author.Name,
		Description: author.Description,
	}

	posts := make([]Post, 0, max)
	dropped := 0
	for _, raw := range records {
		p, ok := parsePost(raw, ref)
		if !ok {
			dropped++
			continue
		}
		posts = append(posts, p)
		if len(posts) >= max {
			break
		}
	}
	if dropped > 0 {
		f.log.Debug("skipped malformed post records", logx.String("author", key), logx.Int("count", dropped))
	}

	// Overwrite the cache entry even when the result is empty: an empty
	// successful fetch still refreshes the timestamp so we don't hammer
	// upstream with rapid retries.
	f.mu.Lock()
	f.cache[key] = cacheEntry{at: time.Now(), posts: posts}
	f.mu.Unlock()

	f.log.Debug("fetched posts", logx.String("author", key), logx.Int("count", len(posts)))
	return posts, nil
}

// FetchAll fetches every tracked author. Failures are isolated: a
// failing author contributes an empty slice and never aborts the rest.
func (f *Fetcher) FetchAll(ctx context.Context, max int, force bool) map[string][]Post {
	f.mu.Lock()
	keys := append([]string(nil), f.keys...)
	f.mu.Unlock()

	out := make(map[string][]Post, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		posts, err := f.FetchPosts(ctx, key, max, force)
		if err != nil {
			f.log.Warn("fetch failed", logx.String("author", key), logx.Err(err))
			out[key] = nil
			continue
		}
		out[key] = posts
	}
	return out
}

// ProfileURL returns the author's canonical profile URL, or "" when
// the numeric ID is still unresolved.
func ProfileURL(a AuthorRef) string {
	if a.ID == "" {
		return ""
	}
	return profileURL(a.ID)
}
