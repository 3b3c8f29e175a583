package weibo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	logx "weiborelay/pkg/logx"
)

type fakeAPI struct {
	lookups   map[string]string
	lookupErr error

	timelines   map[string][]json.RawMessage
	timelineErr map[string]error
	lookupCalls int
	fetchCalls  map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		lookups:     map[string]string{},
		timelines:   map[string][]json.RawMessage{},
		timelineErr: map[string]error{},
		fetchCalls:  map[string]int{},
	}
}

func (f *fakeAPI) LookupUserID(_ context.Context, handle string) (string, error) {
	f.lookupCalls++
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.lookups[handle], nil
}

func (f *fakeAPI) Timeline(_ context.Context, uid string) ([]json.RawMessage, error) {
	f.fetchCalls[uid]++
	if err := f.timelineErr[uid]; err != nil {
		return nil, err
	}
	return f.timelines[uid], nil
}

func rawPosts(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"id": %q, "text": "post %s"}`, id, id)))
	}
	return out
}

func testAuthors() []Author {
	return []Author{
		{Key: "alice", Name: "Alice", Handle: "alice_w", NumericID: "100"},
		{Key: "bob", Name: "Bob", Handle: "bob_w"},
	}
}

func TestFetchPostsCacheWindow(t *testing.T) {
	api := newFakeAPI()
	api.timelines["100"] = rawPosts("3", "2", "1")

	f := NewFetcher(FetcherConfig{CacheDuration: time.Hour}, api, testAuthors(), logx.Nop())

	posts, err := f.FetchPosts(context.Background(), "alice", 0, false)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 3 || posts[0].ID != "3" {
		t.Fatalf("unexpected posts: %+v", posts)
	}

	// Second call inside the window must not hit upstream.
	if _, err := f.FetchPosts(context.Background(), "alice", 0, false); err != nil {
		t.Fatalf("cached FetchPosts: %v", err)
	}
	if api.fetchCalls["100"] != 1 {
		t.Fatalf("expected 1 upstream call, got %d", api.fetchCalls["100"])
	}

	// Force refresh bypasses the cache.
	if _, err := f.FetchPosts(context.Background(), "alice", 0, true); err != nil {
		t.Fatalf("forced FetchPosts: %v", err)
	}
	if api.fetchCalls["100"] != 2 {
		t.Fatalf("expected forced refresh to hit upstream, got %d calls", api.fetchCalls["100"])
	}
}

func TestFetchPostsMaxCap(t *testing.T) {
	api := newFakeAPI()
	api.timelines["100"] = rawPosts("5", "4", "3", "2", "1")

	f := NewFetcher(FetcherConfig{MaxPosts: 5}, api, testAuthors(), logx.Nop())

	posts, err := f.FetchPosts(context.Background(), "alice", 2, false)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "5" || posts[1].ID != "4" {
		t.Fatalf("unexpected capped posts: %+v", posts)
	}
}

func TestFetchPostsUnknownAuthor(t *testing.T) {
	f := NewFetcher(FetcherConfig{}, newFakeAPI(), testAuthors(), logx.Nop())
	_, err := f.FetchPosts(context.Background(), "nobody", 0, false)
	if !errors.Is(err, ErrUnknownAuthor) {
		t.Fatalf("expected ErrUnknownAuthor, got %v", err)
	}
}

func TestLazyResolution(t *testing.T) {
	api := newFakeAPI()
	api.lookups["bob_w"] = "200"
	api.timelines["200"] = rawPosts("9")

	f := NewFetcher(FetcherConfig{}, api, testAuthors(), logx.Nop())

	posts, err := f.FetchPosts(context.Background(), "bob", 0, false)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "9" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if posts[0].Author.ID != "200" {
		t.Fatalf("resolved id not denormalized onto post: %+v", posts[0].Author)
	}

	// Resolution sticks: no second lookup.
	if _, err := f.FetchPosts(context.Background(), "bob", 0, true); err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if api.lookupCalls != 1 {
		t.Fatalf("expected 1 lookup call, got %d", api.lookupCalls)
	}
}

func TestResolutionFailureRetriedNextFetch(t *testing.T) {
	api := newFakeAPI()
	api.lookupErr = errors.New("boom")

	f := NewFetcher(FetcherConfig{}, api, testAuthors(), logx.Nop())

	_, err := f.FetchPosts(context.Background(), "bob", 0, false)
	if !errors.Is(err, ErrUnresolvedID) {
		t.Fatalf("expected ErrUnresolvedID, got %v", err)
	}

	// Upstream recovers; the next fetch re-attempts resolution.
	api.lookupErr = nil
	api.lookups["bob_w"] = "200"
	api.timelines["200"] = rawPosts("1")

	posts, err := f.FetchPosts(context.Background(), "bob", 0, false)
	if err != nil {
		t.Fatalf("FetchPosts after recovery: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if api.lookupCalls != 2 {
		t.Fatalf("expected 2 lookup calls, got %d", api.lookupCalls)
	}
}

func TestEmptyFetchRefreshesCache(t *testing.T) {
	api := newFakeAPI()
	api.timelines["100"] = nil

	f := NewFetcher(FetcherConfig{CacheDuration: time.Hour}, api, testAuthors(), logx.Nop())

	for i := 0; i < 3; i++ {
		posts, err := f.FetchPosts(context.Background(), "alice", 0, false)
		if err != nil {
			t.Fatalf("FetchPosts: %v", err)
		}
		if len(posts) != 0 {
			t.Fatalf("expected no posts, got %+v", posts)
		}
	}
	if api.fetchCalls["100"] != 1 {
		t.Fatalf("empty result should still be cached, got %d calls", api.fetchCalls["100"])
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	api := newFakeAPI()
	api.timelines["100"] = rawPosts("1")
	api.lookups["bob_w"] = "200"
	api.timelineErr["200"] = ErrUnreachable

	f := NewFetcher(FetcherConfig{}, api, testAuthors(), logx.Nop())

	all := f.FetchAll(context.Background(), 0, false)
	if len(all) != 2 {
		t.Fatalf("expected entries for both authors, got %v", all)
	}
	if len(all["alice"]) != 1 {
		t.Fatalf("alice should have posts despite bob failing: %+v", all["alice"])
	}
	if len(all["bob"]) != 0 {
		t.Fatalf("bob should be empty on failure: %+v", all["bob"])
	}
}

func TestAuthorsSorted(t *testing.T) {
	f := NewFetcher(FetcherConfig{}, newFakeAPI(), []Author{
		{Key: "zoe", Handle: "z"},
		{Key: "amy", Handle: "a"},
	}, logx.Nop())

	got := f.Authors()
	if len(got) != 2 || got[0].Key != "amy" || got[1].Key != "zoe" {
		t.Fatalf("expected sorted catalog, got %+v", got)
	}
}
