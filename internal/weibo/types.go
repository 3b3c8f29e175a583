package weibo

import "errors"

var (
	// ErrUnknownAuthor means the author key is not in the catalog
	// (caller error, safe to surface to users).
	ErrUnknownAuthor = errors.New("unknown author")

	// Fetch failures. Isolated per author; a tick continues for others.
	ErrUnreachable  = errors.New("upstream unreachable")
	ErrMalformed    = errors.New("malformed upstream response")
	ErrUnresolvedID = errors.New("author numeric id not resolved")
)

// Author is a tracked Weibo account. Loaded from config at startup and
// immutable afterwards, except NumericID which transitions once from
// empty to resolved and never reverts.
type Author struct {
	Key         string
	Name        string
	Handle      string
	NumericID   string
	Description string
}

// AuthorRef is the author snapshot denormalized onto each Post at
// fetch time.
type AuthorRef struct {
	ID          string
	Handle      string
	Name        string
	Description string
}

// Post is a single published item. ID is an opaque string, globally
// unique per source; it is the sole dedup anchor and is compared only
// for equality, never numerically.
type Post struct {
	ID        string
	CreatedAt string // opaque upstream timestamp, display-only
	Text      string
	Source    string // client label ("Weibo for iPhone", ...)
	Reposts   int
	Comments  int
	Likes     int
	Author    AuthorRef
	URL       string
	Images    []string
	Quoted    *QuotedPost
}

// QuotedPost captures one level of reposted content. Deeper nesting is
// flattened at parse time.
type QuotedPost struct {
	ID        string
	CreatedAt string
	Text      string
	Handle    string
	Images    []string
}
