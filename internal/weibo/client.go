package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	logx "weiborelay/pkg/logx"
)

const (
	defaultBaseURL   = "https://m.weibo.cn/api/container/getIndex"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type ClientConfig struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds a single upstream call so one unresponsive fetch
	// cannot stall the whole tick. Default 10s.
	Timeout time.Duration
}

// Client speaks the m.weibo.cn container API: search-by-handle for
// numeric ID resolution and timeline-by-uid for post retrieval.
type Client struct {
	base string
	ua   string
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		ua:   ua,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// LookupUserID resolves a screen name to its numeric account ID via
// the search container, scanning user-group cards for an exact match.
// Returns "" (no error) when the handle simply is not found.
func (c *Client) LookupUserID(ctx context.Context, handle string) (string, error) {
	q := url.Values{}
	q.Set("containerid", "100103type=3&q="+handle)
	q.Set("page_type", "searchall")

	resp, err := c.get(ctx, q)
	if err != nil {
		return "", err
	}

	for _, card := range resp.Data.Cards {
		if card.CardType != cardTypeUserGroup {
			continue
		}
		for _, item := range card.CardGroup {
			if item.User != nil && item.User.ScreenName == handle {
				return string(item.User.ID), nil
			}
		}
	}
	return "", nil
}

// Timeline fetches the author's feed container and returns the raw
// post records (card_type 9), newest first, as returned by upstream.
func (c *Client) Timeline(ctx context.Context, numericID string) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("type", "uid")
	q.Set("value", numericID)
	q.Set("containerid", "107603"+numericID)

	resp, err := c.get(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []json.RawMessage
	for _, card := range resp.Data.Cards {
		if card.CardType == cardTypePost && len(card.Mblog) > 0 {
			out = append(out, card.Mblog)
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, q url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("User-Agent", c.ua)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: http %d", ErrUnreachable, res.StatusCode)
	}

	var parsed apiResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if parsed.OK != 1 {
		msg := parsed.Msg
		if msg == "" {
			msg = "ok != 1"
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformed, msg)
	}
	return &parsed, nil
}
