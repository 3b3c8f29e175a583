package render

import (
	"strings"
	"testing"

	"weiborelay/internal/weibo"
)

func samplePost() weibo.Post {
	return weibo.Post{
		ID:        "1",
		CreatedAt: "Mon Aug 25 10:00:00 +0800 2025",
		Text:      `Check this out <a href="https://x">link</a><br/>second line &amp; more`,
		Source:    "Weibo for iPhone",
		Reposts:   3,
		Comments:  7,
		Likes:     12,
		Author: weibo.AuthorRef{
			ID:          "222",
			Handle:      "alice_w",
			Name:        "Alice",
			Description: "an author",
		},
		URL:    "https://m.weibo.cn/detail/1",
		Images: []string{"https://img/1.jpg", "https://img/2.jpg"},
	}
}

func TestPostRendering(t *testing.T) {
	out := Post(samplePost())

	for _, want := range []string{
		"New Weibo post from Alice",
		"https://m.weibo.cn/detail/1",
		"alice_w (an author)",
		"https://m.weibo.cn/u/222",
		"via Weibo for iPhone",
		"3 reposts",
		"7 comments",
		"12 likes",
		"Image 1",
		"Image 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered post missing %q:\n%s", want, out)
		}
	}

	// Upstream markup is flattened, entities decoded then re-escaped.
	if strings.Contains(out, `<a href="https://x">`) {
		t.Error("upstream anchor tag leaked into output")
	}
	if !strings.Contains(out, "second line") {
		t.Errorf("br tag should become a line break:\n%s", out)
	}
	if !strings.Contains(out, "&amp; more") {
		t.Errorf("ampersand should be re-escaped for Telegram HTML:\n%s", out)
	}
}

func TestPostQuotedBlock(t *testing.T) {
	p := samplePost()
	p.Quoted = &weibo.QuotedPost{
		ID:     "2",
		Text:   "original words",
		Handle: "bob_w",
		Images: []string{"https://img/q.jpg", "https://img/q2.jpg"},
	}

	out := Post(p)
	if !strings.Contains(out, "Retweeted from bob_w") {
		t.Errorf("missing quoted header:\n%s", out)
	}
	if !strings.Contains(out, "<blockquote>") {
		t.Errorf("quoted content should render as blockquote:\n%s", out)
	}
	if !strings.Contains(out, "original words") {
		t.Errorf("missing quoted body:\n%s", out)
	}
	if !strings.Contains(out, "https://img/q.jpg") {
		t.Errorf("missing first quoted image:\n%s", out)
	}
	if strings.Contains(out, "https://img/q2.jpg") {
		t.Errorf("only the first quoted image should render:\n%s", out)
	}
}

func TestPostWithoutOptionalFields(t *testing.T) {
	p := weibo.Post{
		ID:     "1",
		Text:   "bare",
		Author: weibo.AuthorRef{Name: "Alice"},
	}
	out := Post(p)
	if !strings.Contains(out, "New Weibo post from Alice") {
		t.Errorf("missing title:\n%s", out)
	}
	if strings.Contains(out, "via ") {
		t.Errorf("empty source should be omitted:\n%s", out)
	}
}

func TestAccountList(t *testing.T) {
	out := AccountList([]weibo.Author{
		{Key: "alice", Name: "Alice", NumericID: "222", Description: "an author"},
		{Key: "bob", Name: "Bob"},
	})
	for _, want := range []string{"alice", "Alice", "an author", "https://m.weibo.cn/u/222", "bob"} {
		if !strings.Contains(out, want) {
			t.Errorf("account list missing %q:\n%s", want, out)
		}
	}

	if out := AccountList(nil); !strings.Contains(out, "No accounts") {
		t.Errorf("unexpected empty-catalog message: %s", out)
	}
}

func TestSubscriptionListEmpty(t *testing.T) {
	out := SubscriptionList(nil)
	if !strings.Contains(out, "no subscriptions") {
		t.Errorf("unexpected empty message: %s", out)
	}
}
