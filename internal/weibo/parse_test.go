package weibo

import (
	"encoding/json"
	"testing"
)

func TestParsePostBasic(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "5012345678901234",
		"created_at": "Mon Aug 25 10:00:00 +0800 2025",
		"text": "hello <b>world</b>",
		"source": "Weibo for iPhone",
		"reposts_count": 3,
		"comments_count": "7",
		"attitudes_count": "100万+",
		"pics": [
			{"url": "https://wx1.example/thumb1.jpg", "large": {"url": "https://wx1.example/large1.jpg"}},
			{"url": "https://wx1.example/thumb2.jpg"}
		]
	}`)

	p, ok := parsePost(raw, AuthorRef{ID: "42", Handle: "tester", Name: "Tester"})
	if !ok {
		t.Fatal("expected record to parse")
	}
	if p.ID != "5012345678901234" {
		t.Fatalf("unexpected id: %q", p.ID)
	}
	if p.URL != "https://m.weibo.cn/detail/5012345678901234" {
		t.Fatalf("unexpected url: %q", p.URL)
	}
	if p.Reposts != 3 || p.Comments != 7 {
		t.Fatalf("unexpected counters: %d/%d", p.Reposts, p.Comments)
	}
	if p.Likes != 0 {
		t.Fatalf("unparseable counter should decode to 0, got %d", p.Likes)
	}
	if len(p.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", p.Images)
	}
	if p.Images[0] != "https://wx1.example/large1.jpg" {
		t.Fatalf("expected large variant preferred, got %q", p.Images[0])
	}
	if p.Images[1] != "https://wx1.example/thumb2.jpg" {
		t.Fatalf("expected fallback to plain url, got %q", p.Images[1])
	}
	if p.Author.Handle != "tester" {
		t.Fatalf("author not carried onto post: %+v", p.Author)
	}
}

func TestParsePostNumericID(t *testing.T) {
	raw := json.RawMessage(`{"id": 5012345678901234, "text": "numeric id"}`)
	p, ok := parsePost(raw, AuthorRef{})
	if !ok {
		t.Fatal("expected record to parse")
	}
	if p.ID != "5012345678901234" {
		t.Fatalf("unexpected id: %q", p.ID)
	}
}

func TestParsePostDropsIncomplete(t *testing.T) {
	cases := map[string]string{
		"missing id":   `{"text": "no id here"}`,
		"missing text": `{"id": "123"}`,
		"blank text":   `{"id": "123", "text": "   "}`,
		"not json":     `{"id": `,
		"empty":        ``,
	}
	for name, raw := range cases {
		if _, ok := parsePost(json.RawMessage(raw), AuthorRef{}); ok {
			t.Errorf("%s: expected record to be dropped", name)
		}
	}
}

func TestParsePostQuotedOneLevel(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "1", "text": "outer",
		"retweeted_status": {
			"id": "2", "text": "middle",
			"user": {"screen_name": "middleuser"},
			"pics": [{"url": "https://wx1.example/q.jpg"}],
			"retweeted_status": {"id": "3", "text": "inner"}
		}
	}`)
	p, ok := parsePost(raw, AuthorRef{})
	if !ok {
		t.Fatal("expected record to parse")
	}
	if p.Quoted == nil {
		t.Fatal("expected quoted post")
	}
	if p.Quoted.ID != "2" || p.Quoted.Handle != "middleuser" {
		t.Fatalf("unexpected quoted post: %+v", p.Quoted)
	}
	if len(p.Quoted.Images) != 1 {
		t.Fatalf("expected quoted image, got %v", p.Quoted.Images)
	}
}

func TestFlexIntForms(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`17`, 17},
		{`"17"`, 17},
		{`" 17 "`, 17},
		{`"转发"`, 0},
		{`null`, 0},
		{`-5`, 0},
		{`3.7`, 0},
	}
	for _, c := range cases {
		var f flexInt
		if err := json.Unmarshal([]byte(c.in), &f); err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if int(f) != c.want {
			t.Errorf("%s: got %d, want %d", c.in, f, c.want)
		}
	}
}

func TestFlexStringForms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"abc"`, "abc"},
		{`1234567890123456789`, "1234567890123456789"},
		{`null`, ""},
	}
	for _, c := range cases {
		var f flexString
		if err := json.Unmarshal([]byte(c.in), &f); err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if string(f) != c.want {
			t.Errorf("%s: got %q, want %q", c.in, f, c.want)
		}
	}
}
