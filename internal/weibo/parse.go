package weibo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Upstream card types we care about. Everything else is ignored.
const (
	cardTypePost      = 9
	cardTypeUserGroup = 11
)

type apiResponse struct {
	OK   int     `json:"ok"`
	Msg  string  `json:"msg"`
	Data apiData `json:"data"`
}

type apiData struct {
	Cards []apiCard `json:"cards"`
}

// apiCard keeps the post payload raw so one odd record can be skipped
// without aborting the whole batch.
type apiCard struct {
	CardType  int             `json:"card_type"`
	Mblog     json.RawMessage `json:"mblog"`
	CardGroup []apiGroupItem  `json:"card_group"`
}

type apiGroupItem struct {
	User *apiUser `json:"user"`
}

type apiUser struct {
	ID         flexString `json:"id"`
	ScreenName string     `json:"screen_name"`
}

type apiPost struct {
	ID        flexString `json:"id"`
	CreatedAt string     `json:"created_at"`
	Text      string     `json:"text"`
	Source    string     `json:"source"`
	Reposts   flexInt    `json:"reposts_count"`
	Comments  flexInt    `json:"comments_count"`
	Attitudes flexInt    `json:"attitudes_count"`
	Pics      []apiPic   `json:"pics"`
	User      *apiUser   `json:"user"`
	Retweeted *apiPost   `json:"retweeted_status"`
}

type apiPic struct {
	URL   string `json:"url"`
	Large *struct {
		URL string `json:"url"`
	} `json:"large"`
}

// flexString tolerates upstream fields that arrive as either a JSON
// string or a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt tolerates counters that arrive as a number, a numeric
// string, or something unparseable ("100万+"); anything unparseable
// decodes to zero rather than failing the record.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			*f = 0
			return nil
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// parsePost decodes one raw post record. Records missing the required
// fields (id, body text) are dropped with ok=false and no error; one bad
// record must not lose the rest of the batch.
func parsePost(raw json.RawMessage, author AuthorRef) (Post, bool) {
	if len(raw) == 0 {
		return Post{}, false
	}
	var mb apiPost
	if err := json.Unmarshal(raw, &mb); err != nil {
		return Post{}, false
	}
	if mb.ID == "" || strings.TrimSpace(mb.Text) == "" {
		return Post{}, false
	}

	p := Post{
		ID:        string(mb.ID),
		CreatedAt: mb.CreatedAt,
		Text:      mb.Text,
		Source:    mb.Source,
		Reposts:   int(mb.Reposts),
		Comments:  int(mb.Comments),
		Likes:     int(mb.Attitudes),
		Author:    author,
		URL:       postURL(string(mb.ID)),
		Images:    picURLs(mb.Pics),
	}

	// One level of quoted content only; a repost-of-a-repost keeps just
	// the immediate quote and discards anything nested deeper.
	if rt := mb.Retweeted; rt != nil && rt.ID != "" {
		q := &QuotedPost{
			ID:        string(rt.ID),
			CreatedAt: rt.CreatedAt,
			Text:      rt.Text,
			Images:    picURLs(rt.Pics),
		}
		if rt.User != nil {
			q.Handle = rt.User.ScreenName
		}
		p.Quoted = q
	}

	return p, true
}

// picURLs prefers the "large" representation, falls back to the
// generic URL, and drops records with neither.
func picURLs(pics []apiPic) []string {
	var out []string
	for _, pic := range pics {
		switch {
		case pic.Large != nil && pic.Large.URL != "":
			out = append(out, pic.Large.URL)
		case pic.URL != "":
			out = append(out, pic.URL)
		}
	}
	return out
}

func postURL(id string) string {
	return "https://m.weibo.cn/detail/" + id
}

func profileURL(numericID string) string {
	return "https://m.weibo.cn/u/" + numericID
}
