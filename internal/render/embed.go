// Package render turns fetched posts into Telegram HTML messages.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"weiborelay/internal/weibo"
	"weiborelay/pkg/tgui"
)

const maxBodyRunes = 2800

var (
	brTag  = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTag = regexp.MustCompile(`<[^>]*>`)
)

// plainText reduces upstream post HTML to plain text: line breaks
// survive, every other tag is dropped, entities are decoded.
func plainText(s string) string {
	s = brTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}

// Post renders a single post as a Telegram HTML message.
func Post(p weibo.Post) string {
	var parts []tgui.H

	title := "New Weibo post from " + p.Author.Name
	if p.URL != "" {
		parts = append(parts, tgui.Raw("<b>"+tgui.Link(title, p.URL).String()+"</b>"))
	} else {
		parts = append(parts, tgui.B(title))
	}

	author := p.Author.Handle
	if p.Author.Description != "" {
		author += " (" + p.Author.Description + ")"
	}
	if url := weibo.ProfileURL(p.Author); url != "" {
		parts = append(parts, tgui.Link(author, url))
	} else if author != "" {
		parts = append(parts, tgui.Esc(author))
	}

	if body := tgui.TruncRunes(plainText(p.Text), maxBodyRunes); body != "" {
		parts = append(parts, tgui.Esc(body))
	}

	if meta := metaLine(p); meta != "" {
		parts = append(parts, tgui.I(meta))
	}

	for i, img := range p.Images {
		label := "Image"
		if len(p.Images) > 1 {
			label = fmt.Sprintf("Image %d", i+1)
		}
		parts = append(parts, tgui.Link(label, img))
	}

	if q := p.Quoted; q != nil {
		header := "Retweeted"
		if q.Handle != "" {
			header = "Retweeted from " + q.Handle
		}
		quoted := []tgui.H{tgui.B(header)}
		if body := tgui.TruncRunes(plainText(q.Text), maxBodyRunes); body != "" {
			quoted = append(quoted, tgui.Esc(body))
		}
		if len(q.Images) > 0 {
			quoted = append(quoted, tgui.Link("Retweeted image", q.Images[0]))
		}
		parts = append(parts, tgui.Raw("<blockquote>"+tgui.JoinH("\n", quoted...).String()+"</blockquote>"))
	}

	return tgui.JoinH("\n\n", parts...).String()
}

func metaLine(p weibo.Post) string {
	var bits []string
	if p.Source != "" {
		bits = append(bits, "via "+p.Source)
	}
	bits = append(bits,
		fmt.Sprintf("%d reposts", p.Reposts),
		fmt.Sprintf("%d comments", p.Comments),
		fmt.Sprintf("%d likes", p.Likes),
	)
	if p.CreatedAt != "" {
		bits = append(bits, p.CreatedAt)
	}
	return strings.Join(bits, " · ")
}

// AccountList renders the tracked-account catalog for /accounts.
func AccountList(authors []weibo.Author) string {
	if len(authors) == 0 {
		return "No accounts are being tracked."
	}
	parts := []tgui.H{tgui.B("Available Weibo accounts")}
	for _, a := range authors {
		parts = append(parts, accountEntry(a))
	}
	parts = append(parts, tgui.Esc("Use /subscribe <account> to get new posts here."))
	return tgui.JoinH("\n\n", parts...).String()
}

// SubscriptionList renders the destination's subscriptions for
// /subscriptions.
func SubscriptionList(authors []weibo.Author) string {
	if len(authors) == 0 {
		return "This chat has no subscriptions. Use /subscribe <account> to add one."
	}
	parts := []tgui.H{tgui.B("This chat is subscribed to")}
	for _, a := range authors {
		parts = append(parts, accountEntry(a))
	}
	parts = append(parts, tgui.Esc("Use /unsubscribe <account> to stop."))
	return tgui.JoinH("\n\n", parts...).String()
}

func accountEntry(a weibo.Author) tgui.H {
	head := tgui.JoinH(" ", tgui.B(a.Name), tgui.Code(a.Key))
	var lines []tgui.H
	lines = append(lines, head)
	if a.Description != "" {
		lines = append(lines, tgui.Esc(a.Description))
	}
	if a.NumericID != "" {
		lines = append(lines, tgui.Link("Profile", "https://m.weibo.cn/u/"+a.NumericID))
	}
	return tgui.JoinH("\n", lines...)
}
