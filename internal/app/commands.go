package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"weiborelay/internal/render"
	"weiborelay/internal/router"
	"weiborelay/internal/subs"
	kit "weiborelay/internal/transport"
	"weiborelay/internal/weibo"
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// buildCommands wires the chat command surface against the fetcher and
// the subscription store.
func buildCommands(fetch *weibo.Fetcher, store subs.Store) []router.Command {
	return []router.Command{
		{
			Name:        "subscribe",
			Description: "get new posts from an account in this chat",
			Usage:       "/subscribe <account>",
			Handle: func(ctx context.Context, req *router.Request) error {
				if store == nil {
					return reply(ctx, req, "Subscriptions are disabled on this instance.")
				}
				if len(req.Args) != 1 {
					return reply(ctx, req, "Usage: /subscribe <account>. See /accounts for the list.")
				}
				key := strings.ToLower(req.Args[0])
				if !hasAuthor(fetch, key) {
					return reply(ctx, req, fmt.Sprintf("Unknown account %q. See /accounts for the list.", key))
				}
				changed, err := store.Subscribe(ctx, key, req.Chat.String())
				if err != nil {
					req.Logger.Warn("subscribe failed")
					return reply(ctx, req, "Could not save the subscription (storage error). Please try again.")
				}
				if !changed {
					return reply(ctx, req, fmt.Sprintf("This chat is already subscribed to %s.", key))
				}
				return reply(ctx, req, fmt.Sprintf("Subscribed. New posts from %s will appear here.", key))
			},
		},
		{
			Name:        "unsubscribe",
			Description: "stop posts from an account in this chat",
			Usage:       "/unsubscribe <account>",
			Handle: func(ctx context.Context, req *router.Request) error {
				if store == nil {
					return reply(ctx, req, "Subscriptions are disabled on this instance.")
				}
				if len(req.Args) != 1 {
					return reply(ctx, req, "Usage: /unsubscribe <account>")
				}
				key := strings.ToLower(req.Args[0])
				changed, err := store.Unsubscribe(ctx, key, req.Chat.String())
				if err != nil {
					req.Logger.Warn("unsubscribe failed")
					return reply(ctx, req, "Could not update the subscription (storage error). Please try again.")
				}
				if !changed {
					return reply(ctx, req, fmt.Sprintf("This chat is not subscribed to %s.", key))
				}
				return reply(ctx, req, fmt.Sprintf("Unsubscribed from %s.", key))
			},
		},
		{
			Name:        "accounts",
			Description: "list the tracked accounts",
			Handle: func(ctx context.Context, req *router.Request) error {
				return replyHTML(ctx, req, render.AccountList(fetch.Authors()))
			},
		},
		{
			Name:        "subscriptions",
			Description: "list this chat's subscriptions",
			Handle: func(ctx context.Context, req *router.Request) error {
				if store == nil {
					return reply(ctx, req, "Subscriptions are disabled on this instance.")
				}
				keys, err := store.SubscriptionsFor(ctx, req.Chat.String())
				if err != nil {
					req.Logger.Warn("subscription lookup failed")
					return reply(ctx, req, "Could not read subscriptions (storage error). Please try again.")
				}
				authors := make([]weibo.Author, 0, len(keys))
				for _, key := range keys {
					for _, a := range fetch.Authors() {
						if a.Key == key {
							authors = append(authors, a)
							break
						}
					}
				}
				return replyHTML(ctx, req, render.SubscriptionList(authors))
			},
		},
		{
			Name:        "latest",
			Description: "show an account's recent posts",
			Usage:       "/latest <account> [count]",
			Timeout:     45 * time.Second,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 1 || len(req.Args) > 2 {
					return reply(ctx, req, "Usage: /latest <account> [count]")
				}
				key := strings.ToLower(req.Args[0])
				count := 3
				if len(req.Args) == 2 {
					n, err := strconv.Atoi(req.Args[1])
					if err != nil || n < 1 {
						return reply(ctx, req, "Count must be a positive number.")
					}
					count = n
				}

				posts, err := fetch.FetchPosts(ctx, key, count, true)
				if err != nil {
					return reply(ctx, req, fetchErrorText(key, err))
				}
				if len(posts) == 0 {
					return reply(ctx, req, fmt.Sprintf("No recent posts found for %s.", key))
				}
				for _, p := range posts {
					if err := replyHTML(ctx, req, render.Post(p)); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

func hasAuthor(fetch *weibo.Fetcher, key string) bool {
	for _, a := range fetch.Authors() {
		if a.Key == key {
			return true
		}
	}
	return false
}

// fetchErrorText maps fetch failures to user-facing text that names
// the cause category without leaking internals.
func fetchErrorText(key string, err error) string {
	switch {
	case errors.Is(err, weibo.ErrUnknownAuthor):
		return fmt.Sprintf("Unknown account %q. See /accounts for the list.", key)
	case errors.Is(err, weibo.ErrUnresolvedID):
		return fmt.Sprintf("The account %s could not be resolved upstream yet. Try again later.", key)
	case errors.Is(err, weibo.ErrUnreachable):
		return "Weibo is unreachable right now. Try again later."
	case errors.Is(err, weibo.ErrMalformed):
		return "Weibo returned an unexpected response. Try again later."
	default:
		return "Could not fetch posts right now. Try again later."
	}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func replyHTML(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, htmlOpts)
	return err
}
