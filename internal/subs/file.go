package subs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "weiborelay/pkg/logx"
)

// fileStore keeps the whole author->destinations map in memory and
// rewrites the JSON file on every mutation via temp-file+rename, so a
// crash mid-write never leaves a torn file. Subscription churn is
// human-paced; the full rewrite is fine.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data map[string][]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	data := map[string][]string{}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &data); err != nil {
			return nil, errors.New("corrupt subscription file " + path + ": " + err.Error())
		}
	case os.IsNotExist(err):
		// First run: start empty.
	default:
		return nil, err
	}

	for k, v := range data {
		sort.Strings(v)
		data[k] = v
	}

	return &fileStore{log: log, path: path, data: data}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Subscribe(ctx context.Context, authorKey, dest string) (bool, error) {
	_ = ctx
	authorKey = strings.TrimSpace(authorKey)
	dest = strings.TrimSpace(dest)
	if authorKey == "" || dest == "" {
		return false, errors.New("author and destination are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[authorKey]
	i := sort.SearchStrings(list, dest)
	if i < len(list) && list[i] == dest {
		return false, nil
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = dest
	s.data[authorKey] = list

	if err := s.flushLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Unsubscribe(ctx context.Context, authorKey, dest string) (bool, error) {
	_ = ctx
	authorKey = strings.TrimSpace(authorKey)
	dest = strings.TrimSpace(dest)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[authorKey]
	i := sort.SearchStrings(list, dest)
	if i >= len(list) || list[i] != dest {
		return false, nil
	}
	list = append(list[:i], list[i+1:]...)
	if len(list) == 0 {
		delete(s.data, authorKey)
	} else {
		s.data[authorKey] = list
	}

	if err := s.flushLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Subscribers(ctx context.Context, authorKey string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data[authorKey]...), nil
}

func (s *fileStore) SubscriptionsFor(ctx context.Context, dest string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key, list := range s.data {
		i := sort.SearchStrings(list, dest)
		if i < len(list) && list[i] == dest {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
