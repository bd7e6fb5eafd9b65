package resource

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Provider keyed by slash-separated locators.
type Memory struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMemory creates a provider holding a copy of files.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{files: make(map[string]string, len(files))}
	for k, v := range files {
		m.files[clean(k)] = v
	}
	return m
}

func (m *Memory) IsLocator(s string) bool { return IsLocator(s) }

func (m *Memory) List(_ context.Context, loc string) ([]string, error) {
	loc = clean(loc)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[loc]; ok {
		return []string{loc}, nil
	}
	var out []string
	for k := range m.files {
		if loc == "" || strings.HasPrefix(k, loc+"/") {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Read(_ context.Context, loc string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.files[clean(loc)]
	return v, ok
}

func (m *Memory) Exists(ctx context.Context, loc string) bool {
	if _, ok := m.Read(ctx, loc); ok {
		return true
	}
	out, _ := m.List(ctx, loc)
	return len(out) > 0
}

func (m *Memory) Write(_ context.Context, loc, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(loc)] = content
	return nil
}

func clean(loc string) string {
	loc = strings.TrimPrefix(loc, "./")
	loc = strings.Trim(loc, "/")
	if loc == "." {
		return ""
	}
	return loc
}
