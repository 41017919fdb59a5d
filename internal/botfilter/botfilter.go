package botfilter

import (
	"fmt"
	"os"
	"strings"
)

// NormalizeHandle lowercases a handle and strips whitespace and a leading @.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@")))
}

// ParseHandles reads a known-bots list. One handle per line, optionally
// bulleted with "-", optionally followed by ": description". Blank lines and
// lines starting with # are skipped.
func ParseHandles(content string) []string {
	var handles []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
		handle, _, _ := strings.Cut(line, ":")
		if h := NormalizeHandle(handle); h != "" {
			handles = append(handles, h)
		}
	}
	return handles
}

// Filter answers whether a handle belongs to a known bot. It is immutable
// and safe for concurrent use.
type Filter struct {
	known map[string]struct{}
}

func New(handles ...string) *Filter {
	f := &Filter{known: make(map[string]struct{}, len(handles))}
	for _, h := range handles {
		if n := NormalizeHandle(h); n != "" {
			f.known[n] = struct{}{}
		}
	}
	return f
}

// Load builds a filter from inline handles plus an optional list file.
func Load(handles []string, path string) (*Filter, error) {
	all := append([]string{}, handles...)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading known bots file: %w", err)
		}
		all = append(all, ParseHandles(string(data))...)
	}
	return New(all...), nil
}

func (f *Filter) IsKnownBot(handle string) bool {
	if f == nil {
		return false
	}
	_, ok := f.known[NormalizeHandle(handle)]
	return ok
}

func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.known)
}
