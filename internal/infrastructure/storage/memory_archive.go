package storage

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
)

var (
	_ migrationapp.ReportArchive = (*MemoryReportArchive)(nil)
	_ migrationapp.ReportLocator = (*MemoryReportArchive)(nil)
)

// MemoryReportArchive keeps reports in process memory.
// Used in development when no bucket is configured, and in tests.
type MemoryReportArchive struct {
	// BaseURL prefixes generated download links
	BaseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryReportArchive creates an empty archive
func NewMemoryReportArchive() *MemoryReportArchive {
	return &MemoryReportArchive{
		BaseURL: "memory://reports",
		objects: make(map[string]memoryObject),
	}
}

// Upload stores a copy of data under key
func (m *MemoryReportArchive) Upload(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// Exists reports whether key was uploaded
func (m *MemoryReportArchive) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// DownloadURL returns a link that only carries the key and expiry
func (m *MemoryReportArchive) DownloadURL(_ context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errEmptyKey
	}
	expiresAt := time.Now().Add(expiresIn)
	q := url.Values{"expires": []string{expiresAt.UTC().Format(time.RFC3339)}}
	return m.BaseURL + "/" + key + "?" + q.Encode(), expiresAt, nil
}

// Get returns the stored object
func (m *MemoryReportArchive) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Keys lists stored keys in order
func (m *MemoryReportArchive) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
