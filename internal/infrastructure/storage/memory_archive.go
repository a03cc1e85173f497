package storage

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

// MemoryArchive keeps archives in the process. It serves development setups without
// object storage; links point at BaseURL and are not signed.
type MemoryArchive struct {
	BaseURL string
	TTL     time.Duration

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive creates an archive whose links start with baseURL
func NewMemoryArchive(baseURL string) *MemoryArchive {
	return &MemoryArchive{BaseURL: baseURL, TTL: defaultPresignTTL, objects: make(map[string][]byte)}
}

// Store keeps a copy of data under name
func (a *MemoryArchive) Store(ctx context.Context, name, contentType string, data []byte) (*Archive, error) {
	if name == "" {
		return nil, errors.New("archive name is required")
	}
	a.mu.Lock()
	a.objects[name] = append([]byte(nil), data...)
	a.mu.Unlock()

	expiresAt := time.Now().Add(a.TTL)
	return &Archive{
		Key:       name,
		URL:       a.BaseURL + "/" + url.PathEscape(name) + "?expires=" + url.QueryEscape(expiresAt.UTC().Format(time.RFC3339)),
		Size:      int64(len(data)),
		ExpiresAt: expiresAt,
	}, nil
}

// Get returns a stored archive
func (a *MemoryArchive) Get(name string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[name]
	return data, ok
}
