package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps objects in process memory. Signed uploads point back
// at this API's direct-upload endpoint with a token from UploadSigner.
// Objects vanish on restart, which is fine for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	signer  *UploadSigner
	baseURL string
	ttl     time.Duration
}

func NewMemoryStore(baseURL string, signer *UploadSigner, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		signer:  signer,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

func (m *MemoryStore) SignUpload(_ context.Context, _ string) (*SignedUpload, error) {
	key := "uploads/" + uuid.NewString() + ".jpg"

	token, err := m.signer.Sign(key, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("signing upload token: %w", err)
	}

	q := url.Values{"key": {key}, "token": {token}}
	return &SignedUpload{
		UploadURL: m.baseURL + "/api/v1/uploads/direct?" + q.Encode(),
		URI:       m.URIFor(key),
		ExpiresAt: time.Now().Add(m.ttl).UTC(),
	}, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return m.URIFor(key), nil
}

func (m *MemoryStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	key, ok := strings.CutPrefix(uri, "mem://")
	if !ok || key == "" {
		return nil, fmt.Errorf("unsupported storage URI %q", uri)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *MemoryStore) URIFor(key string) string {
	return "mem://" + key
}

// Verify delegates to the upload signer so the direct-upload handler can
// check tokens without holding the signer itself.
func (m *MemoryStore) Verify(token string) (string, error) {
	return m.signer.Verify(token)
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
