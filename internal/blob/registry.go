// Package blob keeps in-memory object references ("blob:<id>") for uploaded
// sources and transform results, and resolves data: and file:// references.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const Scheme = "blob:"

var (
	ErrNotFound          = errors.New("object reference not found")
	ErrUnsupportedScheme = errors.New("unsupported reference scheme")
	ErrMalformedDataURL  = errors.New("malformed data URL")
)

type Object struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Registry maps object references to bytes. Revoked references stop
// resolving immediately.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]Object
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[string]Object),
		now:     time.Now,
	}
}

// Create stores data and returns its reference.
func (r *Registry) Create(data []byte, contentType string) string {
	ref := Scheme + uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[ref] = Object{
		Data:        data,
		ContentType: contentType,
		CreatedAt:   r.now().UTC(),
	}
	return ref
}

func (r *Registry) Get(ref string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[ref]
	return obj, ok
}

// Take returns the object and revokes the reference in one step.
func (r *Registry) Take(ref string) (Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[ref]
	if ok {
		delete(r.objects, ref)
	}
	return obj, ok
}

func (r *Registry) Revoke(ref string) {
	if ref == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, ref)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Open resolves blob:, data: and file:// references to their bytes.
func (r *Registry) Open(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(ref, Scheme):
		obj, ok := r.Get(ref)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return obj.Data, nil
	case strings.HasPrefix(ref, "data:"):
		data, _, err := ParseDataURL(ref)
		return data, err
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse file reference: %w", err)
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u.Path, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, truncate(ref, 32))
	}
}

// ParseDataURL decodes an RFC 2397 data URL.
func ParseDataURL(ref string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, "", ErrMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrMalformedDataURL
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}
	mediaType, _, _ := strings.Cut(meta, ";")
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return nil, "", fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
			}
		}
		return data, mediaType, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return []byte(unescaped), mediaType, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
