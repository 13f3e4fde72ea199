// Package blob stores exchange image attachments.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	// ErrUpload wraps every storage failure during upload.
	ErrUpload   = errors.New("image upload failed")
	ErrNotFound = errors.New("image not found")
	ErrNotImage = errors.New("attachment is not a decodable image")
)

// Object a stored attachment. URL is what gets written into the exchange record.
type Object struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type Storage interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*Object, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *Object, error)
}

// ObjectName is "<unix millis>-<filename with all whitespace removed>".
func ObjectName(now time.Time, filename string) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), strings.Join(strings.Fields(filename), ""))
}

func publicURL(base, id string) string {
	return strings.TrimSuffix(base, "/") + "/" + id
}

// Downscale re-encodes the image as JPEG when either side exceeds maxSide.
// Images already within bounds are returned untouched with their original content type.
func Downscale(raw []byte, contentType string, maxSide int) ([]byte, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/" + format
	}
	if maxSide <= 0 || (cfg.Width <= maxSide && cfg.Height <= maxSide) {
		return raw, contentType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	resized := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// MemoryStorage keeps attachments in process.
type MemoryStorage struct {
	mu         sync.RWMutex
	publicBase string
	objects    map[string]memoryObject
}

type memoryObject struct {
	meta Object
	data []byte
}

func NewMemoryStorage(publicBase string) *MemoryStorage {
	return &MemoryStorage{publicBase: publicBase, objects: make(map[string]memoryObject)}
}

var _ Storage = (*MemoryStorage)(nil)

func (m *MemoryStorage) Upload(ctx context.Context, name, contentType string, r io.Reader) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	id := uuid.NewString()
	obj := Object{ID: id, Name: name, ContentType: contentType, URL: publicURL(m.publicBase, id)}

	m.mu.Lock()
	m.objects[id] = memoryObject{meta: obj, data: data}
	m.mu.Unlock()
	return &obj, nil
}

func (m *MemoryStorage) Open(_ context.Context, id string) (io.ReadCloser, *Object, error) {
	m.mu.RLock()
	o, ok := m.objects[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := o.meta
	return io.NopCloser(bytes.NewReader(o.data)), &meta, nil
}
