// Package preview keeps the thumbnails shown next to the upload form. A
// preview is acquired when an image is selected and released when the
// selection is replaced, cleared or torn down.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path"

	apperrors "github.com/anime-shed/emotion-detect-go/internal/errors"
	"github.com/anime-shed/emotion-detect-go/pkg/validation"

	"github.com/nfnt/resize"
)

// MaxPixels bounds the images decoded for a preview
const MaxPixels = 40_000_000

// ThumbnailType is the content type of every stored preview
const ThumbnailType = "image/jpeg"

var (
	// ErrNotFound is returned for unknown or already released preview IDs
	ErrNotFound = errors.New("preview not found")
	// ErrNotImage is returned for uploads that cannot be decoded as an image
	ErrNotImage = errors.New("not a decodable image")
	// ErrTooLarge is returned for images above MaxPixels
	ErrTooLarge = errors.New("image too large for a preview")
)

// Object is a stored preview
type Object struct {
	ContentType string
	Data        []byte
}

// Store holds preview bytes under opaque IDs
type Store interface {
	Put(ctx context.Context, contentType string, data []byte) (string, error)
	Open(ctx context.Context, id string) (*Object, error)
	Release(ctx context.Context, id string) error
}

// Handle references an acquired preview
type Handle struct {
	ID  string
	URL string
}

// Previewer turns uploaded images into thumbnails held by a Store
type Previewer struct {
	store     Store
	size      uint
	urlPrefix string
}

// NewPreviewer creates a previewer fitting thumbnails into size×size and
// addressing them below urlPrefix.
func NewPreviewer(store Store, size uint, urlPrefix string) *Previewer {
	return &Previewer{
		store:     store,
		size:      size,
		urlPrefix: urlPrefix,
	}
}

// Acquire stores a thumbnail of data and returns its handle. Only images the
// server can decode get a preview; anything else returns ErrNotImage.
func (p *Previewer) Acquire(ctx context.Context, contentType string, data []byte) (Handle, error) {
	if !validation.MatchesAccept(validation.ImageAccept, contentType) {
		return Handle{}, fmt.Errorf("%w: content type %q", ErrNotImage, contentType)
	}
	thumb, err := Thumbnail(data, p.size)
	if err != nil {
		return Handle{}, err
	}
	id, err := p.store.Put(ctx, ThumbnailType, thumb)
	if err != nil {
		return Handle{}, fmt.Errorf("store preview: %w", err)
	}
	return Handle{ID: id, URL: p.URL(id)}, nil
}

// Release drops the preview. Releasing an unknown ID is not an error.
func (p *Previewer) Release(ctx context.Context, h Handle) error {
	if h.ID == "" {
		return nil
	}
	if err := p.store.Release(ctx, h.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("release preview %s: %w", h.ID, err)
	}
	return nil
}

// Open returns the stored preview for id. Unknown IDs yield a not_found
// AppError that still matches ErrNotFound.
func (p *Previewer) Open(ctx context.Context, id string) (*Object, error) {
	obj, err := p.store.Open(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewNotFoundError("preview not found", err)
	}
	return obj, err
}

// URL returns the address a preview ID is served from
func (p *Previewer) URL(id string) string {
	return path.Join(p.urlPrefix, id)
}

// Thumbnail decodes a JPEG, PNG or GIF image, fits it into size×size and
// re-encodes it as JPEG. A zero size keeps the original dimensions. The pixel
// count is checked from the header before the image is decoded.
func Thumbnail(data []byte, size uint) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if size > 0 {
		img = resize.Thumbnail(size, size, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
