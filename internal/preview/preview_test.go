package preview

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	apperrors "github.com/anime-shed/emotion-detect-go/internal/errors"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// pngHeader returns a PNG that carries only a valid IHDR chunk, enough for
// DecodeConfig to report its dimensions.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth, greyscale colour type

	chunk := append([]byte("IHDR"), ihdr...)
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestThumbnail_FitsInsideSquare(t *testing.T) {
	data := encodePNG(t, 640, 320)

	thumb, err := Thumbnail(data, 224)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("Thumbnail is not a JPEG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 224 || b.Dy() != 112 {
		t.Errorf("Expected 224x112 thumbnail, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnail_SmallImageKeepsSize(t *testing.T) {
	data := encodePNG(t, 50, 40)

	for _, size := range []uint{224, 0} {
		thumb, err := Thumbnail(data, size)
		if err != nil {
			t.Fatalf("Thumbnail(%d): %v", size, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(thumb))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 40 {
			t.Errorf("size %d: expected original 50x40, got %v", size, img.Bounds())
		}
	}
}

func TestThumbnail_RejectsUndecodable(t *testing.T) {
	inputs := map[string][]byte{
		"webp": []byte("RIFF....WEBPVP8 not really"),
		"html": []byte("<html><body><script>alert(document.domain)</script></body></html>"),
		"text": []byte("plain text"),
	}

	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			out, err := Thumbnail(data, 224)
			if !errors.Is(err, ErrNotImage) {
				t.Errorf("Expected ErrNotImage, got %v", err)
			}
			if out != nil {
				t.Error("Expected no output bytes")
			}
		})
	}
}

func TestThumbnail_PixelLimit(t *testing.T) {
	_, err := Thumbnail(pngHeader(16000, 16000), 224)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge for 16000x16000, got %v", err)
	}

	// At the limit the header is accepted; this one then fails to decode
	// because it has no image data.
	_, err = Thumbnail(pngHeader(8000, 5000), 224)
	if errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrNotImage) {
		t.Errorf("Expected 8000x5000 to pass the size check, got %v", err)
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Put(ctx, "image/jpeg", []byte("abc"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 object, got %d", store.Len())
	}

	obj, err := store.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(obj.Data) != "abc" || obj.ContentType != "image/jpeg" {
		t.Errorf("Unexpected object %+v", obj)
	}

	if err := store.Release(ctx, id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := store.Open(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after release, got %v", err)
	}
	if err := store.Release(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double release, got %v", err)
	}
}

func TestPreviewer_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	previewer := NewPreviewer(store, 64, "/previews")

	h, err := previewer.Acquire(ctx, "image/png", encodePNG(t, 128, 128))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.URL != "/previews/"+h.ID {
		t.Errorf("Unexpected URL %s", h.URL)
	}

	obj, err := previewer.Open(ctx, h.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if obj.ContentType != "image/jpeg" {
		t.Errorf("Expected stored thumbnail as JPEG, got %s", obj.ContentType)
	}

	if err := previewer.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := previewer.Release(ctx, h); err != nil {
		t.Errorf("Expected releasing twice to be harmless, got %v", err)
	}
	if err := previewer.Release(ctx, Handle{}); err != nil {
		t.Errorf("Expected empty handle release to be a no-op, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d", store.Len())
	}
}

func TestPreviewer_OnlyStoresImages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	previewer := NewPreviewer(store, 64, "/previews")
	html := []byte("<html><body><script>alert(1)</script></body></html>")

	tests := []struct {
		name        string
		contentType string
		data        []byte
		wantErr     error
	}{
		{"html content type", "text/html; charset=utf-8", html, ErrNotImage},
		{"html claiming png", "image/png", html, ErrNotImage},
		{"oversized png", "image/png", pngHeader(20000, 20000), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := previewer.Acquire(ctx, tt.contentType, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if h != (Handle{}) {
				t.Errorf("Expected empty handle, got %+v", h)
			}
		})
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing stored, got %d", store.Len())
	}
}

func TestPreviewer_OpenUnknownIsNotFound(t *testing.T) {
	previewer := NewPreviewer(NewMemoryStore(), 64, "/previews")

	_, err := previewer.Open(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected not_found AppError, got %v", err)
	}
}
