package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

// Helper functions for creating test images

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func createNoiseImage(width, height int) *image.RGBA {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// --- ResizeImage tests ---

func TestResizeImage_NoResizeNeeded(t *testing.T) {
	img := createTestImage(100, 100, color.White)
	data := encodeJPEG(img)

	resized, err := ResizeImage(data, 200)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	_, format, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}

	if format != "jpeg" {
		t.Errorf("expected jpeg format, got %s", format)
	}
}

func TestResizeImage_NeedsResize_Landscape(t *testing.T) {
	img := createTestImage(2000, 1000, color.White)
	data := encodeJPEG(img)

	resized, err := ResizeImage(data, 500)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	decodedImg, _, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}

	bounds := decodedImg.Bounds()
	if bounds.Dx() != 500 {
		t.Errorf("expected width 500, got %d", bounds.Dx())
	}
	if bounds.Dy() != 250 {
		t.Errorf("expected height 250, got %d", bounds.Dy())
	}
}

func TestResizeImage_PNGInput(t *testing.T) {
	img := createTestImage(1000, 2000, color.Black)
	data := encodePNG(img)

	resized, err := ResizeImage(data, 500)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	decodedImg, format, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if decodedImg.Bounds().Dy() != 500 || decodedImg.Bounds().Dx() != 250 {
		t.Errorf("unexpected size %v", decodedImg.Bounds())
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	if _, err := ResizeImage([]byte("not an image"), 100); err == nil {
		t.Error("expected error for invalid image data")
	}
}

// --- Crop tests ---

func TestCrop_ScalesToSquare(t *testing.T) {
	img := createTestImage(400, 300, color.White)
	crop := Crop(img, image.Rect(100, 50, 300, 250), 112)

	if crop.Bounds().Dx() != 112 || crop.Bounds().Dy() != 112 {
		t.Errorf("expected 112x112 crop, got %v", crop.Bounds())
	}
}

// --- CompressToLimit tests ---

func TestCompressToLimit_SmallJPEGUnchanged(t *testing.T) {
	data := encodeJPEG(createTestImage(50, 50, color.White))

	out, err := CompressToLimit(data, len(data)+1, 90, 30, 10)
	if err != nil {
		t.Fatalf("CompressToLimit failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected small JPEG to be returned unchanged")
	}
}

func TestCompressToLimit_LowersQuality(t *testing.T) {
	data := encodePNG(createNoiseImage(300, 300))
	limit := 40 * 1024

	out, err := CompressToLimit(data, limit, 90, 30, 10)
	if err != nil {
		t.Fatalf("CompressToLimit failed: %v", err)
	}
	if len(out) > limit {
		t.Errorf("expected output <= %d bytes, got %d", limit, len(out))
	}
	if DetectMIMEType(out) != "image/jpeg" {
		t.Error("expected JPEG output")
	}
}

func TestCompressToLimit_ImpossibleLimit(t *testing.T) {
	data := encodePNG(createNoiseImage(100, 100))

	_, err := CompressToLimit(data, 10, 90, 30, 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

// --- DetectMIMEType tests ---

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", encodeJPEG(createTestImage(10, 10, color.White)), "image/jpeg"},
		{"png", encodePNG(createTestImage(10, 10, color.White)), "image/png"},
		{"gif", []byte("GIF89a\x00\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("hello world"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMIMEType(tt.data); got != tt.expected {
				t.Errorf("DetectMIMEType() = %q, want %q", got, tt.expected)
			}
		})
	}
}
