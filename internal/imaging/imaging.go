// Package imaging holds the image helpers shared by the pipeline, the
// embedding extractor and the delivery channels: decoding, face cropping,
// resizing for model input and compression under a byte ceiling.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrTooLarge is returned when an image cannot be compressed under the limit.
var ErrTooLarge = errors.New("image cannot be compressed under size limit")

// Decode decodes JPEG, PNG, GIF, BMP or WebP data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop cuts region out of img and scales it to a size x size square.
// region must lie inside img.Bounds().
func Crop(img image.Image, region image.Rectangle, size int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, region, draw.Src, nil)
	return dst
}

// Scale returns img scaled to fit within maxSize (width or height) while keeping aspect ratio.
// Images already small enough are returned unchanged.
func Scale(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, max(newWidth, 1), max(newHeight, 1)))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// ResizeImage resizes an image to fit within maxSize (width or height) while keeping aspect ratio.
// The result is always JPEG encoded.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Scale(img, maxSize), 85)
}

// CompressToLimit re-encodes data as JPEG, lowering quality from startQuality
// by step down to minQuality until the output fits in maxBytes. When even the
// lowest quality is too big the image is downscaled and the lowest quality
// retried a few times before giving up with ErrTooLarge.
func CompressToLimit(data []byte, maxBytes, startQuality, minQuality, step int) ([]byte, error) {
	if len(data) <= maxBytes && DetectMIMEType(data) == "image/jpeg" {
		return data, nil
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	for q := startQuality; q >= minQuality; q -= step {
		out, err := EncodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if len(out) <= maxBytes {
			return out, nil
		}
	}

	const maxDownscales = 4
	for range maxDownscales {
		b := img.Bounds()
		longest := max(b.Dx(), b.Dy())
		if longest < 64 {
			break
		}
		img = Scale(img, longest*3/4)
		out, err := EncodeJPEG(img, minQuality)
		if err != nil {
			return nil, err
		}
		if len(out) <= maxBytes {
			return out, nil
		}
	}

	return nil, ErrTooLarge
}

// DetectMIMEType detects the MIME type from image data
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
