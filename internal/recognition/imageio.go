package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	// Decoders for scanner output formats.
	_ "image/gif"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Decode decodes a JPEG, PNG or GIF image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Crop returns the part of img inside r, clamped to the image bounds. It
// returns nil when the clamped rectangle is empty.
func Crop(img image.Image, r image.Rectangle) image.Image {
	if img == nil {
		return nil
	}
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// PadRect converts a box to integer pixels and grows it by padding on every side.
func PadRect(b BBox, padding int) image.Rectangle {
	return image.Rect(int(b.X1)-padding, int(b.Y1)-padding, int(b.X2)+padding, int(b.Y2)+padding)
}

// EncodePNG renders img as PNG, used for inference requests.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG renders img as JPEG at quality 95, used for archived crops.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
