package render

import (
	"fmt"
	"image"
	"image/png"
	"os"
)

// SavePNG writes an image to path, creating or truncating the file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save png: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("save png %s: %w", path, err)
	}
	return f.Close()
}

// LoadPNG reads a PNG image from path.
func LoadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load png: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load png %s: %w", path, err)
	}
	return img, nil
}
