package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// image is an image file loaded for attachment.
type image struct {
	Path     string
	MIMEType string
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURL returns the image as a data: URL.
func (img image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + img.Base64()
}

// loadImages reads every path in order. A missing file fails the call.
func loadImages(paths []string) ([]image, error) {
	images := make([]image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images = append(images, image{Path: p, MIMEType: imageMIMEType(p, data), Data: data})
	}
	return images, nil
}

func imageMIMEType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(t, "image/") {
		return t
	}
	return http.DetectContentType(data)
}
