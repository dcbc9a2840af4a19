package upload

import (
	"bytes"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxImageDim = 1600
	jpegQuality        = 80
)

var resizable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Blob 归一化后的内容
type Blob struct {
	Data        []byte
	ContentType string
	Ext         string // 变了才有值，如 ".jpg"
}

// Normalize sniffs the content type. Decodable images are fit into
// maxDim x maxDim and re-encoded as JPEG; everything else passes through.
func Normalize(data []byte, maxDim int) Blob {
	ct := http.DetectContentType(data)
	if !resizable[ct] {
		return Blob{Data: data, ContentType: ct}
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxImageDim
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		// webp 等没有解码器的格式原样保存
		return Blob{Data: data, ContentType: ct}
	}
	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return Blob{Data: data, ContentType: ct}
	}
	return Blob{Data: buf.Bytes(), ContentType: "image/jpeg", Ext: ".jpg"}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName keeps a short, path-free, ascii-safe file name.
func SanitizeName(name, ext string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		name = "file" + ext
	}
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	return name
}
