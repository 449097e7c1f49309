package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"os"
	"time"

	"forumclient/internal/models"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Output formats.
const (
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

const (
	DefaultMaxEdge = 1280
	DefaultQuality = 80
	// maxSourceBytes bounds what is read from the picked file.
	maxSourceBytes = 20 << 20
	// maxSourcePixels bounds the decoded size; a small file can declare
	// huge dimensions.
	maxSourcePixels = 40_000_000
)

// Upload is an encoded image ready for the upload endpoint.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Preparer re-encodes picked images so uploads stay small.
type Preparer struct {
	MaxEdge int
	Format  string
	Quality int
	now     func() time.Time
}

// NewPreparer returns a Preparer with defaults filled in.
func NewPreparer(maxEdge int, format string) *Preparer {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if format != FormatWebP {
		format = FormatJPEG
	}
	return &Preparer{MaxEdge: maxEdge, Format: format, Quality: DefaultQuality, now: time.Now}
}

// PrepareFile reads path and prepares it for userID.
func (p *Preparer) PrepareFile(path string, userID uint) (*Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	if info.Size() > maxSourceBytes {
		return nil, models.NewValidationError(fmt.Sprintf("Image is too large (max %d MB)", maxSourceBytes>>20))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return p.Prepare(data, userID)
}

// Prepare decodes JPEG, PNG or WebP data, shrinks it to fit MaxEdge, and
// encodes it in Format. The filename is post_<userID>_<unixms>.<ext>.
func (p *Preparer) Prepare(data []byte, userID uint) (*Upload, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewValidationError("Unsupported image format")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, models.NewValidationError(fmt.Sprintf("Image dimensions %dx%d are too large", cfg.Width, cfg.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewValidationError("Unsupported image format")
	}

	img := resizeToFit(src, p.MaxEdge)

	var (
		out         []byte
		ext         string
		contentType string
	)
	switch p.Format {
	case FormatWebP:
		out, err = encodeWebP(img, p.Quality)
		ext, contentType = "webp", "image/webp"
	default:
		out, err = encodeJPEG(img, p.Quality)
		ext, contentType = "jpg", "image/jpeg"
	}
	if err != nil {
		return nil, fmt.Errorf("media: encode %s: %w", p.Format, err)
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	b := img.Bounds()
	return &Upload{
		Filename:    fmt.Sprintf("post_%d_%d.%s", userID, now().UnixMilli(), ext),
		ContentType: contentType,
		Data:        out,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// resizeToFit scales src down so neither side exceeds maxEdge. Smaller
// images are returned unchanged.
func resizeToFit(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 || (w <= maxEdge && h <= maxEdge) {
		return src
	}

	scale := float64(maxEdge) / float64(max(w, h))
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
