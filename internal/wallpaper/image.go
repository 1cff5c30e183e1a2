package wallpaper

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"linux-shaderpaper/internal/convert"
	"linux-shaderpaper/internal/utils"
)

// ImageExtensions are the file extensions accepted for image wallpapers.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tex"}

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// LoadImage decodes an image wallpaper. Wallpaper Engine textures (.tex) are
// converted, with the result cached in cacheDir when it is set. Paths of the
// form "scene.pkg#materials/x.tex" read an entry of a package archive.
func LoadImage(path, cacheDir string) (image.Image, error) {
	path = ExpandPath(path)

	if archive, entry, ok := convert.SplitPackagePath(path); ok {
		data, err := convert.ReadEntry(archive, entry)
		if err != nil {
			return nil, err
		}
		return decode(entry, data)
	}

	if strings.EqualFold(filepath.Ext(path), ".tex") {
		return convert.LoadTexture(path, cacheDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(path, data)
}

func decode(name string, data []byte) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(name), ".tex") {
		img, err := convert.DecodeTex(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return img, nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	utils.Debug("Image: decoded %s (%s, %v)", name, format, img.Bounds().Size())
	return img, nil
}

// Placement computes where an image of size src lands on a w x h display:
// the scaled destination rectangle, which may extend past the display for
// FitFill.
func Placement(src image.Point, w, h int, fit Fit) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 || w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	if fit == FitStretch {
		return image.Rect(0, 0, w, h)
	}

	scale := 1.0
	scaleW := float64(w) / float64(src.X)
	scaleH := float64(h) / float64(src.Y)
	switch fit {
	case FitFit:
		scale = math.Min(scaleW, scaleH)
	case FitCenter:
	default:
		scale = math.Max(scaleW, scaleH)
	}

	dw := int(math.Round(float64(src.X) * scale))
	dh := int(math.Round(float64(src.Y) * scale))
	x := (w - dw) / 2
	y := (h - dh) / 2
	return image.Rect(x, y, x+dw, y+dh)
}

// Compose renders img onto a w x h canvas according to fit. Uncovered areas
// are filled with bg.
func Compose(img image.Image, w, h int, fit Fit, bg color.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, xdraw.Src)

	src := img.Bounds()
	r := Placement(src.Size(), w, h, fit)
	if r.Empty() {
		return dst
	}
	if r.Dx() == src.Dx() && r.Dy() == src.Dy() {
		xdraw.Draw(dst, r, img, src.Min, xdraw.Over)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, r, img, src, xdraw.Over, nil)
	return dst
}

// Render loads an image wallpaper and composes it for a w x h display.
func Render(spec *Image, w, h int, cacheDir string) (*image.RGBA, error) {
	img, err := LoadImage(spec.Path, cacheDir)
	if err != nil {
		return nil, err
	}
	return Compose(img, w, h, spec.fit(), spec.background()), nil
}
