// Package convert decodes Wallpaper Engine assets into standard images so they
// can be used as static wallpapers.
package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mauserzjeh/dxt"
	"github.com/pierrec/lz4/v4"

	"linux-shaderpaper/internal/utils"
)

// Texture formats stored in the TEXV0005 header.
const (
	FormatRGBA8888 uint32 = 0
	FormatDXT5     uint32 = 4
	FormatDXT3     uint32 = 6
	FormatDXT1     uint32 = 7
	FormatRG88     uint32 = 8
	FormatR8       uint32 = 9
)

const (
	texMagic = "TEXV0005"
	// Sanity limit for mip dimensions; real textures are far below it.
	maxDimension = 16384
)

// ErrNotTexture is returned for files without a TEXV0005 header.
var ErrNotTexture = errors.New("not a texture file")

// texReader reads little-endian fields and keeps the first error.
type texReader struct {
	r   io.Reader
	err error
}

func (t *texReader) u32() uint32 {
	var v uint32
	if t.err == nil {
		t.err = binary.Read(t.r, binary.LittleEndian, &v)
	}
	return v
}

// tag reads an n byte NUL padded magic followed by its terminator.
func (t *texReader) tag(n int) string {
	if t.err != nil {
		return ""
	}
	b := make([]byte, n+1)
	if _, err := io.ReadFull(t.r, b); err != nil {
		t.err = err
		return ""
	}
	return string(bytes.Trim(b, "\x00"))
}

func (t *texReader) bytes(n uint32) []byte {
	if t.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(t.r, b); err != nil {
		t.err = err
		return nil
	}
	return b
}

// DecodeTex decodes the first mip of the first image of a .tex texture.
func DecodeTex(r io.Reader) (image.Image, error) {
	t := &texReader{r: r}

	if magic := t.tag(8); t.err == nil && magic != texMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrNotTexture, magic)
	}
	t.tag(8)

	format := t.u32()
	t.u32() // flags
	t.u32() // texture width
	t.u32() // texture height
	imgW := t.u32()
	imgH := t.u32()
	t.u32()

	container := t.tag(8)
	imageCount := t.u32()
	if container == "TEXB0003" || container == "TEXB0004" {
		t.u32() // free image format
	}
	if container == "TEXB0004" {
		t.u32() // video flag
	}
	if t.err != nil {
		return nil, fmt.Errorf("read texture header: %w", t.err)
	}
	if imageCount == 0 {
		return nil, errors.New("no image found in texture")
	}

	mipCount := t.u32()
	if t.err == nil && mipCount == 0 {
		return nil, errors.New("texture has no mipmaps")
	}
	mW, mH := t.u32(), t.u32()
	var compressed bool
	var rawSize uint32
	if container != "TEXB0001" {
		compressed = t.u32() == 1
		rawSize = t.u32()
	}
	size := t.u32()
	if t.err != nil {
		return nil, fmt.Errorf("read mip header: %w", t.err)
	}
	if mW == 0 || mH == 0 || mW > maxDimension || mH > maxDimension {
		return nil, fmt.Errorf("invalid mip size %dx%d", mW, mH)
	}
	data := t.bytes(size)
	if t.err != nil {
		return nil, fmt.Errorf("read mip data: %w", t.err)
	}

	utils.Debug("Texture: format %d, mip %dx%d, image %dx%d, lz4 %v", format, mW, mH, imgW, imgH, compressed)

	if compressed {
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		data = out[:n]
	}

	pix, err := decodePixels(format, data, mW, mH)
	if err != nil {
		return nil, err
	}

	img := &image.RGBA{
		Pix:    pix,
		Stride: int(mW) * 4,
		Rect:   image.Rect(0, 0, int(mW), int(mH)),
	}
	// Mips are padded to a power of two; the header holds the visible size.
	if imgW > 0 && imgH > 0 && imgW <= mW && imgH <= mH {
		return img.SubImage(image.Rect(0, 0, int(imgW), int(imgH))), nil
	}
	return img, nil
}

func decodePixels(format uint32, data []byte, w, h uint32) ([]byte, error) {
	n := uint32(len(data))
	switch format {
	case FormatDXT5, FormatDXT3:
		// DXT3 shares the DXT5 block size; its alpha comes out approximate.
		return decodeDXT(5, data, w, h)
	case FormatDXT1:
		return decodeDXT(1, data, w, h)
	case FormatRG88:
		if n == w*h*2 {
			pix := make([]byte, w*h*4)
			for i := uint32(0); i < w*h; i++ {
				l, a := data[i*2], data[i*2+1]
				pix[i*4], pix[i*4+1], pix[i*4+2], pix[i*4+3] = l, l, l, a
			}
			return pix, nil
		}
	case FormatR8:
		if n == w*h {
			pix := make([]byte, w*h*4)
			for i := uint32(0); i < w*h; i++ {
				v := data[i]
				pix[i*4], pix[i*4+1], pix[i*4+2], pix[i*4+3] = v, v, v, 255
			}
			return pix, nil
		}
	}

	// Unknown or mislabelled formats are guessed from the payload size.
	blocks := ((w + 3) / 4) * ((h + 3) / 4)
	switch n {
	case w * h * 4:
		return data, nil
	case blocks * 16:
		return decodeDXT(5, data, w, h)
	case blocks * 8:
		return decodeDXT(1, data, w, h)
	}
	return nil, fmt.Errorf("unsupported texture format %d with %d bytes for %dx%d", format, n, w, h)
}

func decodeDXT(version int, data []byte, w, h uint32) ([]byte, error) {
	var (
		pix []byte
		err error
	)
	if version == 1 {
		pix, err = dxt.DecodeDXT1(data, uint(w), uint(h))
	} else {
		pix, err = dxt.DecodeDXT5(data, uint(w), uint(h))
	}
	if err != nil {
		return nil, fmt.Errorf("dxt%d: %w", version, err)
	}
	return pix, nil
}

// DecodeTexFile decodes a .tex file from disk.
func DecodeTexFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := DecodeTex(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// CachedPNG returns the path of the PNG a texture converts to inside dir.
func CachedPNG(dir, texPath string) string {
	return filepath.Join(dir, strings.TrimSuffix(filepath.Base(texPath), filepath.Ext(texPath))+".png")
}

// LoadTexture decodes a texture, reusing a converted PNG in cacheDir when it
// is newer than the source and writing one otherwise. An empty cacheDir
// disables the cache.
func LoadTexture(path, cacheDir string) (image.Image, error) {
	if cacheDir == "" {
		return DecodeTexFile(path)
	}
	pngPath := CachedPNG(cacheDir, path)
	if img, ok := loadFresh(pngPath, path); ok {
		return img, nil
	}

	img, err := DecodeTexFile(path)
	if err != nil {
		return nil, err
	}
	if err := writePNG(pngPath, img); err != nil {
		utils.Warn("Texture: failed to cache %s: %v", pngPath, err)
	}
	return img, nil
}

func loadFresh(pngPath, src string) (image.Image, bool) {
	ps, err := os.Stat(pngPath)
	if err != nil {
		return nil, false
	}
	if ss, err := os.Stat(src); err == nil && ss.ModTime().After(ps.ModTime()) {
		return nil, false
	}
	f, err := os.Open(pngPath)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, false
	}
	return img, true
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
