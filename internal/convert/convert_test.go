package convert

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type texFile struct {
	format     uint32
	imgW, imgH uint32
	mipW, mipH uint32
	container  string
	lz4        bool
	pixels     []byte
}

func tag(buf *bytes.Buffer, s string) {
	b := make([]byte, 9)
	copy(b, s)
	buf.Write(b)
}

func u32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func (tf texFile) bytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tag(&buf, "TEXV0005")
	tag(&buf, "TEXI0001")
	u32(&buf, tf.format)
	u32(&buf, 0)
	u32(&buf, tf.mipW)
	u32(&buf, tf.mipH)
	u32(&buf, tf.imgW)
	u32(&buf, tf.imgH)
	u32(&buf, 0)

	container := tf.container
	if container == "" {
		container = "TEXB0003"
	}
	tag(&buf, container)
	u32(&buf, 1)
	if container == "TEXB0003" {
		u32(&buf, 0xFFFFFFFF)
	}

	u32(&buf, 1)
	u32(&buf, tf.mipW)
	u32(&buf, tf.mipH)
	data := tf.pixels
	if container != "TEXB0001" {
		if tf.lz4 {
			out := make([]byte, lz4.CompressBlockBound(len(data)))
			n, err := lz4.CompressBlock(data, out, nil)
			require.NoError(t, err)
			require.NotZero(t, n, "test data must be compressible")
			u32(&buf, 1)
			u32(&buf, uint32(len(data)))
			data = out[:n]
		} else {
			u32(&buf, 0)
			u32(&buf, uint32(len(data)))
		}
	}
	u32(&buf, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func solidRGBA(w, h int, c color.RGBA) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		pix[i*4], pix[i*4+1], pix[i*4+2], pix[i*4+3] = c.R, c.G, c.B, c.A
	}
	return pix
}

func TestDecodeTex_RGBA(t *testing.T) {
	c := color.RGBA{R: 10, G: 20, B: 30, A: 255}
	raw := texFile{format: FormatRGBA8888, imgW: 6, imgH: 5, mipW: 8, mipH: 8, pixels: solidRGBA(8, 8, c)}.bytes(t)

	img, err := DecodeTex(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 5), img.Bounds())
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(3, 3)))
}

func TestDecodeTex_LZ4(t *testing.T) {
	c := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	raw := texFile{format: FormatRGBA8888, imgW: 16, imgH: 16, mipW: 16, mipH: 16, lz4: true, pixels: solidRGBA(16, 16, c)}.bytes(t)

	img, err := DecodeTex(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(15, 15)))
}

func TestDecodeTex_OldContainer(t *testing.T) {
	c := color.RGBA{R: 1, G: 2, B: 3, A: 4}
	raw := texFile{format: FormatRGBA8888, imgW: 4, imgH: 4, mipW: 4, mipH: 4, container: "TEXB0001", pixels: solidRGBA(4, 4, c)}.bytes(t)

	img, err := DecodeTex(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(0, 0)))
}

func TestDecodeTex_R8(t *testing.T) {
	pix := bytes.Repeat([]byte{128}, 4*4)
	raw := texFile{format: FormatR8, imgW: 4, imgH: 4, mipW: 4, mipH: 4, pixels: pix}.bytes(t)

	img, err := DecodeTex(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, color.RGBAModel.Convert(img.At(1, 2)))
}

func TestDecodeTex_DXT1(t *testing.T) {
	// One 4x4 block: both endpoints pure red (RGB565 0xF800), every index 0.
	block := []byte{0x00, 0xF8, 0x00, 0xF8, 0, 0, 0, 0}
	raw := texFile{format: FormatDXT1, imgW: 4, imgH: 4, mipW: 4, mipH: 4, pixels: block}.bytes(t)

	img, err := DecodeTex(bytes.NewReader(raw))
	require.NoError(t, err)
	r, g, b, _ := img.At(2, 2).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Zero(t, g>>8)
	assert.Zero(t, b>>8)
}

func TestDecodeTex_Errors(t *testing.T) {
	_, err := DecodeTex(bytes.NewReader([]byte("PNG\x00\x00\x00\x00\x00\x00rest")))
	assert.ErrorIs(t, err, ErrNotTexture)

	_, err = DecodeTex(bytes.NewReader([]byte("TEXV0005\x00")))
	assert.Error(t, err)

	bad := texFile{format: FormatRG88, imgW: 4, imgH: 4, mipW: 4, mipH: 4, pixels: []byte{1, 2, 3}}.bytes(t)
	_, err = DecodeTex(bytes.NewReader(bad))
	assert.ErrorContains(t, err, "unsupported texture format")
}

func TestLoadTexture_Cache(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sky.tex")
	c := color.RGBA{R: 9, G: 8, B: 7, A: 255}
	require.NoError(t, os.WriteFile(src, texFile{imgW: 4, imgH: 4, mipW: 4, mipH: 4, pixels: solidRGBA(4, 4, c)}.bytes(t), 0o644))

	cache := filepath.Join(dir, "cache")
	img, err := LoadTexture(src, cache)
	require.NoError(t, err)
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(0, 0)))
	assert.FileExists(t, CachedPNG(cache, src))

	// A broken source is not read again while the cache is fresh.
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o644))
	st, err := os.Stat(CachedPNG(cache, src))
	require.NoError(t, err)
	older := st.ModTime().Add(-time.Minute)
	require.NoError(t, os.Chtimes(src, older, older))
	img, err = LoadTexture(src, cache)
	require.NoError(t, err)
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(3, 3)))
}

func writePackage(t *testing.T, path string, files map[string][]byte, order []string) {
	t.Helper()
	var idx, data bytes.Buffer
	str := func(b *bytes.Buffer, s string) {
		u32(b, uint32(len(s)))
		b.WriteString(s)
	}
	str(&idx, "PKGV0019")
	u32(&idx, uint32(len(order)))
	for _, name := range order {
		str(&idx, name)
		u32(&idx, uint32(data.Len()))
		u32(&idx, uint32(len(files[name])))
		data.Write(files[name])
	}
	require.NoError(t, os.WriteFile(path, append(idx.Bytes(), data.Bytes()...), 0o644))
}

func TestPackage(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "scene.pkg")
	c := color.RGBA{R: 50, G: 60, B: 70, A: 255}
	tex := texFile{imgW: 4, imgH: 4, mipW: 4, mipH: 4, pixels: solidRGBA(4, 4, c)}.bytes(t)
	writePackage(t, archive, map[string][]byte{
		"project.json":       []byte(`{"title":"x"}`),
		"materials/sky.tex":  tex,
		"materials/none.tex": nil,
	}, []string{"project.json", "materials/sky.tex", "materials/none.tex"})

	p, err := OpenPackage(archive)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "PKGV0019", p.Version)
	assert.Equal(t, []string{"materials/none.tex", "materials/sky.tex", "project.json"}, p.Names())

	r, err := p.Open("/materials/sky.tex")
	require.NoError(t, err)
	img, err := DecodeTex(r)
	require.NoError(t, err)
	assert.Equal(t, c, color.RGBAModel.Convert(img.At(1, 1)))

	_, err = p.Open("missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	b, err := ReadEntry(archive, "project.json")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, string(b))

	_, err = ReadEntry(archive, "materials/none.tex")
	assert.ErrorIs(t, err, ErrEmptyEntry)
}

func TestOpenPackage_NotAPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pkg")
	require.NoError(t, os.WriteFile(path, []byte{4, 0, 0, 0, 'J', 'U', 'N', 'K'}, 0o644))
	_, err := OpenPackage(path)
	assert.ErrorContains(t, err, "not a package")
}

func TestSplitPackagePath(t *testing.T) {
	tests := []struct {
		in, archive, entry string
		ok                 bool
	}{
		{"/w/scene.pkg#materials/a.tex", "/w/scene.pkg", "materials/a.tex", true},
		{"/w/SCENE.PKG#a.tex", "/w/SCENE.PKG", "a.tex", true},
		{"/w/photo#1.png", "/w/photo#1.png", "", false},
		{"/w/scene.pkg#", "/w/scene.pkg#", "", false},
		{"/w/a.png", "/w/a.png", "", false},
	}
	for _, tt := range tests {
		archive, entry, ok := SplitPackagePath(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.archive, archive, tt.in)
		assert.Equal(t, tt.entry, entry, tt.in)
	}
}

func TestPackage_Extract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "scene.pkg")
	writePackage(t, archive, map[string][]byte{
		"scene.json":        []byte(`{}`),
		"materials/a/b.txt": []byte("deep"),
	}, []string{"scene.json", "materials/a/b.txt"})

	p, err := OpenPackage(archive)
	require.NoError(t, err)
	defer p.Close()

	out := filepath.Join(dir, "out")
	require.NoError(t, p.Extract(out))
	b, err := os.ReadFile(filepath.Join(out, "materials", "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(b))

	evil := filepath.Join(dir, "evil.pkg")
	writePackage(t, evil, map[string][]byte{"../escape.txt": []byte("x")}, []string{"../escape.txt"})
	q, err := OpenPackage(evil)
	require.NoError(t, err)
	defer q.Close()
	assert.ErrorIs(t, q.Extract(filepath.Join(dir, "evil")), ErrUnsafeEntry)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}
