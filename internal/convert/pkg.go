package convert

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"linux-shaderpaper/internal/utils"
)

// PackageSeparator splits an archive path from the entry inside it, as in
// "scene.pkg#materials/sky.tex".
const PackageSeparator = "#"

// maxPkgString bounds the length prefixes read from an archive.
const maxPkgString = 1 << 16

// Entry is one file stored in a .pkg archive.
type Entry struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Package is an open Wallpaper Engine .pkg archive.
type Package struct {
	Version string
	entries map[string]Entry
	data    int64
	f       *os.File
}

func readPkgString(r io.Reader) (string, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return "", err
	}
	if size > maxPkgString {
		return "", fmt.Errorf("string length %d out of range", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// OpenPackage reads the archive index.
func OpenPackage(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := readIndex(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	utils.Debug("Package: %s version %s, %d files", path, p.Version, len(p.entries))
	return p, nil
}

func readIndex(f *os.File) (*Package, error) {
	version, err := readPkgString(f)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if !strings.HasPrefix(version, "PKGV") {
		return nil, fmt.Errorf("not a package: version %q", version)
	}

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read file count: %w", err)
	}

	p := &Package{Version: version, entries: make(map[string]Entry, count), f: f}
	for i := uint32(0); i < count; i++ {
		name, err := readPkgString(f)
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		var e Entry
		e.Name = filepath.ToSlash(name)
		if err := binary.Read(f, binary.LittleEndian, &e.Offset); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		if err := binary.Read(f, binary.LittleEndian, &e.Size); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		p.entries[e.Name] = e
	}

	p.data, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Names lists the archive entries in sorted order.
func (p *Package) Names() []string {
	out := make([]string, 0, len(p.entries))
	for name := range p.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open returns a reader over one entry.
func (p *Package) Open(name string) (*io.SectionReader, error) {
	e, ok := p.entries[strings.TrimPrefix(filepath.ToSlash(name), "/")]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return io.NewSectionReader(p.f, p.data+int64(e.Offset), int64(e.Size)), nil
}

// Close closes the archive file.
func (p *Package) Close() error {
	return p.f.Close()
}

// SplitPackagePath splits "archive.pkg#entry" into its parts. ok is false for
// plain file paths.
func SplitPackagePath(path string) (archive, entry string, ok bool) {
	archive, entry, ok = strings.Cut(path, PackageSeparator)
	if !ok || !strings.EqualFold(filepath.Ext(archive), ".pkg") || entry == "" {
		return path, "", false
	}
	return archive, entry, true
}

// ErrEmptyEntry is returned when an archive entry has no data.
var ErrEmptyEntry = errors.New("empty package entry")

// ReadEntry reads a whole entry of an archive.
func ReadEntry(archive, entry string) ([]byte, error) {
	p, err := OpenPackage(archive)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	r, err := p.Open(entry)
	if err != nil {
		return nil, err
	}
	if r.Size() == 0 {
		return nil, fmt.Errorf("%s%s%s: %w", archive, PackageSeparator, entry, ErrEmptyEntry)
	}
	return io.ReadAll(r)
}

// ErrUnsafeEntry is returned for entry names that would escape the
// extraction directory.
var ErrUnsafeEntry = errors.New("entry path escapes the output directory")

// Extract writes every entry below dir, creating directories as needed.
func (p *Package) Extract(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	names := p.Names()
	for i, name := range names {
		dest := filepath.Join(dir, filepath.FromSlash(name))
		if rel, err := filepath.Rel(dir, dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%s: %w", name, ErrUnsafeEntry)
		}
		if i%10 == 0 || i == len(names)-1 {
			utils.Debug("Unpacker: extracting file %d/%d: %s", i+1, len(names), name)
		}
		if err := p.extractOne(name, dest); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (p *Package) extractOne(name, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	r, err := p.Open(name)
	if err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
