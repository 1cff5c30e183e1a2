package utils

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "linux-shaderpaper"

// ShaderExtensions are the file extensions recognised as shader wallpapers.
var ShaderExtensions = []string{".frag", ".glsl"}

// BundledAssets is the fallback assets directory shipped next to the binary.
var BundledAssets = "assets"

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

func dataDirs() []string {
	dirs := os.Getenv("XDG_DATA_DIRS")
	if dirs == "" {
		dirs = "/usr/local/share:/usr/share"
	}
	var out []string
	for _, d := range strings.Split(dirs, ":") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ShaderDirs returns the shader search path in precedence order: the user-local
// data directory, every XDG_DATA_DIRS entry, then the bundled assets.
func ShaderDirs() []string {
	dirs := []string{filepath.Join(dataHome(), AppName, "shaders")}
	for _, d := range dataDirs() {
		dirs = append(dirs, filepath.Join(d, AppName, "shaders"))
	}
	return append(dirs, filepath.Join(BundledAssets, "shaders"))
}

// ConfigDir returns $XDG_CONFIG_HOME/linux-shaderpaper.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppName)
}

// StateDir returns $XDG_STATE_HOME/linux-shaderpaper.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", AppName)
}

func isShaderFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ShaderExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ResolveShaderPath finds a shader by path or by file name in the search path.
// Absolute and explicitly relative paths are returned as-is when they exist.
func ResolveShaderPath(name string, dirs []string) (string, bool) {
	if name == "" {
		return "", false
	}
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		if _, err := os.Stat(name); err == nil {
			return name, true
		}
		if filepath.IsAbs(name) {
			return "", false
		}
	}

	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = candidates[:0]
		for _, ext := range ShaderExtensions {
			candidates = append(candidates, name+ext)
		}
	}

	for _, dir := range dirs {
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

// ShaderFile is one entry found in the search path.
type ShaderFile struct {
	Name string // file name, the collision key
	Path string
}

// ListShaders walks dirs in precedence order; a file name seen in an earlier
// directory shadows the same name in later ones.
func ListShaders(dirs []string) []ShaderFile {
	seen := make(map[string]bool)
	var out []ShaderFile
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !isShaderFile(e.Name()) || seen[e.Name()] {
				continue
			}
			seen[e.Name()] = true
			out = append(out, ShaderFile{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
