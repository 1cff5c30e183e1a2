package main

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/convert"
	"linux-shaderpaper/internal/shader"
	"linux-shaderpaper/internal/utils"
	"linux-shaderpaper/internal/wallpaper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the shaders found in the search path",
	Long: `Lists shader files from $XDG_DATA_HOME/linux-shaderpaper/shaders, each
$XDG_DATA_DIRS entry and the bundled assets, in that order. A file name found
earlier hides the same name further down the path.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	inspectSource bool
	inspectCmd    = &cobra.Command{
		Use:   "inspect <shader>",
		Short: "Print a shader's metadata and estimated cost as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check shaders and configuration files",
	Long: `Parses the metadata block of each shader and builds its program source.
Files ending in .yaml or .yml are loaded and validated as configuration.
Exits non-zero when any file fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

var (
	statusFile string
	statusCmd  = &cobra.Command{
		Use:   "status",
		Short: "Show what the running daemon draws on each display",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
)

var (
	setShader string
	setImage  string
	setColor  string
	setFit    string
	setParams []string
	setCmd    = &cobra.Command{
		Use:   "set <display>",
		Short: "Change the wallpaper of a display in the configuration file",
		Long: `Writes the wallpaper of one display, or "default", into the configuration
file. A running daemon picks the change up from the file.

Examples:
  linux-shaderpaper set default --shader strange_wave.frag --param layers=20
  linux-shaderpaper set DP-1 --image ~/Pictures/sky.png --fit fit
  linux-shaderpaper set HDMI-1 --color "#202030"`,
		Args: cobra.ExactArgs(1),
		RunE: runSet,
	}
)

var (
	convertCache string
	convertCmd   = &cobra.Command{
		Use:   "convert <image> [output.png]",
		Short: "Decode a Wallpaper Engine texture or any supported image to PNG",
		Long: `Decodes a .tex texture, an entry of a .pkg archive written as
"scene.pkg#materials/name.tex", or a regular image, and writes it as PNG.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runConvert,
	}
)

var (
	unpackList bool
	unpackCmd  = &cobra.Command{
		Use:   "unpack <scene.pkg> [dir]",
		Short: "Extract a Wallpaper Engine package",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runUnpack,
	}
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectSource, "source", false, "print the generated GLSL program instead")
	statusCmd.Flags().StringVar(&statusFile, "file", "", "status file (default $XDG_STATE_HOME/linux-shaderpaper/status.yaml)")

	setCmd.Flags().StringVar(&setShader, "shader", "", "shader file name or path")
	setCmd.Flags().StringVar(&setImage, "image", "", "image path, optionally archive.pkg#entry")
	setCmd.Flags().StringVar(&setColor, "color", "", "solid color as #rrggbb")
	setCmd.Flags().StringVar(&setFit, "fit", "", "image fit: fill, fit, stretch or center")
	setCmd.Flags().StringArrayVarP(&setParams, "param", "p", nil, "shader parameter override name=value, repeatable")
	setCmd.MarkFlagsMutuallyExclusive("shader", "image", "color")
	setCmd.MarkFlagsOneRequired("shader", "image", "color")

	convertCmd.Flags().StringVar(&convertCache, "cache", "", "directory caching converted textures")
	unpackCmd.Flags().BoolVarP(&unpackList, "list", "l", false, "only list the entries")
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dirs := utils.ShaderDirs()
	files := utils.ListShaders(dirs)
	if len(files) == 0 {
		fmt.Fprintf(out, "no shaders found in %s\n", strings.Join(dirs, ", "))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tNAME\tPARAMS\tPATH")
	for _, f := range files {
		name, params := "-", "-"
		s, err := shader.ParseFile(f.Path)
		switch {
		case err != nil:
			name = "(invalid)"
		case s.Descriptor.Name != "":
			name = s.Descriptor.Name
		}
		if err == nil {
			params = strconv.Itoa(len(s.Descriptor.Parameters))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, name, params, f.Path)
	}
	return w.Flush()
}

func resolveShader(name string) (string, error) {
	path, ok := utils.ResolveShaderPath(name, utils.ShaderDirs())
	if !ok {
		return "", fmt.Errorf("shader %q not found", name)
	}
	return path, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path, err := resolveShader(args[0])
	if err != nil {
		return err
	}
	s, err := shader.ParseFile(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if inspectSource {
		prog, err := shader.Preprocess(s)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, err = fmt.Fprint(out, prog.Fragment)
		return err
	}

	doc := struct {
		Path              string `yaml:"path"`
		HasMetadata       bool   `yaml:"has_metadata"`
		shader.Descriptor `yaml:",inline"`
		Complexity        shader.Complexity `yaml:"complexity"`
	}{Path: path, HasMetadata: s.HasMetadata, Descriptor: s.Descriptor, Complexity: shader.Analyze(s, nil)}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func isConfigFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func validateFile(path string) (string, error) {
	if isConfigFile(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return "", err
		}
		if err := cfg.Validate(); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d displays", len(cfg.Displays)), nil
	}

	s, err := shader.ParseFile(path)
	if err != nil {
		return "", err
	}
	if _, err := shader.Preprocess(s); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if !s.HasMetadata {
		return "no metadata block", nil
	}
	return fmt.Sprintf("%d parameters", len(s.Descriptor.Parameters)), nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		summary, err := validateFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s)\n", path, summary)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := statusFile
	if path == "" {
		path = config.DefaultStatusPath()
	}
	displays, err := config.ReadStatus(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no status at %s, is the daemon running?", path)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISPLAY\tSTATE\tCONTENT\tWALLPAPER\tNOTE")
	for _, d := range displays {
		state := d.State
		if d.Reason != "" {
			state += " (" + d.Reason + ")"
		}
		note := d.Error
		if d.Degraded {
			note = strings.TrimSpace("degraded " + note)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Display, state, d.Content, d.Wallpaper, note)
	}
	return w.Flush()
}

func parseParams(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]float64, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	return params, nil
}

func specFromFlags() (wallpaper.Spec, error) {
	if len(setParams) > 0 && setShader == "" {
		return wallpaper.Spec{}, errors.New("--param only applies to --shader")
	}
	if setFit != "" && setImage == "" {
		return wallpaper.Spec{}, errors.New("--fit only applies to --image")
	}
	switch {
	case setShader != "":
		params, err := parseParams(setParams)
		if err != nil {
			return wallpaper.Spec{}, err
		}
		return wallpaper.ShaderSpec(setShader, params), nil
	case setImage != "":
		return wallpaper.ImageSpec(setImage, wallpaper.Fit(setFit)), nil
	}
	c, err := wallpaper.ParseColor(setColor)
	if err != nil {
		return wallpaper.Spec{}, err
	}
	return wallpaper.ColorSpec(c.RGBA()), nil
}

func runSet(cmd *cobra.Command, args []string) error {
	spec, err := specFromFlags()
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name := args[0]
	d := cfg.Displays[name]
	d.Spec = spec
	if cfg.Displays == nil {
		cfg.Displays = make(map[string]config.DisplayConfig)
	}
	cfg.Displays[name] = d
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, spec)
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	src := args[0]
	img, err := wallpaper.LoadImage(src, convertCache)
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}

	dst := ""
	if len(args) > 1 {
		dst = args[1]
	} else {
		base := src
		if _, entry, ok := convert.SplitPackagePath(src); ok {
			base = entry
		}
		base = filepath.Base(base)
		dst = strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	b := img.Bounds()
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%dx%d)\n", src, dst, b.Dx(), b.Dy())
	return nil
}

func runUnpack(cmd *cobra.Command, args []string) error {
	p, err := convert.OpenPackage(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	out := cmd.OutOrStdout()
	if unpackList {
		for _, name := range p.Names() {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	dir := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	if len(args) > 1 {
		dir = args[1]
	}
	if err := p.Extract(dir); err != nil {
		return err
	}
	fmt.Fprintf(out, "extracted %d files to %s\n", len(p.Names()), dir)
	return nil
}
