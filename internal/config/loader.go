package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type OriginKind string

const (
	OriginDefault OriginKind = "default"
	OriginFile    OriginKind = "file"
)

// Origin is where a setting was last written.
type Origin struct {
	Kind   OriginKind
	Name   string // for defaults
	File   string
	Line   int
	Column int
}

type LoadResult struct {
	Config  *Config
	Origins map[string]Origin // setting path -> last writer
	Files   []string          // every file read, includes before their parent
}

// DefaultConfigPath is $XDG_CONFIG_HOME/vidwall/config.yaml, falling back
// to ~/.config.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "vidwall", "config.yaml"), nil
}

// Load reads the configuration from the standard location.
func Load() (*Config, error) {
	res, err := LoadWithSources()
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadWithSources is Load with per-setting origins for explain.
func LoadWithSources() (*LoadResult, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads path and everything it includes. A missing file is
// not an error: the daemon runs on defaults until one appears and is
// reloaded.
func LoadFromPath(path string) (*LoadResult, error) {
	w := &layerWalker{seen: make(map[string]bool)}
	if _, err := os.Stat(path); err == nil {
		if err := w.visit(path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	raw, origins := fold(w.layers)
	cfg, err := BuildEffectiveConfig(raw)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, locate(err, origins)
	}

	files := make([]string, 0, len(w.layers))
	for _, l := range w.layers {
		files = append(files, l.file)
	}
	return &LoadResult{Config: cfg, Origins: origins, Files: files}, nil
}

// layer is one config file: its settings, with relative media paths
// already resolved against the file's directory, and where each setting
// was written.
type layer struct {
	file    string
	raw     RawConfig
	origins map[string]Origin
}

// includeOrigin is the position of the i-th include entry. A scalar
// include has no index.
func (l layer) includeOrigin(i int) Origin {
	if o, ok := l.origins[fmt.Sprintf("include[%d]", i)]; ok {
		return o
	}
	return l.origins["include"]
}

// layerWalker reads a config file and its includes depth first. Layers
// come out lowest precedence first: every include before the file that
// names it, in the order they are named.
type layerWalker struct {
	seen   map[string]bool
	stack  []string
	layers []layer
}

func (w *layerWalker) visit(path string) error {
	file := canonicalPath(path)
	if slices.Contains(w.stack, file) {
		return fmt.Errorf("include cycle detected: %s -> %s", strings.Join(w.stack, " -> "), file)
	}
	if w.seen[file] {
		return nil
	}
	w.seen[file] = true

	l, err := readLayer(file)
	if err != nil {
		return err
	}

	w.stack = append(w.stack, file)
	defer func() { w.stack = w.stack[:len(w.stack)-1] }()
	for i, inc := range l.raw.Include {
		targets, err := includeTargets(file, inc)
		if err != nil {
			at := l.includeOrigin(i)
			return fmt.Errorf("%s:%d:%d: include %q: %w", file, at.Line, at.Column, inc, err)
		}
		for _, t := range targets {
			if err := w.visit(t); err != nil {
				return err
			}
		}
	}
	w.layers = append(w.layers, l)
	return nil
}

func readLayer(file string) (layer, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return layer{}, fmt.Errorf("%s: failed to read: %w", file, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return layer{}, fmt.Errorf("%s: failed to parse yaml: %w", file, err)
	}

	l := layer{file: file, origins: make(map[string]Origin)}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l.raw); err != nil && !errors.Is(err, io.EOF) {
		return layer{}, fmt.Errorf("%s: %w", file, err)
	}
	record(&doc, file, "", l.origins)
	l.raw.anchor(filepath.Dir(file))
	return l, nil
}

// record notes the position of every setting under node. Mapping keys
// become dotted paths and sequence items path[i], the paths that
// ValidationError and Explain use.
func record(node *yaml.Node, file, path string, out map[string]Origin) {
	child := func(p string, n *yaml.Node) {
		out[p] = Origin{Kind: OriginFile, File: file, Line: n.Line, Column: n.Column}
		record(n, file, p, out)
	}
	switch node.Kind {
	case yaml.DocumentNode:
		for _, n := range node.Content {
			record(n, file, path, out)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			child(key, node.Content[i+1])
		}
	case yaml.SequenceNode:
		for i, n := range node.Content {
			child(fmt.Sprintf("%s[%d]", path, i), n)
		}
	}
}

// fold overlays layers in order. Scalar settings take the last writer.
// Output rules merge by selector: a layer's rules rank ahead of the
// rules it includes and replace any with the same match. Origins follow
// the rules to their merged index.
func fold(layers []layer) (RawConfig, map[string]Origin) {
	var raw RawConfig
	origins := make(map[string]Origin)
	for _, l := range layers {
		raw = raw.merge(l.raw)
		if l.raw.Outputs != nil {
			rules, moved := mergeRules(raw.Outputs, l.raw.Outputs)
			raw.Outputs = rules
			origins = moveRuleOrigins(origins, moved)
		}
		for p, o := range l.origins {
			origins[p] = o
		}
	}
	return raw, origins
}

// moveRuleOrigins renumbers outputs[i] paths by moved, dropping those of
// replaced rules.
func moveRuleOrigins(origins map[string]Origin, moved []int) map[string]Origin {
	out := make(map[string]Origin, len(origins))
	for p, o := range origins {
		i, field, ok := splitRulePath(p)
		if !ok {
			out[p] = o
			continue
		}
		if i >= len(moved) || moved[i] < 0 {
			continue
		}
		out[rulePath(moved[i], field)] = o
	}
	return out
}

// includeTargets resolves one include entry against the including file.
// A directory contributes its YAML files in name order, the usual
// config.d drop-in layout.
func includeTargets(from, inc string) ([]string, error) {
	if strings.TrimSpace(inc) == "" {
		return nil, errors.New("path is empty")
	}
	target := anchorPath(filepath.Dir(from), expandHome(inc))
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				files = append(files, filepath.Join(target, e.Name()))
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

// anchorPath joins a relative path onto dir. Absolute, home-relative
// and empty paths pass through.
func anchorPath(dir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "~") {
		return p
	}
	return filepath.Join(dir, p)
}

// canonicalPath makes path absolute and resolves symlinks where it can,
// so one file reached two ways is read once.
func canonicalPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

// locate points a validation error at the file position of its setting,
// or of the nearest enclosing one.
func locate(err error, origins map[string]Origin) error {
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Path == "" {
		return err
	}
	for p := verr.Path; p != ""; p = parentPath(p) {
		if o, ok := origins[p]; ok {
			verr.Origin = o
			break
		}
	}
	return err
}

func parentPath(path string) string {
	i := strings.LastIndexAny(path, ".[")
	if i <= 0 {
		return ""
	}
	return path[:i]
}
