package decode

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
)

// Params are the decode parameters that take part in the session key.
// Presentational settings (layout, opacity of the output) never do.
type Params struct {
	HWDec bool
	Loop  bool
	Start time.Duration
}

// Key identifies a decode session. Outputs whose keys are equal share one
// session.
type Key struct {
	Type  config.SourceType
	Path  string // absolute; empty for scenes
	FPS   float64
	HWDec bool
	Loop  bool
	Start time.Duration
	// Layers are the scene layers with absolute image paths.
	Layers []config.SceneLayer
}

// NewKey canonicalizes a configured source.
func NewKey(src config.Source, p Params) (Key, error) {
	if src.IsZero() {
		return Key{}, fmt.Errorf("empty source")
	}
	k := Key{Type: src.Type, FPS: src.FPS}
	if k.Type == "" {
		k.Type = config.InferSourceType(src.Path)
	}

	switch k.Type {
	case config.SourceScene:
		if len(src.Layers) == 0 {
			return Key{}, fmt.Errorf("scene has no layers")
		}
		for _, l := range src.Layers {
			abs, err := filepath.Abs(l.Image)
			if err != nil {
				return Key{}, fmt.Errorf("scene layer %q: %w", l.Image, err)
			}
			l.Image = filepath.Clean(abs)
			k.Layers = append(k.Layers, l)
		}
		k.FPS = 0
	case config.SourceVideo:
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return Key{}, err
		}
		k.Path = filepath.Clean(abs)
		k.HWDec, k.Loop, k.Start = p.HWDec, p.Loop, p.Start
		k.FPS = 0
	case config.SourceSequence:
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return Key{}, err
		}
		k.Path = filepath.Clean(abs)
		k.Loop = p.Loop
		if k.FPS <= 0 {
			k.FPS = config.DefaultSequenceFPS
		}
	case config.SourceImage:
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return Key{}, err
		}
		k.Path = filepath.Clean(abs)
		k.FPS = 0
	default:
		return Key{}, fmt.Errorf("unknown source type %q", k.Type)
	}
	return k, nil
}

// String is the canonical text form used for deduplication and as the
// playback-position key.
func (k Key) String() string {
	q := url.Values{}
	switch k.Type {
	case config.SourceVideo:
		q.Set("hwdec", strconv.FormatBool(k.HWDec))
		q.Set("loop", strconv.FormatBool(k.Loop))
		if k.Start > 0 {
			q.Set("start", k.Start.String())
		}
	case config.SourceSequence:
		q.Set("fps", fmtFloat(k.FPS))
		q.Set("loop", strconv.FormatBool(k.Loop))
	case config.SourceScene:
		parts := make([]string, 0, len(k.Layers))
		for _, l := range k.Layers {
			parts = append(parts, strings.Join([]string{
				l.Image,
				string(l.Blend),
				fmtFloat(l.Opacity),
				fmtFloat(l.Scale),
				fmtFloat(l.OffsetX),
				fmtFloat(l.OffsetY),
			}, "|"))
		}
		q.Set("layers", strings.Join(parts, ";"))
	}
	s := string(k.Type) + ":" + k.Path
	if enc := q.Encode(); enc != "" {
		s += "?" + enc
	}
	return s
}

// PositionKey is the key under which playback position is persisted. It
// ignores the start offset so a resumed session finds its own record.
func (k Key) PositionKey() string {
	return string(k.Type) + ":" + k.Path
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
