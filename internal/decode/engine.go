package decode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/logging"
)

// Engine produces frames for one source. Next returns io.EOF when
// non-looping content ends; static engines block in Next until they have
// something new to show or ctx is done.
type Engine interface {
	Next(ctx context.Context) (*Frame, error)
	// Interval is the content frame interval, zero for static content.
	Interval() time.Duration
	Close() error
}

// SizeHinter is implemented by engines that scale their output to the
// largest output showing them.
type SizeHinter interface {
	HintSize(width, height int)
}

// PositionStore persists playback positions by key.
type PositionStore interface {
	Position(key string) (time.Duration, bool, error)
	SetPosition(key string, pos time.Duration) error
}

// Opener starts an engine for a key.
type Opener func(ctx context.Context, key Key) (Engine, error)

// EngineConfig configures the default engines.
type EngineConfig struct {
	FFmpegPath string
	Budget     *Budget
	Positions  PositionStore
	Resume     bool
	Logger     *slog.Logger
}

// NewOpener returns an Opener that dispatches on the key's source type.
// Every engine draws its buffers from its own account on the shared budget.
func NewOpener(cfg EngineConfig) Opener {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.Budget == nil {
		cfg.Budget = NewBudget(config.DefaultMaxBuffers, config.DefaultMaxMemoryMB)
	}
	return func(ctx context.Context, key Key) (Engine, error) {
		switch key.Type {
		case config.SourceVideo:
			start := key.Start
			if cfg.Resume && cfg.Positions != nil {
				pos, ok, err := cfg.Positions.Position(key.PositionKey())
				switch {
				case err != nil:
					cfg.Logger.Warn("load playback position failed", "source", key.Path, "error", err)
				case ok:
					start = pos
				}
			}
			return OpenFFmpeg(ctx, FFmpegConfig{
				FFmpegPath: cfg.FFmpegPath,
				Path:       key.Path,
				HWDec:      key.HWDec,
				Loop:       key.Loop,
				Start:      start,
				Budget:     cfg.Budget.NewAccount(DefaultReserve),
				Logger:     cfg.Logger,
			})
		case config.SourceImage:
			return OpenImage(key.Path, cfg.Budget.NewAccount(DefaultReserve))
		case config.SourceSequence:
			return OpenSequence(key.Path, key.FPS, key.Loop, cfg.Budget.NewAccount(DefaultReserve))
		case config.SourceScene:
			// One buffer per layer for the shown frame and for a rebuild.
			return OpenScene(key.Layers, cfg.Budget.NewAccount(DefaultReserve*len(key.Layers)))
		}
		return nil, fmt.Errorf("unknown source type %q", key.Type)
	}
}
