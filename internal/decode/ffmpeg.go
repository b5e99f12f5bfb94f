package decode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/logging"
)

// ErrNoVideoStream is returned when ffprobe finds no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// StreamInfo is what ffprobe reports about the first video stream.
type StreamInfo struct {
	Width    int
	Height   int
	FPS      float64
	Duration time.Duration
	Color    colorspace.Metadata
}

type ffprobeOutput struct {
	Streams []struct {
		Width          int    `json:"width"`
		Height         int    `json:"height"`
		RFrameRate     string `json:"r_frame_rate"`
		AvgFrameRate   string `json:"avg_frame_rate"`
		ColorTransfer  string `json:"color_transfer"`
		ColorPrimaries string `json:"color_primaries"`
		ColorSpace     string `json:"color_space"`
		SideData       []struct {
			Type         string `json:"side_data_type"`
			MaxLuminance string `json:"max_luminance"`
			MinLuminance string `json:"min_luminance"`
			MaxContent   int    `json:"max_content"`
			MaxAverage   int    `json:"max_average"`
			DVProfile    int    `json:"dv_profile"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseStreamInfo decodes `ffprobe -of json` output.
func ParseStreamInfo(data []byte) (StreamInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return StreamInfo{}, ErrNoVideoStream
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid stream size %dx%d", s.Width, s.Height)
	}

	info := StreamInfo{Width: s.Width, Height: s.Height}
	info.FPS = parseRate(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}
	if info.FPS <= 0 || info.FPS > 240 {
		info.FPS = 30
	}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}

	meta := colorspace.Metadata{
		Transfer:  colorspace.ParseTransfer(s.ColorTransfer),
		Space:     colorspace.ParseSpace(s.ColorPrimaries),
		Primaries: s.ColorPrimaries,
	}
	if meta.Space == colorspace.SpaceUnknown {
		meta.Space = colorspace.ParseSpace(s.ColorSpace)
	}
	if meta.Transfer == colorspace.TransferHLG {
		meta.Space = colorspace.SpaceHLG
	}
	for _, sd := range s.SideData {
		switch {
		case strings.Contains(sd.Type, "Mastering display"):
			if v := parseRate(sd.MaxLuminance); v > 0 {
				meta.MaxLuminance = v
			}
			if v := parseRate(sd.MinLuminance); v > 0 {
				meta.MinLuminance = v
			}
		case strings.Contains(sd.Type, "Content light level"):
			if sd.MaxContent > 0 && meta.MaxLuminance == 0 {
				meta.MaxLuminance = float64(sd.MaxContent)
			}
			if sd.MaxAverage > 0 {
				meta.AvgLuminance = float64(sd.MaxAverage)
			}
		case strings.Contains(sd.Type, "DOVI"), strings.Contains(sd.Type, "Dolby Vision"):
			meta.Space = colorspace.SpaceDolbyVision
		}
	}
	info.Color = meta
	return info, nil
}

// parseRate parses "30000/1001" or "29.97".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FFmpegConfig configures OpenFFmpeg.
type FFmpegConfig struct {
	FFmpegPath string
	Path       string
	HWDec      bool
	Loop       bool
	Start      time.Duration
	Budget     Allocator
	Logger     *slog.Logger
}

func (c FFmpegConfig) binaries() (ffmpeg, ffprobe string) {
	if c.FFmpegPath == "" {
		return "ffmpeg", "ffprobe"
	}
	return c.FFmpegPath, filepath.Join(filepath.Dir(c.FFmpegPath), "ffprobe")
}

// ffmpegArgs builds the decoder command line for a start offset.
func ffmpegArgs(path string, hwdec bool, start time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if hwdec {
		args = append(args, "-hwaccel", "auto")
	}
	if start > 0 {
		args = append(args, "-ss", strconv.FormatFloat(start.Seconds(), 'f', 3, 64))
	}
	return append(args,
		"-i", path,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

// ffmpegEngine streams rawvideo RGBA from an ffmpeg subprocess.
type ffmpegEngine struct {
	cfg      FFmpegConfig
	info     StreamInfo
	interval time.Duration
	logger   *slog.Logger

	// mu serializes Next and process restarts.
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *bufio.Reader
	stderr *tailWriter
	start  time.Duration
	frames int64
	epoch  uint64

	procMu sync.Mutex
	cancel context.CancelFunc
	closed atomic.Bool
}

// OpenFFmpeg reads the stream info with ffprobe and starts decoding at cfg.Start.
func OpenFFmpeg(ctx context.Context, cfg FFmpegConfig) (Engine, error) {
	if cfg.Budget == nil {
		return nil, fmt.Errorf("ffmpeg: no buffer budget")
	}
	_, ffprobe := cfg.binaries()
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,color_transfer,color_primaries,color_space:stream_side_data:format=duration",
		"-of", "json",
		cfg.Path,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", cfg.Path, err)
	}
	info, err := ParseStreamInfo(out)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", cfg.Path, err)
	}

	e := &ffmpegEngine{
		cfg:      cfg,
		info:     info,
		interval: time.Duration(float64(time.Second) / info.FPS),
		logger:   logging.OrDiscard(cfg.Logger),
	}
	start := cfg.Start
	if info.Duration > 0 && start >= info.Duration {
		start = 0
	}
	if err := e.spawn(start); err != nil {
		return nil, err
	}
	e.logger.Info("video opened",
		"source", cfg.Path,
		"size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"fps", info.FPS,
		"color", info.Color.Describe(),
		"start", start,
	)
	return e, nil
}

// Info returns the stream description ffprobe reported.
func (e *ffmpegEngine) Info() StreamInfo { return e.info }

func (e *ffmpegEngine) Interval() time.Duration { return e.interval }

func (e *ffmpegEngine) spawn(start time.Duration) error {
	ffmpeg, _ := e.cfg.binaries()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpeg, ffmpegArgs(e.cfg.Path, e.cfg.HWDec, start)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	tail := &tailWriter{limit: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	e.procMu.Lock()
	e.cancel = cancel
	e.procMu.Unlock()
	if e.closed.Load() {
		cancel()
	}
	e.cmd = cmd
	e.stdout = bufio.NewReaderSize(stdout, 1<<20)
	e.stderr = tail
	e.start = start
	e.frames = 0
	return nil
}

func (e *ffmpegEngine) reap() error {
	if e.cmd == nil {
		return nil
	}
	err := e.cmd.Wait()
	e.procMu.Lock()
	e.cancel()
	e.procMu.Unlock()
	e.cmd = nil
	return err
}

func (e *ffmpegEngine) Next(ctx context.Context) (*Frame, error) {
	size := e.info.Width * e.info.Height * 4
	buf, err := e.cfg.Budget.Acquire(ctx, size)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if e.closed.Load() {
			e.cfg.Budget.Release(buf)
			return nil, io.ErrClosedPipe
		}
		_, err := io.ReadFull(e.stdout, buf)
		if err != nil && e.closed.Load() {
			e.cfg.Budget.Release(buf)
			return nil, io.ErrClosedPipe
		}
		if err == nil {
			pts := e.start + time.Duration(e.frames)*e.interval
			e.frames++
			p := Plane{Pix: buf, Width: e.info.Width, Height: e.info.Height, Stride: e.info.Width * 4, Opacity: 1, Scale: 1}
			f := NewFrame([]Plane{p}, pts, e.info.Color, func() { e.cfg.Budget.Release(buf) })
			f.Epoch = e.epoch
			return f, nil
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			e.cfg.Budget.Release(buf)
			return nil, fmt.Errorf("read frame: %w", err)
		}

		// The stream ended: a clean exit after at least one frame is the end
		// of the file, anything else is a decode failure.
		frames := e.frames
		waitErr := e.reap()
		if waitErr != nil || frames == 0 {
			e.cfg.Budget.Release(buf)
			return nil, e.exitError(waitErr)
		}
		if !e.cfg.Loop || attempt > 0 {
			e.cfg.Budget.Release(buf)
			return nil, io.EOF
		}
		e.epoch++
		if err := e.spawn(0); err != nil {
			e.cfg.Budget.Release(buf)
			return nil, err
		}
	}
}

func (e *ffmpegEngine) exitError(err error) error {
	msg := strings.TrimSpace(e.stderr.String())
	switch {
	case err != nil && msg != "":
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	case err != nil:
		return fmt.Errorf("ffmpeg: %w", err)
	case msg != "":
		return fmt.Errorf("ffmpeg produced no frames: %s", msg)
	}
	return errors.New("ffmpeg produced no frames")
}

// Close kills the decoder, unblocking a pending Next, and reaps it.
func (e *ffmpegEngine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.procMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.procMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.reap()
	return nil
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
