package decode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
)

// sequenceEngine plays an ordered directory of images.
type sequenceEngine struct {
	files    []string
	interval time.Duration
	loop     bool
	budget   Allocator

	mu    sync.Mutex
	next  int
	epoch uint64
	maxW  int
	maxH  int
}

// SequenceFiles lists the images of a sequence directory in playback order.
func SequenceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if config.InferSourceType(e.Name()) != config.SourceImage {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Slice(files, func(i, j int) bool { return naturalLess(files[i], files[j]) })
	return files, nil
}

// OpenSequence returns an engine for an image directory played at fps.
func OpenSequence(dir string, fps float64, loop bool, budget Allocator) (Engine, error) {
	files, err := SequenceFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	if fps <= 0 {
		fps = config.DefaultSequenceFPS
	}
	return &sequenceEngine{
		files:    files,
		interval: time.Duration(float64(time.Second) / fps),
		loop:     loop,
		budget:   budget,
	}, nil
}

func (e *sequenceEngine) Interval() time.Duration { return e.interval }
func (e *sequenceEngine) Close() error            { return nil }

func (e *sequenceEngine) HintSize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxW, e.maxH = max(e.maxW, width), max(e.maxH, height)
}

func (e *sequenceEngine) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.next >= len(e.files) {
		if !e.loop {
			e.mu.Unlock()
			return nil, io.EOF
		}
		e.next = 0
		e.epoch++
	}
	idx, epoch := e.next, e.epoch
	maxW, maxH := e.maxW, e.maxH
	e.next++
	e.mu.Unlock()

	img, err := LoadImage(e.files[idx], maxW, maxH)
	if err != nil {
		return nil, err
	}
	p, buf, err := planeFrom(ctx, e.budget, img)
	if err != nil {
		return nil, err
	}
	f := NewFrame([]Plane{p}, time.Duration(idx)*e.interval, sdrColor, func() { e.budget.Release(buf) })
	f.Epoch = epoch
	return f, nil
}

// naturalLess orders "frame2" before "frame10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := a[0], b[0]
		if isDigit(ca) && isDigit(cb) {
			na, ra := splitDigits(a)
			nb, rb := splitDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			return ca < cb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func splitDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
