package power

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/logging"
)

// DefaultSysfsRoot is where the kernel lists power supplies.
const DefaultSysfsRoot = "/sys/class/power_supply"

// DefaultPollInterval is how often the sysfs monitor rereads battery state.
const DefaultPollInterval = 5 * time.Second

// SysfsConfig configures NewSysfs.
type SysfsConfig struct {
	Root     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Sysfs polls battery status files.
type Sysfs struct {
	broadcaster
	root     string
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewSysfs reads the current state and starts polling.
func NewSysfs(ctx context.Context, cfg SysfsConfig) *Sysfs {
	if cfg.Root == "" {
		cfg.Root = DefaultSysfsRoot
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Sysfs{
		root:     cfg.Root,
		interval: cfg.Interval,
		logger:   logging.OrDiscard(cfg.Logger),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.state = s.read()
	go s.run(ctx)
	return s
}

func (s *Sysfs) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v := s.read(); s.set(v) {
				s.logger.Info("power source changed", "on_battery", v)
			}
		}
	}
}

func (s *Sysfs) read() bool {
	v, err := ReadBattery(s.root)
	if err != nil {
		s.logger.Debug("read battery status failed", "root", s.root, "error", err)
	}
	return v
}

// ReadBattery reports whether any battery under root is discharging.
// Supplies that declare a type other than Battery are ignored.
func ReadBattery(root string) (bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if kind, err := readTrimmed(filepath.Join(dir, "type")); err == nil && kind != "Battery" {
			continue
		}
		status, err := readTrimmed(filepath.Join(dir, "status"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, err
		}
		if status == "Discharging" {
			return true, nil
		}
	}
	return false, nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Sysfs) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.closeSubs()
	})
	return nil
}
