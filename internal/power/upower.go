package power

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/1broseidon/vidwall/internal/logging"
)

const (
	upowerService   = "org.freedesktop.UPower"
	upowerPath      = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerOnBattery = upowerService + ".OnBattery"
	propsInterface  = "org.freedesktop.DBus.Properties"
	propsChanged    = propsInterface + ".PropertiesChanged"
)

// UPower follows the OnBattery property of the UPower daemon on the system
// bus.
type UPower struct {
	broadcaster
	conn    *dbus.Conn
	signals chan *dbus.Signal
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewUPower connects to the system bus and reads the initial state. It fails
// when UPower is not running.
func NewUPower(ctx context.Context, logger *slog.Logger) (*UPower, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	obj := conn.Object(upowerService, upowerPath)
	v, err := obj.GetProperty(upowerOnBattery)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read %s: %w", upowerOnBattery, err)
	}
	onBattery, ok := v.Value().(bool)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%s has type %s, want bool", upowerOnBattery, v.Signature())
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(upowerPath),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch upower properties: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	u := &UPower{
		conn:    conn,
		signals: make(chan *dbus.Signal, 16),
		logger:  logging.OrDiscard(logger),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	u.state = onBattery
	conn.Signal(u.signals)
	go u.run(ctx)

	u.logger.Debug("upower monitor started", "on_battery", onBattery)
	return u, nil
}

func (u *UPower) run(ctx context.Context) {
	defer close(u.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-u.signals:
			if !ok {
				return
			}
			v, ok := onBatteryFromSignal(sig)
			if !ok {
				continue
			}
			if u.set(v) {
				u.logger.Info("power source changed", "on_battery", v)
			}
		}
	}
}

// onBatteryFromSignal extracts OnBattery from a PropertiesChanged signal.
func onBatteryFromSignal(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != propsChanged || sig.Path != upowerPath || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != upowerService {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed["OnBattery"]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func (u *UPower) Close() error {
	var err error
	u.once.Do(func() {
		u.cancel()
		u.conn.RemoveSignal(u.signals)
		err = u.conn.Close()
		<-u.done
		u.closeSubs()
	})
	return err
}
