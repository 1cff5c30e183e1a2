package power

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"linux-shaderpaper/internal/utils"
)

const (
	upowerDest          = "org.freedesktop.UPower"
	upowerPath          = "/org/freedesktop/UPower"
	upowerDisplayDevice = "/org/freedesktop/UPower/devices/DisplayDevice"
	upowerIface         = "org.freedesktop.UPower"
	upowerDeviceIface   = "org.freedesktop.UPower.Device"
	propertiesIface     = "org.freedesktop.DBus.Properties"

	// deviceTypeBattery is the UPower device type of a battery.
	deviceTypeBattery = 2

	// DefaultRefresh re-reads the state in case a signal was missed.
	DefaultRefresh = time.Minute
)

// UPower is a Source reading org.freedesktop.UPower on the system bus.
type UPower struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	refresh time.Duration

	mu    sync.Mutex
	state State

	changes   chan State
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Source = (*UPower)(nil)

// NewUPower connects to the system bus and subscribes to UPower property
// changes. refresh <= 0 uses DefaultRefresh.
func NewUPower(refresh time.Duration) (*UPower, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	u := &UPower{
		conn:    conn,
		signals: make(chan *dbus.Signal, 16),
		refresh: refresh,
		changes: make(chan State, 1),
		done:    make(chan struct{}),
	}

	st, err := u.read()
	if err != nil {
		conn.Close()
		return nil, err
	}
	u.state = st

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(upowerPath),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to UPower: %w", err)
	}
	conn.Signal(u.signals)

	utils.Info("Power: %s", st)
	u.wg.Add(1)
	go u.loop()
	return u, nil
}

func (u *UPower) Current() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *UPower) Changes() <-chan State { return u.changes }

func (u *UPower) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		u.conn.RemoveSignal(u.signals)
		err = u.conn.Close()
		u.wg.Wait()
		close(u.changes)
	})
	return err
}

func (u *UPower) loop() {
	defer u.wg.Done()
	ticker := time.NewTicker(u.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-u.done:
			return
		case sig, ok := <-u.signals:
			if !ok {
				return
			}
			if sig.Name != propertiesIface+".PropertiesChanged" {
				continue
			}
		case <-ticker.C:
		}

		st, err := u.read()
		if err != nil {
			utils.Debug("Power: refresh failed: %v", err)
			continue
		}
		u.mu.Lock()
		changed := st != u.state
		u.state = st
		u.mu.Unlock()
		if changed {
			utils.Info("Power: %s", st)
			offer(u.changes, st)
		}
	}
}

func (u *UPower) getAll(path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := u.conn.Object(upowerDest, path).Call(propertiesIface+".GetAll", 0, iface).Store(&props)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", path, iface, err)
	}
	return props, nil
}

func (u *UPower) read() (State, error) {
	daemon, err := u.getAll(upowerPath, upowerIface)
	if err != nil {
		return State{}, err
	}
	// Machines without batteries may not expose a display device.
	device, err := u.getAll(upowerDisplayDevice, upowerDeviceIface)
	if err != nil {
		device = nil
	}
	return parseState(daemon, device), nil
}

// parseState builds a State from the UPower daemon and display device
// property maps.
func parseState(daemon, device map[string]dbus.Variant) State {
	var st State
	st.OnBattery, _ = variant[bool](daemon, "OnBattery")
	if present, _ := variant[bool](daemon, "LidIsPresent"); present {
		st.LidClosed, _ = variant[bool](daemon, "LidIsClosed")
	}

	present, _ := variant[bool](device, "IsPresent")
	typ, _ := variant[uint32](device, "Type")
	if present && typ == deviceTypeBattery {
		st.HasBattery = true
		st.Percentage, _ = variant[float64](device, "Percentage")
	}
	return st
}

func variant[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}
