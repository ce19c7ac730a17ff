package signal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

// PlaceholderRSSI stands in for devices that do not report a signal strength.
const PlaceholderRSSI = -60

// Device is one discovered Bluetooth peer.
type Device struct {
	Address string
	Name    string
	RSSI    int16
	HasRSSI bool
}

// Scanner discovers nearby Bluetooth devices.
type Scanner interface {
	StartDiscovery() error
	StopDiscovery() error
	Devices(ctx context.Context) ([]Device, error)
}

// BlueZScanner reads discovered devices from BlueZ over the system D-Bus.
type BlueZScanner struct {
	conn    *dbus.Conn
	adapter string
}

// NewBlueZScanner connects to the system bus and checks the adapter exists.
func NewBlueZScanner(adapter string) (*BlueZScanner, error) {
	if adapter == "" {
		adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	s := &BlueZScanner{conn: conn, adapter: adapter}
	powered, err := s.adapterProperty("Powered")
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", adapter, err)
	}
	if on, _ := powered.Value().(bool); !on {
		return nil, fmt.Errorf("adapter %s is powered off", adapter)
	}
	return s, nil
}

func (s *BlueZScanner) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + s.adapter)
}

func (s *BlueZScanner) adapterProperty(name string) (dbus.Variant, error) {
	return s.conn.Object(bluezBus, s.adapterPath()).GetProperty(bluezAdapter1 + "." + name)
}

// StartDiscovery starts an LE discovery session on the adapter.
func (s *BlueZScanner) StartDiscovery() error {
	adapter := s.conn.Object(bluezBus, s.adapterPath())
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(true),
	}
	if call := adapter.Call(bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("set discovery filter: %w", call.Err)
	}
	if call := adapter.Call(bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("start discovery: %w", call.Err)
	}
	return nil
}

// StopDiscovery ends the discovery session.
func (s *BlueZScanner) StopDiscovery() error {
	call := s.conn.Object(bluezBus, s.adapterPath()).Call(bluezAdapter1+".StopDiscovery", 0)
	return call.Err
}

// Devices lists every device BlueZ currently knows under the adapter.
func (s *BlueZScanner) Devices(ctx context.Context) ([]Device, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := s.conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}

	prefix := string(s.adapterPath()) + "/"
	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		devices = append(devices, deviceFromProps(props))
	}
	return devices, nil
}

func deviceFromProps(props map[string]dbus.Variant) Device {
	var d Device
	if v, ok := props["Address"]; ok {
		d.Address, _ = v.Value().(string)
	}
	for _, key := range []string{"Name", "Alias"} {
		if v, ok := props[key]; ok {
			if name, _ := v.Value().(string); name != "" {
				d.Name = name
				break
			}
		}
	}
	if v, ok := props["RSSI"]; ok {
		d.RSSI, d.HasRSSI = v.Value().(int16)
	}
	return d
}

// BluetoothSource ranges nearby devices by their RSSI. It needs the
// bluetooth permission before the first scan.
type BluetoothSource struct {
	cadence

	gate    *Gate
	scanner Scanner
	logger  *zap.Logger

	mu         sync.Mutex
	discovered bool
}

// NewBluetooth creates a Bluetooth source over scanner.
func NewBluetooth(gate *Gate, scanner Scanner, logger *zap.Logger) *BluetoothSource {
	return &BluetoothSource{gate: gate, scanner: scanner, logger: logger}
}

func (b *BluetoothSource) Name() string { return "bluetooth" }

func (b *BluetoothSource) Start(cb func(Batch), opts Options) error {
	if b.active() {
		return ErrActive
	}
	if err := b.gate.require(CapBluetooth); err != nil {
		return err
	}
	if err := b.scanner.StartDiscovery(); err != nil {
		return err
	}
	b.mu.Lock()
	b.discovered = true
	b.mu.Unlock()

	return b.start(opts.interval(), func(ctx context.Context) {
		devices, err := b.scanner.Devices(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Warn("bluetooth scan failed", zap.Error(err))
			}
			return
		}
		emit(ctx, cb, Batch{Source: b.Name(), Kind: KindSignal, At: time.Now(), Readings: deviceReadings(devices)})
	})
}

func (b *BluetoothSource) Stop() {
	b.stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discovered {
		if err := b.scanner.StopDiscovery(); err != nil {
			b.logger.Debug("stop discovery failed", zap.Error(err))
		}
		b.discovered = false
	}
}

func (b *BluetoothSource) IsActive() bool { return b.active() }

func deviceReadings(devices []Device) []Reading {
	readings := make([]Reading, 0, len(devices))
	for _, d := range devices {
		if d.Address == "" {
			continue
		}
		rssi := float64(PlaceholderRSSI)
		if d.HasRSSI {
			rssi = float64(d.RSSI)
		}
		name := d.Name
		if name == "" {
			name = d.Address
		}
		readings = append(readings, Reading{
			Profile: domain.Profile{ID: "ble:" + d.Address, Name: name},
			RSSI:    rssi,
			HasRSSI: true,
		})
	}
	return readings
}
