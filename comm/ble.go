package comm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BLEDialer scans for a peripheral advertising Service, connects to it and
// writes commands to its Characteristic.
type BLEDialer struct {
	Adapter        *bluetooth.Adapter
	Name           string
	Service        string
	Characteristic string
	ScanTimeout    time.Duration
	Logger         *zap.SugaredLogger

	initOnce sync.Once
	initErr  error
	service  bluetooth.UUID
	char     bluetooth.UUID

	lock    sync.Mutex
	current *bleLink
}

func (d *BLEDialer) init() error {
	d.initOnce.Do(func() {
		if d.Adapter == nil {
			d.Adapter = bluetooth.DefaultAdapter
		}
		var err error
		if d.service, err = bluetooth.ParseUUID(d.Service); err != nil {
			d.initErr = errors.Wrapf(err, "invalid service uuid %q", d.Service)
			return
		}
		if d.char, err = bluetooth.ParseUUID(d.Characteristic); err != nil {
			d.initErr = errors.Wrapf(err, "invalid characteristic uuid %q", d.Characteristic)
			return
		}
		if err = d.Adapter.Enable(); err != nil {
			d.initErr = errors.Wrap(err, "bluetooth init failed")
			return
		}
		d.Adapter.SetConnectHandler(d.onConnectEvent)
	})
	return d.initErr
}

func (d *BLEDialer) onConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	d.lock.Lock()
	l := d.current
	d.lock.Unlock()
	if l != nil && l.address == device.Address.String() {
		d.Logger.Warnf("device %s disconnected", l.address)
		l.fail(errors.Wrapf(ErrLinkGone, "%s disconnected", l.address))
	}
}

func (d *BLEDialer) Dial(ctx context.Context) (Link, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	d.Logger.Infof("scanning for BLE devices with service %s", d.Service)
	result, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}
	d.Logger.Infof("device found: %s (%s)", result.LocalName(), result.Address.String())

	device, err := d.Adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s failed", result.Address.String())
	}

	char, err := d.discover(device)
	if err != nil {
		return nil, multierr.Append(err, device.Disconnect())
	}

	l := &bleLink{
		linkState: newLinkState(),
		name:      result.LocalName(),
		address:   result.Address.String(),
		device:    device,
		char:      char,
	}
	d.lock.Lock()
	d.current = l
	d.lock.Unlock()
	return l, nil
}

func (d *BLEDialer) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	var found bluetooth.ScanResult
	var ok bool

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		timeout := time.NewTimer(d.ScanTimeout)
		defer timeout.Stop()
		select {
		case <-ctx.Done():
		case <-timeout.C:
		case <-stop:
			return
		}
		_ = d.Adapter.StopScan()
	}()

	err := d.Adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(d.service) {
			return
		}
		if d.Name != "" && !strings.EqualFold(result.LocalName(), d.Name) {
			return
		}
		found = result
		ok = true
		_ = adapter.StopScan()
	})
	if err != nil {
		return found, errors.Wrap(err, "scan failed")
	}
	if ctx.Err() != nil {
		return found, ctx.Err()
	}
	if !ok {
		return found, errors.Errorf("no device with service %s found within %v", d.Service, d.ScanTimeout)
	}
	return found, nil
}

func (d *BLEDialer) discover(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	var char bluetooth.DeviceCharacteristic
	services, err := device.DiscoverServices([]bluetooth.UUID{d.service})
	if err != nil {
		return char, errors.Wrap(err, "service discovery failed")
	}
	if len(services) == 0 {
		return char, errors.Errorf("service %s not found", d.Service)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{d.char})
	if err != nil {
		return char, errors.Wrap(err, "characteristic discovery failed")
	}
	if len(chars) == 0 {
		return char, errors.Errorf("characteristic %s not found", d.Characteristic)
	}
	return chars[0], nil
}

type bleLink struct {
	*linkState
	name    string
	address string

	writeLock sync.Mutex
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic
	closeOnce sync.Once
	closeErr  error
}

func (l *bleLink) Name() string {
	return "ble:" + l.name
}

func (l *bleLink) Write(p []byte) error {
	if l.gone() {
		return errors.Wrapf(ErrLinkGone, "write to %s", l.address)
	}
	l.writeLock.Lock()
	_, err := l.char.WriteWithoutResponse(p)
	l.writeLock.Unlock()
	if err == nil {
		return nil
	}
	// The connect handler may have fired while the write was in flight.
	if l.gone() {
		return errors.Wrapf(ErrLinkGone, "write to %s: %v", l.address, err)
	}
	return errors.Wrapf(err, "write to %s", l.address)
}

func (l *bleLink) Close() error {
	l.closeOnce.Do(func() {
		wasGone := l.gone()
		l.fail(nil)
		if !wasGone {
			l.closeErr = l.device.Disconnect()
		}
	})
	return l.closeErr
}

// ScanEntry describes one advertising device seen by ScanBLE.
type ScanEntry struct {
	Address string
	Name    string
	RSSI    int16
}

// ScanBLE lists advertising devices until the timeout expires or ctx is done.
// Each address is reported once.
func ScanBLE(ctx context.Context, adapter *bluetooth.Adapter, timeout time.Duration, fn func(ScanEntry)) error {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if err := adapter.Enable(); err != nil {
		return errors.Wrap(err, "bluetooth init failed")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = adapter.StopScan()
	}()

	seen := make(map[string]bool)
	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		address := result.Address.String()
		if seen[address] {
			return
		}
		seen[address] = true
		fn(ScanEntry{Address: address, Name: result.LocalName(), RSSI: result.RSSI})
	})
	return errors.Wrap(err, "scan failed")
}
