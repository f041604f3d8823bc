package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/thiefmaster/carcontroller/apis"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	test.That(t, cfg.validate(), test.ShouldBeNil)
	test.That(t, cfg.Link.Transport, test.ShouldEqual, transportSerial)
	test.That(t, cfg.Session.Repeat, test.ShouldEqual, 100*time.Millisecond)
	test.That(t, cfg.Session.KeepAlive, test.ShouldEqual, 3*time.Second)
	test.That(t, cfg.HTTP.Auth.Enabled(), test.ShouldBeFalse)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
link:
  transport: ble
  ble:
    name: RC-Car
  reconnect_delay: 1s
session:
  keepalive: 5s
http:
  listen: ":9000"
log:
  level: debug
`)
	cfg := defaultConfig()
	test.That(t, cfg.load(path), test.ShouldBeNil)
	test.That(t, cfg.validate(), test.ShouldBeNil)

	test.That(t, cfg.Link.Transport, test.ShouldEqual, transportBLE)
	test.That(t, cfg.Link.BLE.Name, test.ShouldEqual, "RC-Car")
	test.That(t, cfg.Link.BLE.Service, test.ShouldEqual, defaultConfig().Link.BLE.Service)
	test.That(t, cfg.Link.ReconnectDelay, test.ShouldEqual, time.Second)
	test.That(t, cfg.Session.KeepAlive, test.ShouldEqual, 5*time.Second)
	test.That(t, cfg.Session.Repeat, test.ShouldEqual, 100*time.Millisecond)
	test.That(t, cfg.HTTP.Listen, test.ShouldEqual, ":9000")
	test.That(t, cfg.Log.Level, test.ShouldEqual, "debug")
	test.That(t, cfg.Keys.Forward, test.ShouldResemble, apis.DefaultKeyMap().Forward)
}

func TestLoadErrors(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not open config file")

	err = cfg.load(writeConfig(t, "link:\n  transprt: ble\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not parse config file")
}

func TestValidate(t *testing.T) {
	hash, err := apis.HashPassword("secret")
	test.That(t, err, test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		modify func(*appConfig)
		errMsg string
	}{
		{"unknown transport", func(c *appConfig) { c.Link.Transport = "usb" }, "unknown link.transport"},
		{"no port", func(c *appConfig) { c.Link.Serial.Port = "" }, "link.serial.port"},
		{"bad baud", func(c *appConfig) { c.Link.Serial.Baud = 0 }, "link.serial.baud"},
		{"ble without uuid", func(c *appConfig) {
			c.Link.Transport = transportBLE
			c.Link.BLE.Characteristic = ""
		}, "link.ble.service"},
		{"zero reconnect", func(c *appConfig) { c.Link.ReconnectDelay = 0 }, "link.reconnect_delay"},
		{"max below initial", func(c *appConfig) { c.Link.MaxReconnect = time.Millisecond }, "link.max_reconnect_delay"},
		{"zero repeat", func(c *appConfig) { c.Session.Repeat = 0 }, "session intervals"},
		{"no listen", func(c *appConfig) { c.HTTP.Listen = "" }, "http.listen"},
		{"user without hash", func(c *appConfig) { c.HTTP.Username = "alice" }, "http.password_hash"},
		{"duplicate key", func(c *appConfig) { c.Keys.LightBack = c.Keys.LightFront }, "invalid keys"},
		{"bad level", func(c *appConfig) { c.Log.Level = "loud" }, "invalid log.level"},
		{"auth ok", func(c *appConfig) {
			c.HTTP.Username = "alice"
			c.HTTP.PasswordHash = hash
		}, "-"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.modify(&cfg)
			err := cfg.validate()
			if tc.errMsg == "-" {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}
