package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/thiefmaster/carcontroller/apis"
	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/session"
)

const (
	transportSerial = "serial"
	transportBLE    = "ble"
)

type serialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type bleConfig struct {
	Name           string        `yaml:"name"`
	Service        string        `yaml:"service"`
	Characteristic string        `yaml:"characteristic"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
}

type linkConfig struct {
	Transport      string        `yaml:"transport"`
	Serial         serialConfig  `yaml:"serial"`
	BLE            bleConfig     `yaml:"ble"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnect   time.Duration `yaml:"max_reconnect_delay"`
}

type sessionConfig struct {
	Repeat    time.Duration `yaml:"repeat"`
	KeepAlive time.Duration `yaml:"keepalive"`
}

type httpConfig struct {
	Listen    string `yaml:"listen"`
	apis.Auth `yaml:",inline"`
}

type logConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type appConfig struct {
	Link    linkConfig    `yaml:"link"`
	Session sessionConfig `yaml:"session"`
	HTTP    httpConfig    `yaml:"http"`
	Keys    apis.KeyMap   `yaml:"keys"`
	Log     logConfig     `yaml:"log"`
}

func defaultConfig() appConfig {
	return appConfig{
		Link: linkConfig{
			Transport: transportSerial,
			Serial: serialConfig{
				Port: "/dev/rfcomm0",
				Baud: 9600,
			},
			BLE: bleConfig{
				Service:        "12345678-1234-1234-1234-1234567890ab",
				Characteristic: "abcdefab-1234-1234-1234-abcdefabcdef",
				ScanTimeout:    10 * time.Second,
			},
			ReconnectDelay: comm.DefaultRetryDelay,
			MaxReconnect:   comm.DefaultMaxRetryDelay,
		},
		Session: sessionConfig{
			Repeat:    session.DefaultRepeatInterval,
			KeepAlive: session.DefaultKeepAliveInterval,
		},
		HTTP: httpConfig{
			Listen: "127.0.0.1:8080",
		},
		Keys: apis.DefaultKeyMap(),
		Log: logConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// load overlays the file at path on top of the current values. Unknown keys
// are an error.
func (c *appConfig) load(path string) error {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "could not open config file")
	}
	if err = yaml.UnmarshalStrict(yamlFile, c); err != nil {
		return errors.Wrap(err, "could not parse config file")
	}
	return nil
}

func (c *appConfig) validate() error {
	switch c.Link.Transport {
	case transportSerial:
		if c.Link.Serial.Port == "" {
			return errors.New("link.serial.port is required")
		}
		if c.Link.Serial.Baud <= 0 {
			return errors.Errorf("invalid link.serial.baud %d", c.Link.Serial.Baud)
		}
		if c.Link.Serial.ReadTimeout < 0 {
			return errors.New("link.serial.read_timeout must not be negative")
		}
	case transportBLE:
		if c.Link.BLE.Service == "" || c.Link.BLE.Characteristic == "" {
			return errors.New("link.ble.service and link.ble.characteristic are required")
		}
		if c.Link.BLE.ScanTimeout <= 0 {
			return errors.New("link.ble.scan_timeout must be positive")
		}
	default:
		return errors.Errorf("unknown link.transport %q", c.Link.Transport)
	}
	if c.Link.ReconnectDelay <= 0 {
		return errors.New("link.reconnect_delay must be positive")
	}
	if c.Link.MaxReconnect < c.Link.ReconnectDelay {
		return errors.New("link.max_reconnect_delay must not be below link.reconnect_delay")
	}
	if c.Session.Repeat <= 0 || c.Session.KeepAlive <= 0 {
		return errors.New("session intervals must be positive")
	}
	if c.HTTP.Listen == "" {
		return errors.New("http.listen is required")
	}
	if err := c.HTTP.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Keys.Validate(); err != nil {
		return errors.Wrap(err, "invalid keys")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "invalid log.level")
	}
	return nil
}
