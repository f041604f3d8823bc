package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/apis"
	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/session"
)

func newDialer(cfg linkConfig, logger *zap.SugaredLogger) comm.Dialer {
	if cfg.Transport == transportBLE {
		return &comm.BLEDialer{
			Name:           cfg.BLE.Name,
			Service:        cfg.BLE.Service,
			Characteristic: cfg.BLE.Characteristic,
			ScanTimeout:    cfg.BLE.ScanTimeout,
			Logger:         logger.Named("ble"),
		}
	}
	return &comm.SerialDialer{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		Logger:      logger.Named("serial"),
	}
}

func portsAction(c *cli.Context) error {
	ports, err := comm.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(c.App.Writer, "no serial ports found")
		return nil
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB ID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		id := "-"
		if p.USB {
			id = p.VID + ":" + p.PID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, id, p.SerialNumber, p.Product)
	}
	return w.Flush()
}

func scanAction(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "scanning for %v...\n", c.Duration(flagTimeout))
	return comm.ScanBLE(c.Context, nil, c.Duration(flagTimeout), func(e comm.ScanEntry) {
		name := e.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(c.App.Writer, "%s  %4d dBm  %s\n", e.Address, e.RSSI, name)
	})
}

func hashPasswordAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: carcontroller hash-password <password>")
	}
	hash, err := apis.HashPassword(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func watchAction(c *cli.Context) error {
	zl, err := newLogger(logConfig{Level: "warn"}, c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer zl.Sync() //nolint:errcheck

	states, err := apis.WatchState(c.Context, apis.HTTPCredentials{
		BaseURL:  c.String(flagURL),
		Username: c.String(flagUsername),
		Password: c.String(flagPassword),
	}, zl.Sugar())
	if err != nil {
		return err
	}
	for s := range states {
		fmt.Fprintln(c.App.Writer, formatState(s))
	}
	return nil
}

func formatState(s session.Snapshot) string {
	if !s.Connected {
		return "disconnected"
	}
	lights := ""
	for _, l := range []struct {
		on   bool
		name string
	}{{s.Lights.Front, "front"}, {s.Lights.Back, "back"}, {s.Lights.Blink, "blink"}} {
		if l.on {
			lights += " " + l.name
		}
	}
	if lights == "" {
		lights = " off"
	}
	return fmt.Sprintf("link %s  input %s  last %s  sending %v  lights%s",
		s.LinkID, s.Input, s.LastCommand, s.Sending, lights)
}
