package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/apis"
	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/session"
)

const (
	flagConfig    = "config"
	flagTransport = "transport"
	flagPort      = "port"
	flagDebug     = "debug"
	flagTimeout   = "timeout"
	flagURL       = "url"
	flagUsername  = "username"
	flagPassword  = "password"
)

func main() {
	app := &cli.App{
		Name:  "carcontroller",
		Usage: "drive a remote car over a serial or BLE link",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagTransport,
				Usage: "link transport, serial or ble",
			},
			&cli.StringFlag{
				Name:  flagPort,
				Usage: "serial `DEVICE` of the receiver",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "ports",
				Usage:  "list serial ports",
				Action: portsAction,
			},
			{
				Name:  "scan",
				Usage: "list advertising BLE devices",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagTimeout,
						Value: 10 * time.Second,
						Usage: "how long to scan",
					},
				},
				Action: scanAction,
			},
			{
				Name:      "hash-password",
				Usage:     "print a bcrypt hash for http.password_hash",
				ArgsUsage: "<password>",
				Action:    hashPasswordAction,
			},
			{
				Name:  "watch",
				Usage: "follow the state of a running controller",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagURL,
						Value: "http://127.0.0.1:8080",
						Usage: "base URL of the controller",
					},
					&cli.StringFlag{
						Name:  flagUsername,
						Usage: "basic auth user",
					},
					&cli.StringFlag{
						Name:    flagPassword,
						Usage:   "basic auth password",
						EnvVars: []string{"CARCONTROLLER_PASSWORD"},
					},
				},
				Action: watchAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (appConfig, error) {
	cfg := defaultConfig()
	if path := c.String(flagConfig); path != "" {
		if err := cfg.load(path); err != nil {
			return cfg, err
		}
	}
	if c.IsSet(flagTransport) {
		cfg.Link.Transport = c.String(flagTransport)
	}
	if c.IsSet(flagPort) {
		cfg.Link.Serial.Port = c.String(flagPort)
	}
	return cfg, cfg.validate()
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	zl, err := newLogger(cfg.Log, c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer zl.Sync() //nolint:errcheck
	logger := zl.Sugar()
	if path := c.String(flagConfig); path != "" {
		logger.Infof("loaded config file: %s", path)
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return errors.Wrapf(err, "could not listen on %s", cfg.HTTP.Listen)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runController(ctx, cfg, newDialer(cfg.Link, logger), listener, logger)
}

// runController wires the session to the link manager and the operator API
// and runs them until ctx is done or the HTTP server fails.
func runController(ctx context.Context, cfg appConfig, dialer comm.Dialer, listener net.Listener, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var manager *comm.Manager
	events := apis.NewEvents(logger.Named("events"))
	sess := session.New(session.Options{
		RepeatInterval:    cfg.Session.Repeat,
		KeepAliveInterval: cfg.Session.KeepAlive,
		Logger:            logger.Named("session"),
		OnLinkLost: func(ch comm.Channel, err error) {
			manager.Drop(ch, err)
		},
		OnChange: events.Update,
	})
	manager = comm.NewManager(dialer, sess, logger.Named("link"),
		comm.WithRetryDelay(cfg.Link.ReconnectDelay, cfg.Link.MaxReconnect))

	router, err := apis.NewRouter(apis.RouterConfig{
		Remote: sess,
		Events: events,
		Keys:   cfg.Keys,
		Auth:   cfg.HTTP.Auth,
		Logger: logger.Named("http"),
	})
	if err != nil {
		listener.Close()
		return err
	}

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){sess.Run, events.Run, manager.Loop} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	err = apis.Serve(ctx, listener, router, logger.Named("http"))
	cancel()
	wg.Wait()
	logger.Info("controller stopped")
	return err
}
