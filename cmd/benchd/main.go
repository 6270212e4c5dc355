// Command benchd runs the local automation servers: each subcommand wires
// one handler set into the line-JSON dispatcher and serves it over stdio,
// HTTP, or an MQTT bridge.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/benchd/benchd/bridge"
	"github.com/benchd/benchd/camera"
	"github.com/benchd/benchd/cheatsheet"
	"github.com/benchd/benchd/dispatch"
	"github.com/benchd/benchd/qa"
	"github.com/benchd/benchd/runner"
	"github.com/benchd/benchd/shell"
	"github.com/benchd/benchd/web"
)

func main() {
	app := &cli.App{
		Name:  "benchd",
		Usage: "local automation servers speaking line-delimited JSON",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging (logs go to stderr; stdout carries protocol output).",
			},
		},
		Commands: []*cli.Command{
			cameraCommand(),
			shellCommand(),
			qaCommand(),
			cheatsheetCommand(),
			bridgeCommand(),
			serveCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runStdio serves the handler sets over stdin/stdout until EOF.
func runStdio(logger *zap.Logger, handlers ...map[string]dispatch.Handler) error {
	d := dispatch.New(dispatch.WithLogger(logger))
	for _, h := range handlers {
		d.RegisterAll(h)
	}
	logger.Sugar().Infof("serving methods: %v", d.Methods())

	ctx, stop := signalContext()
	defer stop()
	return d.ServeLines(ctx, os.Stdin, os.Stdout)
}

func cameraFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "ptz-path",
			Usage: "Path to the PTZ motion-control binary.",
		},
		&cli.StringFlag{
			Name:  "imagesnap-path",
			Usage: "Path to the capture utility.",
		},
		&cli.StringFlag{
			Name:  "screenshot-dir",
			Usage: "Directory for capture files when a request names no output path.",
		},
		&cli.StringFlag{
			Name:  "inventory-command",
			Usage: "Device inventory command producing JSON device descriptors.",
			Value: "system_profiler SPUSBDataType -json",
		},
		&cli.StringSliceFlag{
			Name:  "pre-kill",
			Usage: "Command to run before capture/control calls to free the device, e.g. 'pkill cameracaptured'. Repeatable.",
		},
	}
}

func buildCameraManager(c *cli.Context, logger *zap.Logger) *camera.Manager {
	runOpts := []runner.Option{runner.WithLogger(logger)}
	for _, hook := range c.StringSlice("pre-kill") {
		if argv := strings.Fields(hook); len(argv) > 0 {
			runOpts = append(runOpts, runner.WithPreHook(argv...))
		}
	}
	cfg := camera.Config{
		PTZPath:          c.String("ptz-path"),
		ImagesnapPath:    c.String("imagesnap-path"),
		ScreenshotDir:    c.String("screenshot-dir"),
		InventoryCommand: strings.Fields(c.String("inventory-command")),
	}
	return camera.NewManager(cfg, runner.New(runOpts...), camera.WithLogger(logger))
}

func buildShellExecutor(c *cli.Context, logger *zap.Logger) (*shell.Executor, error) {
	allow := shell.DefaultAllowlist()
	if path := c.String("allowlist"); path != "" {
		loaded, err := shell.LoadAllowlist(path)
		if err != nil {
			return nil, fmt.Errorf("loading allowlist: %w", err)
		}
		allow = loaded
	}
	run := runner.New(runner.WithLogger(logger))
	return shell.NewExecutor(allow, run, shell.WithLogger(logger)), nil
}

func cameraCommand() *cli.Command {
	return &cli.Command{
		Name:  "camera",
		Usage: "camera discovery, screenshot capture, and PTZ control over stdio",
		Flags: cameraFlags(),
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			return runStdio(logger, buildCameraManager(c, logger).Handlers())
		},
	}
}

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "allowlisted shell command execution over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "allowlist",
				Usage: "File of permitted program names, one per line ('#' comments). Uses a built-in set when omitted.",
			},
		},
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			exec, err := buildShellExecutor(c, logger)
			if err != nil {
				return err
			}
			return runStdio(logger, exec.Handlers())
		},
	}
}

func qaCommand() *cli.Command {
	return &cli.Command{
		Name:  "qa",
		Usage: "interactive question/answer bookkeeping over stdio",
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			return runStdio(logger, qa.NewSession(qa.WithLogger(logger)).Handlers())
		},
	}
}

func cheatsheetCommand() *cli.Command {
	return &cli.Command{
		Name:  "cheatsheet",
		Usage: "static document serving over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "path",
				Usage:    "Path of the document file to serve.",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			src := cheatsheet.NewSource(c.String("path"), cheatsheet.WithLogger(logger))
			return runStdio(logger, src.Handlers())
		},
	}
}

func bridgeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "broker",
			Usage: "MQTT broker URL.",
			Value: "tcp://localhost:1883",
		},
		&cli.StringFlag{
			Name:  "namespace",
			Usage: "Leading topic segment.",
			Value: "camera",
		},
		&cli.StringFlag{
			Name:  "entity-id",
			Usage: "Entity id topic segment.",
			Value: "camera1",
		},
		&cli.IntFlag{
			Name:  "max-in-flight",
			Usage: "Bound on concurrently handled bus messages.",
			Value: bridge.DefaultMaxInFlight,
		},
		&cli.StringFlag{
			Name:  "exec",
			Usage: "External dispatcher command to proxy to over stdio. Dispatches in-process when omitted.",
		},
	}
	flags = append(flags, cameraFlags()...)

	return &cli.Command{
		Name:  "bridge",
		Usage: "republish dispatcher methods over an MQTT bus",
		Flags: flags,
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			var caller bridge.Caller
			if execStr := c.String("exec"); execStr != "" {
				argv := strings.Fields(execStr)
				proc, err := bridge.StartProc(argv[0], argv[1:], bridge.WithProcLogger(logger))
				if err != nil {
					return err
				}
				defer proc.Stop()
				caller = proc
			} else {
				d := dispatch.New(dispatch.WithLogger(logger))
				d.RegisterAll(buildCameraManager(c, logger).Handlers())
				caller = &bridge.Local{Dispatcher: d}
			}

			b := bridge.New(bridge.Config{
				BrokerURL:   c.String("broker"),
				Namespace:   c.String("namespace"),
				EntityID:    c.String("entity-id"),
				MaxInFlight: c.Int("max-in-flight"),
			}, caller, bridge.WithLogger(logger))
			return b.Run(ctx)
		},
	}
}

func serveCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the HTTP server to listen on.",
			Value: "127.0.0.1:8080",
		},
		&cli.StringFlag{
			Name:  "allowlist",
			Usage: "File of permitted program names for shell execution.",
		},
		&cli.StringFlag{
			Name:  "cheatsheet-path",
			Usage: "Path of the document file to serve.",
		},
	}
	flags = append(flags, cameraFlags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "serve every handler set over HTTP and WebSocket",
		Flags: flags,
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			exec, err := buildShellExecutor(c, logger)
			if err != nil {
				return err
			}

			d := dispatch.New(dispatch.WithLogger(logger))
			d.RegisterAll(buildCameraManager(c, logger).Handlers())
			d.RegisterAll(exec.Handlers())
			d.RegisterAll(qa.NewSession(qa.WithLogger(logger)).Handlers())
			d.RegisterAll(cheatsheet.NewSource(c.String("cheatsheet-path"), cheatsheet.WithLogger(logger)).Handlers())

			server := web.NewServer(d,
				web.WithServerLogger(logger),
				web.WithListenAddr(c.String("listen-addr")),
			)

			ctx, stop := signalContext()
			defer stop()
			go func() {
				<-ctx.Done()
				server.Stop()
			}()
			return server.Run()
		},
	}
}
