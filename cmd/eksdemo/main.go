// Command eksdemo serves the greeting service.
//
//	eksdemo run [--config path] [--watch]
//	eksdemo validate [--config path]
//	eksdemo init [--path eksdemo.yaml] [--force]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/demo/eksdemo/internal/config"
	"github.com/demo/eksdemo/internal/runtime"
	pkglog "github.com/demo/eksdemo/pkg/log"
)

type command struct {
	name    string
	summary string
	run     func(args []string, out io.Writer) error
}

var commands = []command{
	{"run", "serve HTTP until SIGINT or SIGTERM", runCommand},
	{"validate", "load and check the configuration, then exit", validateCommand},
	{"init", "write the default configuration as YAML", initCommand},
}

func main() {
	code := dispatch(os.Args[1:], os.Stdout, os.Stderr)
	_ = pkglog.Sync()
	os.Exit(code)
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		err := c.run(args[1:], stdout)
		switch {
		case err == nil, errors.Is(err, flag.ErrHelp):
			return 0
		default:
			pkglog.Shared().Errorw("command failed", "command", c.name, "error", err)
			return 1
		}
	}
	fmt.Fprintf(stderr, "eksdemo: unknown command %q\n", args[0])
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: eksdemo <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
}

func flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func sources(path string) []config.Option {
	if path == "" {
		return nil
	}
	return []config.Option{config.WithPath(path)}
}

func runCommand(args []string, _ io.Writer) error {
	fs := flags("run")
	path := fs.String("config", "", "YAML configuration file")
	watch := fs.Bool("watch", false, "reload when the --config file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *watch && *path == "" {
		return errors.New("--watch needs --config")
	}

	opts := sources(*path)
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	logger := pkglog.Shared()
	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reloads <-chan config.Config
	if *watch {
		w, err := newConfigWatcher(*path, opts, logger)
		if err != nil {
			return err
		}
		defer w.Close()
		reloads = w.Watch(ctx)
	}

	if err := supervise(ctx, rt, reloads, logger); err != nil {
		return err
	}
	logger.Infow("service stopped")
	return nil
}

// supervise serves rt until ctx ends. Each config received on reloads stops
// the current server, applies the config and serves again. A rejected config
// leaves the previous one in place.
func supervise(ctx context.Context, rt *runtime.Runtime, reloads <-chan config.Config, logger pkglog.Logger) error {
	for {
		runCtx, cancelRun := context.WithCancel(ctx)
		if err := rt.Start(runCtx); err != nil {
			cancelRun()
			return err
		}
		stopped := make(chan error, 1)
		go func() { stopped <- rt.Wait() }()

		var next config.Config
		for pending := false; !pending; {
			select {
			case err := <-stopped:
				cancelRun()
				return err
			case cfg, ok := <-reloads:
				if !ok {
					reloads = nil
					continue
				}
				next, pending = cfg, true
			}
		}

		cancelRun()
		if err := <-stopped; err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := rt.Reload(next); err != nil {
			logger.Errorw("configuration rejected", "error", err)
			continue
		}
		logger.Infow("configuration reloaded", "version", next.Version, "logLevel", next.Log.Level)
	}
}

func validateCommand(args []string, out io.Writer) error {
	fs := flags("validate")
	path := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(sources(*path)...); err != nil {
		return err
	}
	fmt.Fprintln(out, "configuration valid")
	return nil
}

const initHeader = "# eksdemo configuration. Durations accept milliseconds or Go syntax (\"15s\").\n"

func initCommand(args []string, out io.Writer) error {
	fs := flags("init")
	path := fs.String("path", "eksdemo.yaml", "file to write")
	force := fs.Bool("force", false, "replace an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := config.Default().Marshal()
	if err != nil {
		return err
	}
	mode := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if *force {
		mode = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(*path, mode, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s exists; pass --force to replace it", *path)
	}
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, initHeader); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *path)
	return nil
}
