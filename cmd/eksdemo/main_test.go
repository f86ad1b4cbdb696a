package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/demo/eksdemo/internal/config"
	"github.com/demo/eksdemo/internal/runtime"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	if code := dispatch([]string{"serve"}, io.Discard, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "serve"`) || !strings.Contains(stderr.String(), "validate") {
		t.Fatalf("expected usage listing commands, got %q", stderr.String())
	}
	if code := dispatch(nil, io.Discard, io.Discard); code != 2 {
		t.Fatalf("expected exit 2 without a command, got %d", code)
	}
}

func TestDispatchHelpExitsZero(t *testing.T) {
	if code := dispatch([]string{"init", "-h"}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("expected exit 0 for -h, got %d", code)
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eksdemo.yaml")

	var out bytes.Buffer
	if err := initCommand([]string{"--path", path}, &out); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Fatalf("expected output to name the file, got %q", out.String())
	}

	cfg, err := config.Load(config.WithPath(path), config.WithLookupEnv(noEnv))
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.RateLimit.Max != 0 {
		t.Fatalf("expected defaults, got port %d rate limit %d", cfg.HTTP.Port, cfg.RateLimit.Max)
	}
}

func TestInitRefusesOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eksdemo.yaml")
	writeFile(t, path, "http:\n  port: 9000\n")

	if err := initCommand([]string{"--path", path}, io.Discard); err == nil {
		t.Fatalf("expected error when file exists")
	}
	if err := initCommand([]string{"--path", path, "--force"}, io.Discard); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "9000") {
		t.Fatalf("expected file replaced, got:\n%s", data)
	}
}

func TestValidateCommand(t *testing.T) {
	t.Setenv(config.ConfigEnvVar, "")
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, "http:\n  port: 8081\n")
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "http:\n  port: 70000\n")

	var out bytes.Buffer
	if err := validateCommand([]string{"--config", good}, &out); err != nil {
		t.Fatalf("validate good config: %v", err)
	}
	if strings.TrimSpace(out.String()) != "configuration valid" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := validateCommand([]string{"--config", bad}, io.Discard); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestRunRequiresConfigToWatch(t *testing.T) {
	if err := runCommand([]string{"--watch"}, io.Discard); err == nil {
		t.Fatalf("expected --watch without --config to fail")
	}
}

func TestConfigWatcherEmitsValidChangesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eksdemo.yaml")
	writeFile(t, path, "version: v1\n")

	core, logs := observer.New(zap.WarnLevel)
	w, err := newConfigWatcher(path, []config.Option{config.WithPath(path), config.WithLookupEnv(noEnv)}, zap.New(core).Sugar())
	if err != nil {
		t.Fatalf("newConfigWatcher: %v", err)
	}
	defer w.Close()
	w.settle = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads := w.Watch(ctx)

	writeFile(t, path, "http:\n  port: -1\n")
	deadline := time.Now().Add(5 * time.Second)
	for logs.FilterMessage("config change ignored").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected invalid config to be logged and skipped")
		}
		select {
		case <-reloads:
		case <-time.After(10 * time.Millisecond):
		}
	}

	writeFile(t, path, "version: v2\n")
	timeout := time.After(5 * time.Second)
	for got := ""; got != "v2"; {
		select {
		case cfg := <-reloads:
			got = cfg.Version
		case <-timeout:
			t.Fatalf("timed out waiting for reload")
		}
	}

	cancel()
	for range reloads {
	}
}

func TestConfigWatcherConcerns(t *testing.T) {
	w := &configWatcher{}
	w.path, _ = filepath.Abs("eksdemo.yaml")

	cases := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "eksdemo.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "eksdemo.yaml", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "eksdemo.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "other.yaml", Op: fsnotify.Write}, false},
	}
	for _, tc := range cases {
		if got := w.concerns(tc.ev); got != tc.want {
			t.Fatalf("concerns(%v) = %v, want %v", tc.ev, got, tc.want)
		}
	}
}

func healthVersion(addr string) string {
	if addr == "" {
		return ""
	}
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestSuperviseAppliesReloadsAndStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.Version = "v1"
	logger := zap.NewNop().Sugar()
	rt, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan config.Config)
	done := make(chan error, 1)
	go func() { done <- supervise(ctx, rt, reloads, logger) }()

	waitFor := func(version string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !strings.Contains(healthVersion(rt.Addr()), `"version":"`+version+`"`) {
			if time.Now().After(deadline) {
				t.Fatalf("never served version %s", version)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	waitFor("v1")

	next := cfg
	next.Version = "v2"
	reloads <- next
	waitFor("v2")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervise did not return")
	}
}
