package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vango-dev/worldsync/internal/config"
	wserrors "github.com/vango-dev/worldsync/internal/errors"
)

func TestLoadServeConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), config.ConfigFileName)

	cfg, err := loadServeConfig(serveOptions{configPath: missing, listen: ":9999", transport: "websocket"})
	if err != nil {
		t.Fatalf("implicit missing config: %v", err)
	}
	if cfg.Listen != ":9999" || cfg.Transport != config.TransportWebSocket || cfg.Path() != "" {
		t.Errorf("cfg = listen %q transport %q path %q", cfg.Listen, cfg.Transport, cfg.Path())
	}

	_, err = loadServeConfig(serveOptions{configPath: missing, explicitConfig: true})
	var se *wserrors.Error
	if !errors.As(err, &se) || se.Code != wserrors.CodeConfigNotFound {
		t.Errorf("explicit missing config error = %v", err)
	}

	_, err = loadServeConfig(serveOptions{configPath: missing, transport: "carrier-pigeon"})
	if !errors.As(err, &se) || se.Code != wserrors.CodeConfigInvalid {
		t.Errorf("bad transport error = %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deploy")
	cmd := configInitCmd()
	cmd.SetArgs([]string{"--dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	path := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadFile(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	cmd = configInitCmd()
	cmd.SetArgs([]string{"--dir", dir})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Error("second config init without --force succeeded")
	}
}
