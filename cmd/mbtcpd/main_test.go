package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCount/go-modbus-tcp/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{
			name: "request",
			args: []string{"decode", "00 01 00 00 00 06 01 03 00 00 00 0A"},
			want: []string{"trans_id=0x0001", "unit_id=0x01 func=0x03", "ReadHoldingRegistersRequest"},
		},
		{
			name: "pipelined requests",
			args: []string{"decode", "000100000006010300000001", "000200000006010100000001"},
			want: []string{"trans_id=0x0001", "trans_id=0x0002", "ReadCoilsRequest"},
		},
		{
			name: "response",
			args: []string{"decode", "--response", "0001000000050103020102"},
			want: []string{"ReadHoldingRegistersResponse"},
		},
		{
			name: "exception response",
			args: []string{"decode", "--response", "000100000003018302"},
			want: []string{"ExceptionResponse"},
		},
		{
			name: "device identification",
			args: []string{"decode", "--response",
				"0001 0000 000E 01 2B 0E 01 01 00 00 01 00 04 41 63 6D 65"},
			want: []string{`object 0x00: "Acme"`},
		},
		{
			name:    "bad hex",
			args:    []string{"decode", "0G"},
			wantErr: true,
		},
		{
			name:    "bad quantity",
			args:    []string{"decode", "000100000006010300000000"},
			want:    []string{"exception:"},
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := execute(t, test.args...)
			if (err != nil) != test.wantErr {
				t.Fatalf("error %v, want error: %v\n%s", err, test.wantErr, out)
			}
			for _, want := range test.want {
				if !strings.Contains(out, want) {
					t.Errorf("output does not contain %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestPrintDefaultValidates(t *testing.T) {
	out, err := execute(t, "print-default")
	if err != nil {
		t.Fatalf("print-default: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mbtcpd.yaml")
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "validate-config", path)
	if err != nil {
		t.Fatalf("validate-config: %v", err)
	}
	if !strings.HasSuffix(out, ": ok\n") {
		t.Fatalf("unexpected output %q", out)
	}

	if err := os.WriteFile(path, []byte("server: {storage: tape}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate-config", path); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.Contains(out, "mbtcpd version") {
		t.Fatalf("version: %q, %v", out, err)
	}
}

func TestRunServe(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Listen.Address = "127.0.0.1:0"
	cfg.Server.Storage = "sqlite"
	cfg.Server.SQLitePath = filepath.Join(dir, "data.db")
	cfg.Logging.Output = filepath.Join(dir, "mbtcpd.log")
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = true
	// Ephemeral ports do not pass validation, so runServe gets the
	// configuration directly.
	cfg.Metrics.Address = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	log, err := os.ReadFile(cfg.Logging.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), `"message":"serving"`) {
		t.Fatalf("log lacks start message:\n%s", log)
	}
}

func TestLoadServeConfigOverrides(t *testing.T) {
	cfg, err := loadServeConfig(&serveFlags{
		listen:      "127.0.0.1:1502",
		logLevel:    "debug",
		metricsAddr: "127.0.0.1:9999",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:1502" || cfg.Logging.Level != "debug" ||
		!cfg.Metrics.Enabled || cfg.Metrics.Address != "127.0.0.1:9999" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if _, err := loadServeConfig(&serveFlags{logLevel: "loud"}); err == nil {
		t.Fatal("invalid override accepted")
	}
}
