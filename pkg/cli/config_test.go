package cli_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/AngelSensor/angel-sdk/internal/dongletest"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/cache"
	"github.com/AngelSensor/angel-sdk/pkg/cli"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "angel.yaml")
	if err := os.WriteFile(filename, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestRegisterFlags(t *testing.T) {
	config := cli.NewConfig(cli.FlagAll)
	set := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(set)
	err := set.Parse([]string{"--port", "/dev/ttyACM0", "--address", "00:07:80:AB:CD:EF", "--remote-timeout", "3s"})
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != "/dev/ttyACM0" || config.Address != "00:07:80:AB:CD:EF" {
		t.Errorf("flags not applied: %+v", config)
	}
	if config.RemoteTimeout != 3*time.Second || config.LocalTimeout != 0 {
		t.Errorf("unexpected timeouts %s/%s", config.LocalTimeout, config.RemoteTimeout)
	}
}

func TestFlagMask(t *testing.T) {
	config := cli.NewConfig(cli.FlagPort)
	set := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(set)
	if set.Lookup("port") == nil {
		t.Error("expected --port to be registered")
	}
	if set.Lookup("address") != nil || set.Lookup("gatt-cache") != nil {
		t.Error("registered flags outside of the mask")
	}

	t.Setenv(cli.EnvAngelAddress, "00:07:80:AB:CD:EF")
	config.ReadFromEnvironment()
	if config.Address != "" {
		t.Error("read address from environment despite mask")
	}
}

func TestPrecedence(t *testing.T) {
	filename := writeFile(t, `
port: /dev/from-file
address: 00:07:80:00:00:01
gatt_cache: /tmp/from-file.json
remote_timeout: 5s
log_level: warning
`)
	t.Setenv(cli.EnvAngelAddress, "00:07:80:00:00:02")
	t.Setenv(cli.EnvAngelPort, "")
	t.Setenv(cli.EnvAngelLogLevel, "")

	config := cli.NewConfig(cli.FlagAll)
	config.CacheFilename = "/tmp/from-flag.json"
	config.ReadFromEnvironment()
	if err := config.LoadFile(filename); err != nil {
		t.Fatal(err)
	}

	if config.CacheFilename != "/tmp/from-flag.json" {
		t.Errorf("file overrode flag: %s", config.CacheFilename)
	}
	if config.Address != "00:07:80:00:00:02" {
		t.Errorf("file overrode environment: %s", config.Address)
	}
	if config.Port != "/dev/from-file" || config.RemoteTimeout != 5*time.Second || config.LogLevel != "warning" {
		t.Errorf("file values not applied: %+v", config)
	}
}

func TestLoadFileErrors(t *testing.T) {
	config := cli.NewConfig(cli.FlagAll)
	if err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist but got %v", err)
	}
	if err := config.LoadFile(writeFile(t, "port: [unterminated")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestConfigureLogging(t *testing.T) {
	config := cli.NewConfig(cli.FlagAll)
	config.LogLevel = "loud"
	if err := config.ConfigureLogging(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	config := cli.NewConfig(cli.FlagAll)
	if _, err := config.Connect(context.Background()); !errors.Is(err, cli.ErrNoAddress) {
		t.Errorf("expected ErrNoAddress but got %v", err)
	}
	config.Address = "not an address"
	if _, err := config.Connect(context.Background()); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestUpdateCachedTable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	address, err := bgapi.ParseAddress("00:07:80:AB:CD:EF")
	if err != nil {
		t.Fatal(err)
	}
	device := peripheral.New(dongletest.HeartRateSensor(), address)
	if err := device.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer device.Close()
	if err := device.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	config := cli.NewConfig(cli.FlagAll)
	config.CacheFilename = filepath.Join(t.TempDir(), "cache.json")
	config.UpdateCachedTable(device)
	if _, err := os.Stat(config.CacheFilename); !errors.Is(err, os.ErrNotExist) {
		t.Error("wrote cache without a table")
	}

	if _, err := device.Discover(ctx); err != nil {
		t.Fatal(err)
	}
	config.UpdateCachedTable(device)
	tables, err := cache.ImportFromFile(config.CacheFilename)
	if err != nil {
		t.Fatal(err)
	}
	table, ok, err := tables.Table(address.String())
	if err != nil || !ok {
		t.Fatalf("table missing from cache: %v", err)
	}
	if table.Characteristics() != 6 {
		t.Errorf("expected 6 characteristics but got %d", table.Characteristics())
	}
}
