/*
Package cli facilitates building command-line applications that talk to a peripheral through a
BGAPI dongle. It defines a [Config] type that can be used to register common command-line flags
(using the pflag package) and environment variable equivalents.

# Examples

	config := cli.NewConfig(cli.FlagAll)
	config.RegisterFlags(cmd.PersistentFlags()) // Adds --port, --address, etc.
	...
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadFile("angel.yaml")     // Fills in whatever is still missing from a YAML file
	config.ConfigureLogging()

	// Opens the dongle, connects to the peripheral, and loads its attribute table from the cache
	// or by discovery.
	device, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer config.Close()
	defer config.UpdateCachedTable(device)

Alternatively, you can use a [Flag] mask to control what [Config] fields are populated. Note that
config.Flags must be set before registering flags or calling [Config.ReadFromEnvironment]:

	config = cli.NewConfig(cli.FlagPort) // Only the serial port; no peripheral address or cache.
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/AngelSensor/angel-sdk/internal/dispatcher"
	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/cache"
	"github.com/AngelSensor/angel-sdk/pkg/connector/serial"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvAngelPort      = "ANGEL_PORT"
	EnvAngelAddress   = "ANGEL_ADDRESS"
	EnvAngelGattCache = "ANGEL_GATT_CACHE"
	EnvAngelLogLevel  = "ANGEL_LOG_LEVEL"
)

// DefaultCacheSize is the number of peripherals a new attribute table cache holds.
const DefaultCacheSize = 16

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagPort     Flag = 1 // Enable serial port options.
	FlagAddress  Flag = 2 // Enable the peripheral address option. Required for Connect.
	FlagCache    Flag = 4 // Enable the attribute table cache option.
	FlagTimeouts Flag = 8 // Enable timeout options.
	FlagAll      Flag = FlagPort | FlagAddress | FlagCache | FlagTimeouts
)

var ErrNoAddress = errors.New("peripheral address not provided")

// Config fields determine how a client reaches its dongle and peripheral.
type Config struct {
	Flags         Flag          `yaml:"-"`          // Controls which set of environment variables/CLI flags to use.
	Port          string        `yaml:"port"`       // Serial device; found automatically if empty.
	Address       string        `yaml:"address"`    // Peripheral address, such as 00:07:80:AB:CD:EF.
	CacheFilename string        `yaml:"gatt_cache"` // Attribute table cache file.
	LocalTimeout  time.Duration `yaml:"local_timeout"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"` // Optional rotated JSON log file.

	tables *cache.TableCache
	device *peripheral.Peripheral
}

func NewConfig(flags Flag) *Config {
	return &Config{Flags: flags}
}

// RegisterFlags adds command-line flags for the options enabled by c.Flags.
func (c *Config) RegisterFlags(set *pflag.FlagSet) {
	if c.Flags.isSet(FlagPort) {
		set.StringVar(&c.Port, "port", "", "Serial `device` of the dongle. Defaults to $ANGEL_PORT, then auto-detection.")
	}
	if c.Flags.isSet(FlagAddress) {
		set.StringVar(&c.Address, "address", "", "Peripheral `address`. Defaults to $ANGEL_ADDRESS.")
	}
	if c.Flags.isSet(FlagCache) {
		set.StringVar(&c.CacheFilename, "gatt-cache", "", "Load attribute table cache from `file`. Defaults to $ANGEL_GATT_CACHE.")
	}
	if c.Flags.isSet(FlagTimeouts) {
		set.DurationVar(&c.LocalTimeout, "local-timeout", 0, fmt.Sprintf("How long to wait for the dongle to acknowledge a command (default %s)", dispatcher.DefaultLocalTimeout))
		set.DurationVar(&c.RemoteTimeout, "remote-timeout", 0, fmt.Sprintf("How long to wait for the peripheral to answer (default %s)", dispatcher.DefaultRemoteTimeout))
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after parsing flags prevents the environment from overriding explicit
// command-line parameters.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagPort) && c.Port == "" {
		c.Port = os.Getenv(EnvAngelPort)
		log.Debug("Set port to '%s'", c.Port)
	}
	if c.Flags.isSet(FlagAddress) && c.Address == "" {
		c.Address = os.Getenv(EnvAngelAddress)
		log.Debug("Set peripheral address to '%s'", c.Address)
	}
	if c.Flags.isSet(FlagCache) && c.CacheFilename == "" {
		c.CacheFilename = os.Getenv(EnvAngelGattCache)
		log.Debug("Set attribute table cache file to '%s'", c.CacheFilename)
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv(EnvAngelLogLevel)
	}
}

// LoadFile fills in fields that are still unset from a YAML file. Fields that are already
// populated, whether by flags or the environment, are not overwritten.
func (c *Config) LoadFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	setDefault(&c.Port, file.Port)
	setDefault(&c.Address, file.Address)
	setDefault(&c.CacheFilename, file.CacheFilename)
	setDefault(&c.LocalTimeout, file.LocalTimeout)
	setDefault(&c.RemoteTimeout, file.RemoteTimeout)
	setDefault(&c.LogLevel, file.LogLevel)
	setDefault(&c.LogFile, file.LogFile)
	log.Debug("Loaded configuration from %s", filename)
	return nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// ConfigureLogging applies c.LogLevel and c.LogFile. An empty level leaves logging disabled.
func (c *Config) ConfigureLogging() error {
	if c.LogLevel == "" && c.LogFile == "" {
		return nil
	}
	level := log.LevelInfo
	if c.LogLevel != "" {
		var err error
		if level, err = log.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	log.Configure(log.Options{Level: level, File: c.LogFile, MaxSizeMB: 10, MaxBackups: 3})
	return nil
}

// OpenPort opens c.Port, or the first dongle found if c.Port is empty.
func (c *Config) OpenPort() (*serial.Port, error) {
	name := c.Port
	if name == "" {
		var err error
		if name, err = serial.Find(); err != nil {
			return nil, err
		}
	}
	return serial.Open(name, serial.DefaultBaudRate)
}

// Connect opens the dongle, connects to the configured peripheral and installs its attribute
// table, loading it from c.CacheFilename when possible.
func (c *Config) Connect(ctx context.Context) (*peripheral.Peripheral, error) {
	if c.Address == "" {
		return nil, ErrNoAddress
	}
	address, err := bgapi.ParseAddress(c.Address)
	if err != nil {
		return nil, err
	}
	if err := c.loadCache(); err != nil {
		return nil, err
	}

	port, err := c.OpenPort()
	if err != nil {
		return nil, err
	}
	device := peripheral.New(port, address)
	device.SetTimeouts(c.LocalTimeout, c.RemoteTimeout)
	if err := device.Start(ctx); err != nil {
		port.Close()
		return nil, err
	}
	if err := device.Connect(ctx); err != nil {
		device.Close()
		return nil, err
	}
	c.device = device

	if _, err := device.LoadOrDiscover(ctx, c.tables); err != nil {
		c.Close()
		return nil, err
	}
	return device, nil
}

func (c *Config) loadCache() error {
	if c.CacheFilename == "" || c.tables != nil {
		return nil
	}
	log.Debug("Loading cache from %s...", c.CacheFilename)
	var err error
	c.tables, err = cache.ImportFromFile(c.CacheFilename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load attribute table cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		c.tables = cache.New(DefaultCacheSize)
	}
	return nil
}

// UpdateCachedTable writes p's attribute table to c.CacheFilename.
//
// If c.CacheFilename is not set or p has no table, then this method does nothing.
func (c *Config) UpdateCachedTable(p *peripheral.Peripheral) {
	if c.CacheFilename == "" || p.Table() == nil {
		return
	}
	if err := c.loadCache(); err != nil {
		log.Error("Error updating cache: %s", err)
		return
	}
	if err := p.UpdateCachedTable(c.tables); err != nil {
		log.Error("Error updating cache: %s", err)
		return
	}
	if err := c.tables.ExportToFile(c.CacheFilename); err != nil {
		log.Error("Error updating cache: %s", err)
	}
}

// Close disconnects from the peripheral opened by Connect and releases the dongle.
func (c *Config) Close() error {
	device := c.device
	if device == nil {
		return nil
	}
	c.device = nil
	timeout := c.RemoteTimeout
	if timeout <= 0 {
		timeout = dispatcher.DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := device.Disconnect(ctx); err != nil {
		log.Warning("Error disconnecting: %s", err)
	}
	return device.Close()
}
