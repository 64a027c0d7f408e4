// Angel-control sends attribute procedures to a peripheral through a BLED112-style USB dongle.
//
// Commands that touch the peripheral need its address (--address or $ANGEL_ADDRESS). The serial
// port is found automatically unless --port or $ANGEL_PORT is set. Run without a COMMAND, or with
// "shell", to enter commands interactively over a single connection.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/cli"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

var (
	config         = cli.NewConfig(cli.FlagAll)
	debug          bool
	configFile     string
	commandTimeout = 30 * time.Second
	connTimeout    = 30 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "angel-control",
	Short: "Talk to a BLE peripheral through a BGAPI dongle",
	Long: `Send attribute procedures to a BLE peripheral through a BLED112-style USB dongle.

 * Commands sent to a peripheral require its address.
 * Dongle commands (info) only require the dongle.
 * The attribute table is cached in --gatt-cache so later runs skip discovery.`,
	Example: `  # List serial ports and flag likely dongles
  angel-control ports

  # Read the battery level
  angel-control --address 00:07:80:AB:CD:EF read 180F 2A19

  # Stream heart rate measurements for 30 seconds
  angel-control --address 00:07:80:AB:CD:EF notify 180D 2A37 30s`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: configure,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveShell(cmd.Context())
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Enter commands interactively over a single connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveShell(cmd.Context())
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	config.RegisterFlags(flags)
	flags.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flags.StringVar(&configFile, "config", "", "YAML `file` with default settings")
	flags.DurationVar(&commandTimeout, "command-timeout", commandTimeout, "Set timeout for each command")
	flags.DurationVar(&connTimeout, "connect-timeout", connTimeout, "Set timeout for connecting and loading the attribute table")

	for name, info := range commands {
		rootCmd.AddCommand(info.cobraCommand(name))
	}
	rootCmd.AddCommand(shellCmd)
}

func configure(cmd *cobra.Command, args []string) error {
	config.ReadFromEnvironment()
	if configFile != "" {
		if err := config.LoadFile(configFile); err != nil {
			return err
		}
	}
	if debug {
		config.LogLevel = "debug"
	}
	return config.ConfigureLogging()
}

// session is the dongle and peripheral a command runs against.
type session struct {
	device *peripheral.Peripheral
	close  func()
}

func (s *session) Close() {
	if s.close != nil {
		s.close()
	}
}

// openSession opens whatever info needs: nothing, the dongle alone, or a connected peripheral
// with its attribute table.
func openSession(ctx context.Context, info *Command) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()

	switch {
	case info.requiresPeripheral:
		device, err := config.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return &session{device: device, close: func() {
			config.UpdateCachedTable(device)
			if err := config.Close(); err != nil {
				log.Warning("Error closing dongle: %s", err)
			}
		}}, nil
	case info.requiresDongle:
		port, err := config.OpenPort()
		if err != nil {
			return nil, err
		}
		device := peripheral.New(port, bgapi.Address{})
		device.SetTimeouts(config.LocalTimeout, config.RemoteTimeout)
		if err := device.Start(ctx); err != nil {
			port.Close()
			return nil, err
		}
		return &session{device: device, close: func() { device.Close() }}, nil
	}
	return &session{}, nil
}

func explain(err error) {
	if errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), "permission denied") {
		writeErr("Error: %s", err)
		writeErr("\nTry again after granting your user access to the serial port, for example:\n\n\tsudo usermod -aG dialout $USER\n")
		return
	}
	switch {
	case errors.Is(err, cli.ErrNoAddress), errors.Is(err, ErrRequiresAddress):
		writeErr("Error: %s. Provide one with --address or $%s.", err, cli.EnvAngelAddress)
	case protocol.MayHaveSucceeded(err):
		writeErr("Couldn't verify success: %s", err)
	default:
		writeErr("Failed to execute command: %s", err)
	}
}

func runCommand(ctx context.Context, device *peripheral.Peripheral, args []string) error {
	return execute(ctx, os.Stdout, device, args)
}

// runInteractiveShell connects once and then runs commands read from stdin until EOF or "exit".
// Without a peripheral address only dongle commands are available.
func runInteractiveShell(ctx context.Context) error {
	info := &Command{requiresDongle: true}
	if config.Address != "" {
		info.requiresPeripheral = true
	}
	s, err := openSession(ctx, info)
	if err != nil {
		return err
	}
	defer s.Close()

	prompt := func() {}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = func() { fmt.Printf("> ") }
	}
	return shell(ctx, os.Stdin, prompt, s.device)
}

func shell(ctx context.Context, in io.Reader, prompt func(), device *peripheral.Peripheral) error {
	scanner := bufio.NewScanner(in)
	for prompt(); scanner.Scan(); prompt() {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return nil
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			usage(args[1:])
			continue
		}
		if err := runCommand(ctx, device, args); err != nil {
			explain(err)
		}
		if device == nil {
			continue
		}
		select {
		case <-device.Done():
			return fmt.Errorf("dongle stopped: %w", device.Err())
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading command: %w", err)
	}
	return nil
}

func usage(args []string) {
	if len(args) == 0 {
		for _, name := range commandNames() {
			fmt.Printf("  %-10s %s\n", name, commands[name].help)
		}
		return
	}
	info, ok := commands[args[0]]
	if !ok {
		writeErr("Unrecognized command: %s", args[0])
		return
	}
	info.Usage(args[0])
}

func main() {
	status := 1
	defer func() {
		log.Sync()
		os.Exit(status)
	}()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		explain(err)
		return
	}
	status = 0
}
