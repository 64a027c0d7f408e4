package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/connector/serial"
	"github.com/AngelSensor/angel-sdk/pkg/gatt"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrRequiresAddress = errors.New("command requires a peripheral address")
	ErrRequiresDongle  = errors.New("command requires a dongle")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

// maxWriteLength is the largest value a single write request carries. Longer values are sent as
// prepared writes.
const maxWriteLength = 20

const defaultNotifyDuration = 10 * time.Second

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error

type Command struct {
	help               string
	requiresDongle     bool // True if command talks to the dongle
	requiresPeripheral bool // True if command needs a connected peripheral and its attribute table
	args               []Argument
	optional           []Argument
	listens            bool // True if the command runs for its DURATION argument
	handler            Handler
}

// timeout bounds a command run with args. Commands that listen get their DURATION on top of the
// command timeout.
func (c *Command) timeout(args map[string]string) time.Duration {
	if !c.listens {
		return commandTimeout
	}
	duration, err := listenDuration(args)
	if err != nil {
		return commandTimeout
	}
	return commandTimeout + duration
}

func listenDuration(args map[string]string) (time.Duration, error) {
	s, ok := args["DURATION"]
	if !ok {
		return defaultNotifyDuration, nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
	}
	return duration, nil
}

// ParseHex decodes a value given on the command line. Spaces, colons and a 0x prefix are
// ignored.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex value: %s", ErrCommandLineArgs, err)
	}
	return data, nil
}

func commandNames() []string {
	var names []string
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkReadiness(commandName string, device *peripheral.Peripheral) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresDongle && device == nil {
		return nil, ErrRequiresDongle
	}
	if info.requiresPeripheral {
		if device == nil {
			return nil, ErrRequiresAddress
		}
		if _, connected := device.ID(); !connected {
			return nil, ErrRequiresAddress
		}
	}
	return info, nil
}

func execute(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0], device)
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		kw := keywords(info, args[1:])
		ctx, cancel := context.WithTimeout(ctx, info.timeout(kw))
		defer cancel()
		err = info.handler(ctx, out, device, kw)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func keywords(info *Command, args []string) map[string]string {
	keywords := make(map[string]string)
	for i, argInfo := range info.args {
		keywords[argInfo.name] = args[i]
	}
	for i, argInfo := range info.optional {
		if index := len(info.args) + i; index < len(args) {
			keywords[argInfo.name] = args[index]
		}
	}
	return keywords
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s%s\n%s\n", name, c.argumentSummary(), c.help)
	maxLength := 0
	for _, arg := range slices.Concat(c.args, c.optional) {
		maxLength = max(maxLength, len(arg.name))
	}
	maxLength++
	for _, arg := range slices.Concat(c.args, c.optional) {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

func (c *Command) argumentSummary() string {
	var b strings.Builder
	for _, arg := range c.args {
		fmt.Fprintf(&b, " %s", arg.name)
	}
	if len(c.optional) > 0 {
		b.WriteString(" [")
		for _, arg := range c.optional {
			fmt.Fprintf(&b, " %s", arg.name)
		}
		b.WriteString(" ]")
	}
	return b.String()
}

// cobraCommand exposes c as a subcommand that opens its own session.
func (c *Command) cobraCommand(name string) *cobra.Command {
	var long strings.Builder
	long.WriteString(c.help)
	for _, arg := range slices.Concat(c.args, c.optional) {
		fmt.Fprintf(&long, "\n    %s: %s", arg.name, arg.help)
	}
	return &cobra.Command{
		Use:   name + c.argumentSummary(),
		Short: c.help,
		Long:  long.String(),
		Args:  cobra.RangeArgs(len(c.args), len(c.args)+len(c.optional)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer s.Close()
			return runCommand(cmd.Context(), s.device, append([]string{name}, args...))
		},
	}
}

func printTable(out io.Writer, table *gatt.Table) error {
	return gatt.Save(out, table)
}

var commands = map[string]*Command{
	"ports": &Command{
		help: "List serial ports; likely dongles are marked with *",
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			ports, err := serial.List()
			if err != nil {
				return err
			}
			for _, p := range ports {
				mark := " "
				if p.Dongle {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%s:%s\n", mark, p.Name, p.Product, p.VID, p.PID)
			}
			return nil
		},
	},
	"info": &Command{
		help:           "Print the dongle's firmware version",
		requiresDongle: true,
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			info, err := device.GetInfo(ctx)
			if err != nil {
				return err
			}
			connections, err := device.MaxConnections(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s, %d connections\n", info, connections)
			return nil
		},
	},
	"discover": &Command{
		help:               "Discover the peripheral's attribute table, ignoring the cache",
		requiresDongle:     true,
		requiresPeripheral: true,
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			table, err := device.Discover(ctx)
			if err != nil {
				return err
			}
			return printTable(out, table)
		},
	},
	"dump": &Command{
		help:               "Print the attribute table, or save it to FILE",
		requiresDongle:     true,
		requiresPeripheral: true,
		optional: []Argument{
			Argument{name: "FILE", help: "Snapshot file to write"},
		},
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			table := device.Table()
			if table == nil {
				return peripheral.ErrNoTable
			}
			if filename, ok := args["FILE"]; ok {
				return gatt.SaveFile(filename, table)
			}
			return printTable(out, table)
		},
	},
	"read": &Command{
		help:               "Read a characteristic and print its value in hex",
		requiresDongle:     true,
		requiresPeripheral: true,
		args: []Argument{
			Argument{name: "SERVICE", help: "Service UUID, such as 180F"},
			Argument{name: "CHARACTERISTIC", help: "Characteristic UUID, such as 2A19"},
		},
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			handle, err := device.Handle(args["SERVICE"], args["CHARACTERISTIC"])
			if err != nil {
				return err
			}
			value, err := device.Read(ctx, handle)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, hex.EncodeToString(value))
			return nil
		},
	},
	"write": &Command{
		help:               "Write a hex VALUE to a characteristic",
		requiresDongle:     true,
		requiresPeripheral: true,
		args: []Argument{
			Argument{name: "SERVICE", help: "Service UUID"},
			Argument{name: "CHARACTERISTIC", help: "Characteristic UUID"},
			Argument{name: "VALUE", help: "Value in hex, such as 0100"},
		},
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			handle, err := device.Handle(args["SERVICE"], args["CHARACTERISTIC"])
			if err != nil {
				return err
			}
			value, err := ParseHex(args["VALUE"])
			if err != nil {
				return err
			}
			if len(value) > maxWriteLength {
				return device.WriteLong(ctx, handle, value)
			}
			return device.Write(ctx, handle, value)
		},
	},
	"notify": &Command{
		help:               "Print notifications from a characteristic for DURATION",
		requiresDongle:     true,
		requiresPeripheral: true,
		args: []Argument{
			Argument{name: "SERVICE", help: "Service UUID"},
			Argument{name: "CHARACTERISTIC", help: "Characteristic UUID"},
		},
		optional: []Argument{
			Argument{name: "DURATION", help: fmt.Sprintf("How long to listen, such as 30s (default %s)", defaultNotifyDuration)},
		},
		listens: true,
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			duration, err := listenDuration(args)
			if err != nil {
				return err
			}
			return listen(ctx, out, device, args["SERVICE"], args["CHARACTERISTIC"], duration)
		},
	},
	"rssi": &Command{
		help:               "Print the connection's signal strength",
		requiresDongle:     true,
		requiresPeripheral: true,
		handler: func(ctx context.Context, out io.Writer, device *peripheral.Peripheral, args map[string]string) error {
			rssi, err := device.RSSI(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d dBm\n", rssi)
			return nil
		},
	},
}

// listen enables notifications for a characteristic and prints each value until duration elapses
// or ctx is done. Notifications are disabled again before returning. Cancelling ctx ends listening
// early without error, but a deadline that expires first is reported.
func listen(ctx context.Context, out io.Writer, device *peripheral.Peripheral, service, characteristic string, duration time.Duration) error {
	handle, err := device.Handle(service, characteristic)
	if err != nil {
		return err
	}
	values := make(chan []byte, 64)
	unsubscribe := device.Subscribe(handle, func(value []byte) {
		select {
		case values <- value:
		default:
			log.Warning("Dropping notification for handle %d", handle)
		}
	})
	defer unsubscribe()

	if err := device.ConfigureClientCharacteristic(ctx, service, characteristic, true, false); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := device.ConfigureClientCharacteristic(ctx, service, characteristic, false, false); err != nil {
			log.Warning("Couldn't disable notifications: %s", err)
		}
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()
	for {
		select {
		case value := <-values:
			fmt.Fprintln(out, hex.EncodeToString(value))
		case <-timer.C:
			return nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ctx.Err()
			}
			return nil
		case <-device.Done():
			return device.Err()
		}
	}
}
