package peripheral

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/AngelSensor/angel-sdk/internal/dispatcher"
	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/connector"
	"github.com/AngelSensor/angel-sdk/pkg/gatt"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

// ErrNoTable indicates an operation needed the attribute table before it was discovered or loaded.
var ErrNoTable = errors.New("attribute table not loaded")

// Connection tracks the link to a peripheral. The connection id is assigned by the dongle.
type Connection struct {
	Address bgapi.Address

	lock      sync.Mutex
	id        uint8
	connected bool
}

// ID returns the dongle's id for the connection, and false if there is no connection.
func (c *Connection) ID() (uint8, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.id, c.connected
}

func (c *Connection) set(id uint8) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.id = id
	c.connected = true
}

// clear forgets connection id. It returns false if id was not the current connection.
func (c *Connection) clear(id uint8) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.connected || c.id != id {
		return false
	}
	c.connected = false
	return true
}

func (c *Connection) reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = false
}

// A Peripheral represents a remote device reached through a dongle.
type Peripheral struct {
	*Connection

	stream     connector.Stream
	correlator *dispatcher.Correlator

	// procedureLock ensures at most one procedure is awaiting answers.
	procedureLock sync.Mutex

	tableLock sync.Mutex
	table     *gatt.Table

	values values
}

// New creates a Peripheral that talks to the device at address through stream. Call Start before
// issuing any commands.
func New(stream connector.Stream, address bgapi.Address) *Peripheral {
	p := &Peripheral{
		Connection: &Connection{Address: address},
		stream:     stream,
		correlator: dispatcher.NewCorrelator(stream),
	}
	p.values.init()
	p.registerSessionHandlers()
	return p
}

// SetTimeouts overrides how long to wait for the dongle (local) and the peripheral (remote).
func (p *Peripheral) SetTimeouts(local, remote time.Duration) {
	if local > 0 {
		p.correlator.LocalTimeout = local
	}
	if remote > 0 {
		p.correlator.RemoteTimeout = remote
	}
}

// Start launches the goroutine that reads from the dongle.
func (p *Peripheral) Start(ctx context.Context) error {
	return p.correlator.Start(ctx)
}

// Close stops the reader. If the underlying stream is an io.Closer, it is closed as well. Close
// does not disconnect from the peripheral; call Disconnect first for an orderly shutdown.
func (p *Peripheral) Close() error {
	p.correlator.Stop()
	if closer, ok := p.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Done returns a channel that is closed once the reader stops, for example because the dongle
// was unplugged.
func (p *Peripheral) Done() <-chan struct{} {
	return p.correlator.Done()
}

// Err returns the error that stopped the reader, if any.
func (p *Peripheral) Err() error {
	return p.correlator.Dispatcher().Err()
}

// Table returns the attribute table, or nil if it has not been discovered or loaded.
func (p *Peripheral) Table() *gatt.Table {
	p.tableLock.Lock()
	defer p.tableLock.Unlock()
	return p.table
}

// SetTable installs a table obtained elsewhere, for example from a snapshot.
func (p *Peripheral) SetTable(t *gatt.Table) {
	p.tableLock.Lock()
	defer p.tableLock.Unlock()
	p.table = t
}

// Handle returns the value handle of a characteristic.
func (p *Peripheral) Handle(service, characteristic string) (uint16, error) {
	t := p.Table()
	if t == nil {
		return 0, ErrNoTable
	}
	return t.Handle(service, characteristic)
}

func (p *Peripheral) connection() (uint8, error) {
	id, ok := p.ID()
	if !ok {
		return 0, protocol.ErrNotConnected
	}
	return id, nil
}

func as[T bgapi.Message](message bgapi.Message, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := message.(T)
	if !ok {
		return zero, protocol.ErrBadResponse
	}
	return typed, nil
}

// Connect establishes a connection with the peripheral and waits for the dongle to report it.
func (p *Peripheral) Connect(ctx context.Context) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()

	if _, ok := p.ID(); ok {
		return protocol.ErrAlreadyConnected
	}
	log.Info("Connecting to %s...", p.Address)
	status := p.correlator.Expect(bgapi.IDConnectionStatus)
	if _, err := p.correlator.Call(ctx, bgapi.NewConnectDirect(p.Address)); err != nil {
		status.Cancel()
		return err
	}
	event, err := as[*bgapi.ConnectionStatus](status.WaitRemote(ctx, 0))
	if err != nil {
		return err
	}
	p.set(event.Connection)
	log.Info("Connected to %s as connection %d", event.Address, event.Connection)
	return nil
}

// Disconnect closes the connection and waits for the dongle to confirm it.
func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()

	id, err := p.connection()
	if err != nil {
		return err
	}
	disconnected := p.correlator.Expect(bgapi.IDDisconnected)
	if _, err := p.correlator.Call(ctx, &bgapi.Disconnect{Connection: id}); err != nil {
		disconnected.Cancel()
		return err
	}
	event, err := as[*bgapi.Disconnected](disconnected.WaitRemote(ctx, 0))
	if err != nil {
		return err
	}
	p.clear(event.Connection)
	log.Info("Disconnected from %s: %s", p.Address, protocol.Reason(event.Reason))
	return nil
}

func (p *Peripheral) registerSessionHandlers() {
	c := p.correlator
	c.Handle(bgapi.IDConnectionStatus, func(m bgapi.Message) {
		status := m.(*bgapi.ConnectionStatus)
		if status.Flags&bgapi.FlagConnected == 0 {
			log.Debug("Connection %d status flags 0x%02x", status.Connection, status.Flags)
			return
		}
		p.set(status.Connection)
		log.Info("Connection %d to %s is up (flags 0x%02x)", status.Connection, status.Address, status.Flags)
	})
	c.Handle(bgapi.IDDisconnected, func(m bgapi.Message) {
		event := m.(*bgapi.Disconnected)
		if p.clear(event.Connection) {
			log.Warning("Lost connection to %s: %s", p.Address, protocol.Reason(event.Reason))
		}
	})
	c.Handle(bgapi.IDSystemBoot, func(m bgapi.Message) {
		p.reset()
		log.Info("Dongle booted: %s", m.(*bgapi.SystemBoot).Info)
	})
	c.Handle(bgapi.IDProtocolError, func(m bgapi.Message) {
		log.Warning("Dongle reported protocol error: %s", protocol.Reason(m.(*bgapi.ProtocolError).Reason))
	})
	c.Handle(bgapi.IDBondingFail, func(m bgapi.Message) {
		log.Warning("Bonding failed: %s", protocol.Reason(m.(*bgapi.BondingFail).Result))
	})
	c.Handle(bgapi.IDIndicated, func(m bgapi.Message) {
		log.Debug("Indication on handle %d confirmed", m.(*bgapi.Indicated).Handle)
	})
	c.Handle(bgapi.IDAttributeFound, func(m bgapi.Message) {
		found := m.(*bgapi.AttributeFound)
		log.Debug("Unsolicited attribute %s at handle %d", gatt.UUIDString(found.UUID), found.Declaration)
	})
	c.Handle(bgapi.IDAttributeValue, func(m bgapi.Message) {
		p.values.dispatch(m.(*bgapi.AttributeValue))
	})
}
