package dispatcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/connector"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

var ErrAlreadyStarted = errors.New("dispatcher already started")

// Handler receives every message decoded by a Dispatcher. Dispatch is called from the
// Dispatcher's goroutine, one message at a time, in the order messages arrived.
type Handler interface {
	Dispatch(message bgapi.Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(message bgapi.Message)

func (f HandlerFunc) Dispatch(message bgapi.Message) {
	f(message)
}

// Dispatcher objects own a connector.Stream. They decode incoming frames and pass each message to
// a single Handler, and serialize outgoing commands.
type Dispatcher struct {
	stream  connector.Stream
	handler Handler

	// PollInterval bounds how long the listener idles after an empty read. It must be set before
	// calling Start.
	PollInterval time.Duration

	sendLock sync.Mutex

	doneLock  sync.Mutex
	started   bool
	terminate chan struct{}
	done      chan struct{}
	err       error
}

// New creates a Dispatcher that reads from and writes to stream.
func New(stream connector.Stream, handler Handler) *Dispatcher {
	return &Dispatcher{
		stream:       stream,
		handler:      handler,
		PollInterval: connector.DefaultPollInterval,
		done:         make(chan struct{}),
	}
}

// Start runs d's listener in a new goroutine. A Dispatcher can only be started once.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.doneLock.Lock()
	if d.started {
		d.doneLock.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.terminate = make(chan struct{})
	terminate := d.terminate
	d.doneLock.Unlock()

	ready := make(chan struct{})
	go d.listen(terminate, ready)
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		d.Stop()
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// listen reads from the stream until terminate is closed or the stream fails.
func (d *Dispatcher) listen(terminate <-chan struct{}, ready chan<- struct{}) {
	log.Info("Starting dispatcher service...")
	defer close(d.done)
	close(ready)

	idle := time.NewTicker(d.PollInterval)
	defer idle.Stop()

	var buffer bgapi.Buffer
	scratch := make([]byte, connector.ReadBufferSize)
	for {
		n, err := d.stream.Read(scratch)
		if n > 0 {
			buffer.Write(scratch[:n])
			d.drain(&buffer)
		}
		if err != nil && !isTimeout(err) {
			if errors.Is(err, io.EOF) {
				log.Info("Stream closed")
			} else {
				log.Error("Stream read failed: %s", err)
			}
			d.doneLock.Lock()
			d.err = err
			d.doneLock.Unlock()
			return
		}
		select {
		case <-terminate:
			log.Info("Dispatcher service stopped")
			return
		default:
		}
		if n == 0 {
			select {
			case <-terminate:
				log.Info("Dispatcher service stopped")
				return
			case <-idle.C:
			}
		}
	}
}

// drain dispatches every complete frame in buffer. Frames that cannot be decoded are dropped.
func (d *Dispatcher) drain(buffer *bgapi.Buffer) {
	for {
		frame, ok := buffer.Next()
		if !ok {
			return
		}
		log.Frame("RX", bgapi.Name(frame.Identity), frame.Payload)
		message, err := bgapi.ClassifyFrame(frame)
		if err != nil {
			log.Warning("Dropping malformed frame: %s", err)
			continue
		}
		d.handler.Dispatch(message)
	}
}

// Stop signals the listener to exit and waits for it to do so. Bytes already read are dispatched
// first; a frame is never abandoned halfway through decoding.
func (d *Dispatcher) Stop() {
	d.doneLock.Lock()
	terminate := d.terminate
	d.terminate = nil
	d.doneLock.Unlock()
	if terminate != nil {
		close(terminate)
		<-d.done
	}
}

// Done returns a channel that is closed once the listener exits.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the stream error that terminated the listener, if any.
func (d *Dispatcher) Err() error {
	d.doneLock.Lock()
	defer d.doneLock.Unlock()
	return d.err
}

func (d *Dispatcher) listening() bool {
	d.doneLock.Lock()
	running := d.terminate != nil
	d.doneLock.Unlock()
	if !running {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Send encodes a command and writes it to the stream as a single write. The header's length byte
// is always recomputed from the command's current fields.
func (d *Dispatcher) Send(command bgapi.Command) error {
	if !d.listening() {
		return protocol.ErrNotConnected
	}
	encoded, err := bgapi.Marshal(command)
	if err != nil {
		return err
	}

	d.sendLock.Lock()
	defer d.sendLock.Unlock()
	log.Frame("TX", bgapi.Name(command.Identity()), encoded[bgapi.HeaderLength:])
	n, err := d.stream.Write(encoded)
	if err != nil {
		return err
	}
	if n != len(encoded) {
		return io.ErrShortWrite
	}
	return nil
}
