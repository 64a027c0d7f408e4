package dispatcher

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/connector"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

const (
	// DefaultLocalTimeout bounds how long to wait for the dongle to acknowledge a command.
	DefaultLocalTimeout = time.Second
	// DefaultRemoteTimeout bounds how long to wait for the peripheral.
	DefaultRemoteTimeout = 10 * time.Second
)

// Correlator matches inbound messages against armed expectations. Messages nobody is waiting for
// go to the handler registered for their kind, or are logged and dropped.
//
// Expectations must be armed before the command that triggers them is sent; an answer that
// arrives with nothing armed is not remembered.
type Correlator struct {
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	dispatcher *Dispatcher

	pendingLock sync.Mutex
	pending     []*Pending

	handlerLock sync.Mutex
	handlers    map[bgapi.Identity]func(bgapi.Message)
}

// NewCorrelator creates a Correlator and the Dispatcher that feeds it from stream.
func NewCorrelator(stream connector.Stream) *Correlator {
	c := &Correlator{
		LocalTimeout:  DefaultLocalTimeout,
		RemoteTimeout: DefaultRemoteTimeout,
		handlers:      make(map[bgapi.Identity]func(bgapi.Message)),
	}
	c.dispatcher = New(stream, c)
	return c
}

// Dispatcher returns the reader feeding c.
func (c *Correlator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Start launches the reader.
func (c *Correlator) Start(ctx context.Context) error {
	return c.dispatcher.Start(ctx)
}

// Stop terminates the reader. Pending waits fail with protocol.ErrNotConnected.
func (c *Correlator) Stop() {
	c.dispatcher.Stop()
}

// Done returns a channel that is closed once the reader has stopped.
func (c *Correlator) Done() <-chan struct{} {
	return c.dispatcher.Done()
}

// Send writes a command to the dongle without waiting for anything.
func (c *Correlator) Send(command bgapi.Command) error {
	return c.dispatcher.Send(command)
}

// Expect arms an expectation for the next message of the given kind.
func (c *Correlator) Expect(kind bgapi.Identity) *Pending {
	p := &Pending{
		kind:       kind,
		ch:         make(chan bgapi.Message, 1),
		correlator: c,
		armedAt:    time.Now(),
	}
	c.pendingLock.Lock()
	c.pending = append(c.pending, p)
	c.pendingLock.Unlock()
	return p
}

func (c *Correlator) disarm(p *Pending) {
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	if i := slices.Index(c.pending, p); i >= 0 {
		c.pending = slices.Delete(c.pending, i, i+1)
	}
}

// Armed returns the number of expectations currently waiting.
func (c *Correlator) Armed() int {
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	return len(c.pending)
}

// Handle registers fn for messages of the given kind that no expectation claims. It replaces any
// existing handler for that kind.
func (c *Correlator) Handle(kind bgapi.Identity, fn func(bgapi.Message)) {
	c.handlerLock.Lock()
	defer c.handlerLock.Unlock()
	c.handlers[kind] = fn
}

func (c *Correlator) Unhandle(kind bgapi.Identity) {
	c.handlerLock.Lock()
	defer c.handlerLock.Unlock()
	delete(c.handlers, kind)
}

// Dispatch routes a decoded message. It implements Handler and is normally invoked by the reader.
// The earliest expectation armed for the message's kind receives it.
func (c *Correlator) Dispatch(message bgapi.Message) {
	kind := message.Identity()

	c.pendingLock.Lock()
	for i, p := range c.pending {
		if p.kind == kind {
			c.pending = slices.Delete(c.pending, i, i+1)
			p.ch <- message
			c.pendingLock.Unlock()
			return
		}
	}
	c.pendingLock.Unlock()

	c.handlerLock.Lock()
	handler, ok := c.handlers[kind]
	c.handlerLock.Unlock()
	if ok {
		handler(message)
		return
	}
	log.Debug("Dropping unexpected %s", bgapi.Name(kind))
}

// WaitLocal arms an expectation for kind and waits for the dongle to produce it.
func (c *Correlator) WaitLocal(ctx context.Context, kind bgapi.Identity) (bgapi.Message, error) {
	return c.Expect(kind).WaitLocal(ctx)
}

// WaitRemote arms an expectation for kind and waits for the peripheral to produce it. A
// non-positive timeout selects RemoteTimeout.
func (c *Correlator) WaitRemote(ctx context.Context, kind bgapi.Identity, timeout time.Duration) (bgapi.Message, error) {
	return c.Expect(kind).WaitRemote(ctx, timeout)
}

// SendAndWaitLocal sends command and waits for the dongle's answer of the given kind.
func (c *Correlator) SendAndWaitLocal(ctx context.Context, command bgapi.Command, kind bgapi.Identity) (bgapi.Message, error) {
	p := c.Expect(kind)
	if err := c.Send(command); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.WaitLocal(ctx)
}

// Call sends command and waits for the dongle's response, which shares the command's identity. A
// response carrying a non-zero result yields a protocol.ProcedureError.
func (c *Correlator) Call(ctx context.Context, command bgapi.Command) (bgapi.Message, error) {
	response, err := c.SendAndWaitLocal(ctx, command, command.Identity())
	if err != nil {
		return nil, err
	}
	if r, ok := response.(bgapi.Resulter); ok && r.ResultCode() != 0 {
		return nil, protocol.CheckResult(bgapi.Name(command.Identity()), r.ResultCode())
	}
	return response, nil
}

// Completion waits on an expectation armed for bgapi.IDProcedureCompleted. A non-zero result is
// logged and reported through the returned event, not as an error.
func (c *Correlator) Completion(ctx context.Context, p *Pending) (*bgapi.ProcedureCompleted, error) {
	message, err := p.WaitRemote(ctx, 0)
	if err != nil {
		return nil, err
	}
	completed, ok := message.(*bgapi.ProcedureCompleted)
	if !ok {
		return nil, protocol.ErrBadResponse
	}
	if completed.Result != 0 {
		log.Warning("Procedure on handle 0x%04x failed: %s", completed.Handle, protocol.Reason(completed.Result))
	} else {
		log.Debug("Procedure on handle 0x%04x completed", completed.Handle)
	}
	return completed, nil
}

// CompleteProcedure waits for the peripheral to report that the current procedure finished and
// returns whether it succeeded.
func (c *Correlator) CompleteProcedure(ctx context.Context) (bool, error) {
	completed, err := c.Completion(ctx, c.Expect(bgapi.IDProcedureCompleted))
	if err != nil {
		return false, err
	}
	return completed.Result == 0, nil
}

// RunProcedure sends a command that starts a remote procedure. It waits for the dongle to accept
// the command and then for the procedure's completion event. Both are armed before the command is
// written. A rejected command yields a protocol.ProcedureError; a failed completion does not.
func (c *Correlator) RunProcedure(ctx context.Context, command bgapi.Command) (*bgapi.ProcedureCompleted, error) {
	done := c.Expect(bgapi.IDProcedureCompleted)
	if _, err := c.Call(ctx, command); err != nil {
		done.Cancel()
		return nil, err
	}
	return c.Completion(ctx, done)
}
