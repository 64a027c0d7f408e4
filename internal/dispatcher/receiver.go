package dispatcher

import (
	"context"
	"time"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

// Pending represents an armed expectation for a single message kind. It receives at most one
// message; once that message has been delivered (or the wait given up), the Pending is spent.
type Pending struct {
	kind       bgapi.Identity
	ch         chan bgapi.Message
	correlator *Correlator
	armedAt    time.Time
}

// Kind returns the identity p is waiting for.
func (p *Pending) Kind() bgapi.Identity {
	return p.kind
}

// Receive returns the channel p's message is delivered on, for callers that wait on more than one
// expectation at a time. Such callers must Cancel p when they are done with it.
func (p *Pending) Receive() <-chan bgapi.Message {
	return p.ch
}

// Cancel disarms p. A message that was already delivered remains readable through Wait.
func (p *Pending) Cancel() {
	if p.correlator != nil {
		p.correlator.disarm(p)
	}
}

// Wait blocks until p receives its message, timeout elapses, ctx is cancelled, or the reader
// servicing the dongle exits. On timeout it returns timeoutErr.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration, timeoutErr error) (bgapi.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case message := <-p.ch:
		return message, nil
	case <-timer.C:
		err = timeoutErr
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.correlator.Done():
		err = protocol.ErrNotConnected
	}

	p.Cancel()
	// Delivery happens under the correlator's lock, so after disarming the slot is final.
	select {
	case message := <-p.ch:
		return message, nil
	default:
	}
	log.Debug("Gave up waiting for %s after %s: %s", bgapi.Name(p.kind), time.Since(p.armedAt), err)
	return nil, err
}

// WaitLocal waits for an answer from the dongle itself.
func (p *Pending) WaitLocal(ctx context.Context) (bgapi.Message, error) {
	return p.Wait(ctx, p.correlator.LocalTimeout, protocol.ErrLocalTimeout)
}

// WaitRemote waits for an answer that originates from the peripheral. A non-positive timeout
// selects the correlator's RemoteTimeout.
func (p *Pending) WaitRemote(ctx context.Context, timeout time.Duration) (bgapi.Message, error) {
	if timeout <= 0 {
		timeout = p.correlator.RemoteTimeout
	}
	return p.Wait(ctx, timeout, protocol.ErrRemoteTimeout)
}
