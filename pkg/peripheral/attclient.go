package peripheral

import (
	"context"
	"time"

	"github.com/go-ble/ble"

	"github.com/AngelSensor/angel-sdk/internal/dispatcher"
	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/gatt"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

// MaxChunkLength is the largest fragment a single prepared write can carry.
const MaxChunkLength = 18

// Client characteristic configuration flags.
const (
	ConfigNotify   uint8 = 0x01
	ConfigIndicate uint8 = 0x02
)

// collect runs a procedure that reports its results as a series of kind events, passing each
// event to row. A procedure that completes with an error is not fatal: it usually means the
// peripheral ran out of results, and whatever arrived before is kept.
func (p *Peripheral) collect(ctx context.Context, command bgapi.Command, kind bgapi.Identity, row func(bgapi.Message)) error {
	p.correlator.Handle(kind, row)
	defer p.correlator.Unhandle(kind)
	_, err := p.correlator.RunProcedure(ctx, command)
	return err
}

// ReadByGroupType lists attribute groups of type groupType between start and end.
func (p *Peripheral) ReadByGroupType(ctx context.Context, start, end uint16, groupType ble.UUID) ([]gatt.Group, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	var rows collector[gatt.Group]
	command := &bgapi.ReadByGroupType{Connection: id, Start: start, End: end, Type: groupType}
	err = p.collect(ctx, command, bgapi.IDGroupFound, func(m bgapi.Message) {
		found := m.(*bgapi.GroupFound)
		rows.add(gatt.Group{Start: found.Start, End: found.End, UUID: found.UUID})
	})
	if err != nil {
		return nil, err
	}
	return rows.result(), nil
}

// FindInformation lists every attribute between start and end.
func (p *Peripheral) FindInformation(ctx context.Context, start, end uint16) ([]*gatt.Descriptor, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	var rows collector[*gatt.Descriptor]
	command := &bgapi.FindInformation{Connection: id, Start: start, End: end}
	err = p.collect(ctx, command, bgapi.IDInformationFound, func(m bgapi.Message) {
		found := m.(*bgapi.InformationFound)
		rows.add(&gatt.Descriptor{UUID: found.UUID, Handle: found.Handle})
	})
	if err != nil {
		return nil, err
	}
	return rows.result(), nil
}

// FindByTypeValue lists the groups between start and end whose declaration has the given 16-bit
// type and value. It is typically used to locate a single primary service.
func (p *Peripheral) FindByTypeValue(ctx context.Context, start, end uint16, attrType uint16, value []byte) ([]gatt.Group, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	var rows collector[gatt.Group]
	command := &bgapi.FindByTypeValue{Connection: id, Start: start, End: end, Type: attrType, Value: value}
	err = p.collect(ctx, command, bgapi.IDGroupFound, func(m bgapi.Message) {
		found := m.(*bgapi.GroupFound)
		rows.add(gatt.Group{Start: found.Start, End: found.End, UUID: found.UUID})
	})
	if err != nil {
		return nil, err
	}
	return rows.result(), nil
}

// ReadByType reads every attribute of type attrType between start and end.
func (p *Peripheral) ReadByType(ctx context.Context, start, end uint16, attrType ble.UUID) ([]*bgapi.AttributeValue, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	var rows collector[*bgapi.AttributeValue]
	p.values.collectRows(rows.add)
	defer p.values.collectRows(nil)
	if _, err := p.correlator.RunProcedure(ctx, &bgapi.ReadByType{Connection: id, Start: start, End: end, Type: attrType}); err != nil {
		return nil, err
	}
	return rows.result(), nil
}

// write runs a procedure that ends with a completion event and treats a non-zero result as an
// error.
func (p *Peripheral) write(ctx context.Context, command bgapi.Command) error {
	completed, err := p.correlator.RunProcedure(ctx, command)
	if err != nil {
		return err
	}
	return protocol.CheckResult(bgapi.Name(command.Identity()), completed.Result)
}

// Write sets the value of the attribute at handle and waits for the peripheral to acknowledge it.
func (p *Peripheral) Write(ctx context.Context, handle uint16, data []byte) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return err
	}
	return p.write(ctx, &bgapi.AttributeWrite{Connection: id, Handle: handle, Data: data})
}

// Read returns the value of the attribute at handle.
func (p *Peripheral) Read(ctx context.Context, handle uint16) ([]byte, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	w := p.values.expect(handle)
	defer p.values.cancel(w)
	// A failed read produces a completion event instead of a value.
	failure := p.correlator.Expect(bgapi.IDProcedureCompleted)
	defer failure.Cancel()

	if _, err := p.correlator.Call(ctx, &bgapi.ReadByHandle{Connection: id, Handle: handle}); err != nil {
		return nil, err
	}
	value, err := p.awaitValue(ctx, w, failure, 0)
	if err != nil {
		return nil, err
	}
	return value.Value, nil
}

// ReadMultiple reads several attributes in one procedure. The peripheral returns their values
// concatenated, so at most the last attribute may have a variable length.
func (p *Peripheral) ReadMultiple(ctx context.Context, handles []uint16) ([]byte, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return nil, err
	}

	values := p.correlator.Expect(bgapi.IDMultipleValues)
	defer values.Cancel()
	failure := p.correlator.Expect(bgapi.IDProcedureCompleted)
	defer failure.Cancel()

	if _, err := p.correlator.Call(ctx, &bgapi.ReadMultiple{Connection: id, Handles: handles}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.correlator.RemoteTimeout)
	defer timer.Stop()
	select {
	case m := <-values.Receive():
		result, ok := m.(*bgapi.MultipleValues)
		if !ok {
			return nil, protocol.ErrBadResponse
		}
		return result.Values, nil
	case m := <-failure.Receive():
		completed, ok := m.(*bgapi.ProcedureCompleted)
		if !ok {
			return nil, protocol.ErrBadResponse
		}
		if completed.Result == 0 {
			return nil, protocol.ErrBadResponse
		}
		return nil, &protocol.ProcedureError{Operation: bgapi.Name(bgapi.IDReadMultiple), Code: completed.Result}
	case <-timer.C:
		return nil, protocol.ErrRemoteTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.Done():
		return nil, protocol.ErrNotConnected
	}
}

// WaitValue waits for the next value the peripheral reports for handle, whether read, notified,
// or indicated. A non-positive timeout selects the remote timeout.
func (p *Peripheral) WaitValue(ctx context.Context, handle uint16, timeout time.Duration) ([]byte, error) {
	w := p.values.expect(handle)
	defer p.values.cancel(w)
	value, err := p.awaitValue(ctx, w, nil, timeout)
	if err != nil {
		return nil, err
	}
	return value.Value, nil
}

func (p *Peripheral) awaitValue(ctx context.Context, w *valueWaiter, failure *dispatcher.Pending, timeout time.Duration) (*bgapi.AttributeValue, error) {
	if timeout <= 0 {
		timeout = p.correlator.RemoteTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var completions <-chan bgapi.Message
	if failure != nil {
		completions = failure.Receive()
	}
	var err error
	for err == nil {
		select {
		case value := <-w.ch:
			return value, nil
		case m := <-completions:
			completed, ok := m.(*bgapi.ProcedureCompleted)
			if !ok {
				return nil, protocol.ErrBadResponse
			}
			if completed.Result != 0 {
				return nil, &protocol.ProcedureError{Operation: bgapi.Name(bgapi.IDReadByHandle), Code: completed.Result}
			}
			completions = nil
		case <-timer.C:
			err = protocol.ErrRemoteTimeout
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.Done():
			err = protocol.ErrNotConnected
		}
	}

	p.values.cancel(w)
	select {
	case value := <-w.ch:
		return value, nil
	default:
	}
	log.Debug("No value for handle %d: %s", w.handle, err)
	return nil, err
}

// Subscribe registers fn to receive every notification and indication for handle. The peripheral
// only sends them once its client characteristic configuration has been written; see
// ConfigureClientCharacteristic. fn runs on the reader goroutine and must not block.
func (p *Peripheral) Subscribe(handle uint16, fn func(value []byte)) (unsubscribe func()) {
	return p.values.subscribe(handle, fn)
}

// ConfigureClientCharacteristic enables or disables notifications and indications for a
// characteristic by writing its client characteristic configuration descriptor.
func (p *Peripheral) ConfigureClientCharacteristic(ctx context.Context, service, characteristic string, notify, indicate bool) error {
	t := p.Table()
	if t == nil {
		return ErrNoTable
	}
	handle, err := t.DescriptorHandle(service, characteristic, gatt.UUIDString(gatt.ClientCharacteristicConfigUUID))
	if err != nil {
		return err
	}
	var flags uint8
	if notify {
		flags |= ConfigNotify
	}
	if indicate {
		flags |= ConfigIndicate
	}
	return p.Write(ctx, handle, []byte{flags, 0x00})
}

// PrepareWrite queues chunks at the peripheral for the attribute at handle. Offsets advance by the
// length of each chunk. Nothing takes effect until ExecuteWrite.
func (p *Peripheral) PrepareWrite(ctx context.Context, handle uint16, chunks [][]byte) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	return p.prepareWrite(ctx, handle, chunks)
}

func (p *Peripheral) prepareWrite(ctx context.Context, handle uint16, chunks [][]byte) error {
	id, err := p.connection()
	if err != nil {
		return err
	}
	var offset uint16
	for _, chunk := range chunks {
		if err := p.write(ctx, &bgapi.PrepareWrite{Connection: id, Handle: handle, Offset: offset, Data: chunk}); err != nil {
			return err
		}
		offset += uint16(len(chunk))
	}
	return nil
}

// ExecuteWrite commits or discards the writes queued by PrepareWrite.
func (p *Peripheral) ExecuteWrite(ctx context.Context, commit bool) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	return p.executeWrite(ctx, commit)
}

func (p *Peripheral) executeWrite(ctx context.Context, commit bool) error {
	id, err := p.connection()
	if err != nil {
		return err
	}
	command := &bgapi.ExecuteWrite{Connection: id}
	if commit {
		command.Commit = 1
	}
	return p.write(ctx, command)
}

// WriteLong writes a value too long for a single write. The queued chunks are discarded if any of
// them is rejected.
func (p *Peripheral) WriteLong(ctx context.Context, handle uint16, data []byte) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()

	var chunks [][]byte
	for len(data) > MaxChunkLength {
		chunks = append(chunks, data[:MaxChunkLength])
		data = data[MaxChunkLength:]
	}
	chunks = append(chunks, data)

	if err := p.prepareWrite(ctx, handle, chunks); err != nil {
		if cancelErr := p.executeWrite(ctx, false); cancelErr != nil {
			log.Warning("Couldn't discard prepared writes: %s", cancelErr)
		}
		return err
	}
	return p.executeWrite(ctx, true)
}
