// Package dongletest simulates a BLED112 dongle connected to a single peripheral. A Dongle
// implements connector.Stream and answers commands the way the hardware does: a local response,
// followed by events from the peripheral where the procedure calls for them.
package dongletest

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/go-ble/ble"

	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
)

// Result codes produced by the simulator.
const (
	ResultWrongState       uint16 = 0x0181
	ResultNotConnected     uint16 = 0x0186
	ResultInvalidHandle    uint16 = 0x0401
	ResultAttrNotFound     uint16 = 0x040A
	ResultLocalTermination uint16 = 0x0216
)

// Attribute is one entry in the simulated peripheral's table.
type Attribute struct {
	Handle uint16
	Type   ble.UUID
	Value  []byte
}

// Service returns the declaration of a primary service.
func Service(handle uint16, uuid ble.UUID) Attribute {
	return Attribute{Handle: handle, Type: ble.UUID16(0x2800), Value: uuid}
}

// Characteristic returns a characteristic declaration at handle and its value at handle+1.
func Characteristic(handle uint16, properties uint8, uuid ble.UUID, value []byte) []Attribute {
	declaration := bgapi.AppendUint16([]byte{properties}, handle+1)
	declaration = append(declaration, uuid...)
	return []Attribute{
		{Handle: handle, Type: ble.UUID16(0x2803), Value: declaration},
		{Handle: handle + 1, Type: uuid, Value: value},
	}
}

// ClientConfig returns a client characteristic configuration descriptor.
func ClientConfig(handle uint16) Attribute {
	return Attribute{Handle: handle, Type: ble.UUID16(0x2902), Value: []byte{0, 0}}
}

// Dongle is a simulated dongle. The zero value is not usable; call New.
type Dongle struct {
	// ConnectionID is assigned to the next connection.
	ConnectionID uint8
	RSSI         int8
	Info         bgapi.Info

	lock       sync.Mutex
	attributes []Attribute
	inbound    []byte
	commands   []bgapi.Frame
	connected  bool
	address    bgapi.Address
	prepared   map[uint16][]byte
	failures   map[uint16]uint16
	mute       bool
	deaf       bool
}

// New creates a Dongle serving attrs. Attributes may be given in any order.
func New(attrs ...Attribute) *Dongle {
	d := &Dongle{
		RSSI:     -60,
		Info:     bgapi.Info{Major: 1, Minor: 3, Patch: 2, Build: 122, LLVersion: 1, ProtocolVersion: 1, Hardware: 1},
		prepared: make(map[uint16][]byte),
		failures: make(map[uint16]uint16),
	}
	for _, a := range attrs {
		d.attributes = append(d.attributes, Attribute{Handle: a.Handle, Type: a.Type, Value: slices.Clone(a.Value)})
	}
	slices.SortFunc(d.attributes, func(a, b Attribute) int { return int(a.Handle) - int(b.Handle) })
	return d
}

// HeartRateSensor returns a Dongle emulating a small heart rate sensor with a generic access
// service, a heart rate service, and a battery service.
func HeartRateSensor() *Dongle {
	var attrs []Attribute
	attrs = append(attrs, Service(1, ble.UUID16(0x1800)))
	attrs = append(attrs, Characteristic(2, 0x02, ble.UUID16(0x2A00), []byte("Angel Sensor"))...)
	attrs = append(attrs, Characteristic(4, 0x02, ble.UUID16(0x2A01), []byte{0x41, 0x03})...)
	attrs = append(attrs, Service(12, ble.UUID16(0x180D)))
	attrs = append(attrs, Characteristic(13, 0x10, ble.UUID16(0x2A37), []byte{0x00, 0x48})...)
	attrs = append(attrs, ClientConfig(15))
	attrs = append(attrs, Characteristic(16, 0x02, ble.UUID16(0x2A38), []byte{0x01})...)
	attrs = append(attrs, Characteristic(18, 0x08, ble.UUID16(0x2A39), []byte{0x00})...)
	attrs = append(attrs, Service(20, ble.UUID16(0x180F)))
	attrs = append(attrs, Characteristic(21, 0x12, ble.UUID16(0x2A19), []byte{87})...)
	attrs = append(attrs, ClientConfig(23))
	d := New(attrs...)
	d.ConnectionID = 2
	return d
}

// Read returns bytes produced by the dongle, or 0, nil if there are none.
func (d *Dongle) Read(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	n := copy(p, d.inbound)
	d.inbound = d.inbound[n:]
	return n, nil
}

// Write accepts one or more complete command frames.
func (d *Dongle) Write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	rest := p
	for len(rest) > 0 {
		frame, n, ok := bgapi.Decode(rest)
		if !ok {
			return 0, fmt.Errorf("dongletest: incomplete frame % x", rest)
		}
		rest = rest[n:]
		d.commands = append(d.commands, frame)
		if err := d.handle(frame); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Commands returns the identities of every command received so far.
func (d *Dongle) Commands() []bgapi.Identity {
	d.lock.Lock()
	defer d.lock.Unlock()
	ids := make([]bgapi.Identity, len(d.commands))
	for i, f := range d.commands {
		ids[i] = f.Identity
	}
	return ids
}

// Count returns how many commands of kind id were received.
func (d *Dongle) Count(id bgapi.Identity) int {
	n := 0
	for _, c := range d.Commands() {
		if c == id {
			n++
		}
	}
	return n
}

// Value returns the current value of the attribute at handle.
func (d *Dongle) Value(handle uint16) []byte {
	d.lock.Lock()
	defer d.lock.Unlock()
	if a := d.attribute(handle); a != nil {
		return slices.Clone(a.Value)
	}
	return nil
}

// Connected reports whether the simulated link is up.
func (d *Dongle) Connected() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.connected
}

// SetMute stops the dongle from answering commands at all, as if it had hung.
func (d *Dongle) SetMute(mute bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.mute = mute
}

// SetDeaf makes the peripheral stop responding. The dongle still acknowledges commands but no
// remote events follow.
func (d *Dongle) SetDeaf(deaf bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.deaf = deaf
}

// Fail makes procedures that target handle complete with an error code.
func (d *Dongle) Fail(handle uint16, code uint16) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.failures[handle] = code
}

// Notify emits a notification for handle, as if the peripheral had sent one.
func (d *Dongle) Notify(handle uint16, value []byte) {
	d.Emit(&bgapi.AttributeValue{Connection: d.ConnectionID, Handle: handle, Type: bgapi.ValueNotify, Value: value})
}

// Emit queues an arbitrary message for the host.
func (d *Dongle) Emit(m bgapi.Message) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.emit(m)
}

// DropConnection simulates the peripheral going out of range.
func (d *Dongle) DropConnection(reason uint16) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.connected {
		d.connected = false
		d.emit(&bgapi.Disconnected{Connection: d.ConnectionID, Reason: reason})
	}
}

func (d *Dongle) emit(m bgapi.Message) {
	encoded, err := bgapi.Marshal(m)
	if err != nil {
		panic(err)
	}
	d.inbound = append(d.inbound, encoded...)
}

func (d *Dongle) respond(m bgapi.Message) {
	if !d.mute {
		d.emit(m)
	}
}

// remote emits an event that originates from the peripheral.
func (d *Dongle) remote(m bgapi.Message) {
	if !d.mute && !d.deaf {
		d.emit(m)
	}
}

func (d *Dongle) attribute(handle uint16) *Attribute {
	for i := range d.attributes {
		if d.attributes[i].Handle == handle {
			return &d.attributes[i]
		}
	}
	return nil
}

func (d *Dongle) inRange(start, end uint16) []*Attribute {
	var attrs []*Attribute
	for i := range d.attributes {
		if a := &d.attributes[i]; start <= a.Handle && a.Handle <= end {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// groupEnd returns the last handle of the service declared at index i.
func (d *Dongle) groupEnd(i int) uint16 {
	for _, a := range d.attributes[i+1:] {
		if a.Type.Equal(ble.UUID16(0x2800)) {
			return a.Handle - 1
		}
	}
	return d.attributes[len(d.attributes)-1].Handle
}

func (d *Dongle) complete(code uint16, handle uint16) {
	d.remote(&bgapi.ProcedureCompleted{Connection: d.ConnectionID, Result: code, Handle: handle})
}

type payloadReader struct {
	b   []byte
	err error
}

func (r *payloadReader) u8() uint8 {
	if len(r.b) < 1 {
		r.err = bgapi.ErrMalformedPayload
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *payloadReader) u16() uint16 {
	if len(r.b) < 2 {
		r.err = bgapi.ErrMalformedPayload
		return 0
	}
	v := bgapi.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *payloadReader) array() []byte {
	data, err := bgapi.ReadArray(r.b)
	if err != nil {
		r.err = err
	}
	r.b = nil
	return data
}

func (d *Dongle) handle(frame bgapi.Frame) error {
	r := &payloadReader{b: frame.Payload}
	switch frame.Identity {
	case bgapi.IDHello:
		d.respond(&bgapi.HelloResponse{})
	case bgapi.IDReset:
		d.connected = false
		d.respond(&bgapi.SystemBoot{Info: d.Info})
	case bgapi.IDGetInfo:
		d.respond(&bgapi.GetInfoResponse{Info: d.Info})
	case bgapi.IDGetConnections:
		d.respond(&bgapi.GetConnectionsResponse{MaxConnections: 3})
	case bgapi.IDConnectDirect:
		copy(d.address[:], r.b)
		if d.connected {
			d.respond(&bgapi.ConnectDirectResponse{Result: ResultWrongState})
			break
		}
		d.respond(&bgapi.ConnectDirectResponse{Connection: d.ConnectionID})
		d.connected = true
		d.remote(&bgapi.ConnectionStatus{
			Connection: d.ConnectionID,
			Flags:      bgapi.FlagConnected | bgapi.FlagCompleted,
			Address:    d.address,
			Interval:   32,
			Timeout:    100,
			Bonding:    0xFF,
		})
	case bgapi.IDDisconnect:
		connection := r.u8()
		if !d.connected || connection != d.ConnectionID {
			d.respond(&bgapi.DisconnectResponse{AttResult: bgapi.AttResult{Connection: connection, Result: ResultNotConnected}})
			break
		}
		d.respond(&bgapi.DisconnectResponse{AttResult: bgapi.AttResult{Connection: connection}})
		d.connected = false
		d.respond(&bgapi.Disconnected{Connection: connection, Reason: ResultLocalTermination})
	case bgapi.IDGetRSSI:
		d.respond(&bgapi.GetRSSIResponse{Connection: r.u8(), RSSI: d.RSSI})
	case bgapi.IDReadByGroupType:
		d.readByGroupType(r)
	case bgapi.IDFindInformation:
		d.findInformation(r)
	case bgapi.IDReadByType:
		d.readByType(r)
	case bgapi.IDFindByTypeValue:
		d.findByTypeValue(r)
	case bgapi.IDReadByHandle:
		d.readByHandle(r)
	case bgapi.IDAttributeWrite:
		d.write(r)
	case bgapi.IDPrepareWrite:
		d.prepareWrite(r)
	case bgapi.IDExecuteWrite:
		d.executeWrite(r)
	case bgapi.IDReadMultiple:
		d.readMultiple(r)
	default:
		return fmt.Errorf("dongletest: unsupported command %s", frame.Identity)
	}
	return r.err
}

// accept answers an attribute client command. It returns false if the command was rejected.
func (d *Dongle) accept(connection uint8, response func(bgapi.AttResult) bgapi.Message) bool {
	result := bgapi.AttResult{Connection: connection}
	if !d.connected || connection != d.ConnectionID {
		result.Result = ResultNotConnected
	}
	d.respond(response(result))
	return result.Result == 0
}

func (d *Dongle) readByGroupType(r *payloadReader) {
	connection, start, end := r.u8(), r.u16(), r.u16()
	groupType := ble.UUID(r.array())
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.ReadByGroupTypeResponse{AttResult: result}
	}) {
		return
	}
	found := false
	for i, a := range d.attributes {
		if a.Handle < start || a.Handle > end || !a.Type.Equal(groupType) {
			continue
		}
		found = true
		d.remote(&bgapi.GroupFound{Connection: connection, Start: a.Handle, End: d.groupEnd(i), UUID: a.Value})
	}
	if found {
		d.complete(0, start)
	} else {
		d.complete(ResultAttrNotFound, start)
	}
}

func (d *Dongle) findInformation(r *payloadReader) {
	connection, start, end := r.u8(), r.u16(), r.u16()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.FindInformationResponse{AttResult: result}
	}) {
		return
	}
	for _, a := range d.inRange(start, end) {
		d.remote(&bgapi.InformationFound{Connection: connection, Handle: a.Handle, UUID: a.Type})
	}
	d.complete(0, start)
}

func (d *Dongle) readByType(r *payloadReader) {
	connection, start, end := r.u8(), r.u16(), r.u16()
	attrType := ble.UUID(r.array())
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.ReadByTypeResponse{AttResult: result}
	}) {
		return
	}
	found := false
	for _, a := range d.inRange(start, end) {
		if a.Type.Equal(attrType) {
			found = true
			d.remote(&bgapi.AttributeValue{Connection: connection, Handle: a.Handle, Type: bgapi.ValueReadByType, Value: a.Value})
		}
	}
	if found {
		d.complete(0, start)
	} else {
		d.complete(ResultAttrNotFound, start)
	}
}

func (d *Dongle) findByTypeValue(r *payloadReader) {
	connection, start, end, attrType := r.u8(), r.u16(), r.u16(), r.u16()
	value := r.array()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.FindByTypeValueResponse{AttResult: result}
	}) {
		return
	}
	found := false
	for i, a := range d.attributes {
		if a.Handle < start || a.Handle > end || !a.Type.Equal(ble.UUID16(attrType)) || !bytes.Equal(a.Value, value) {
			continue
		}
		found = true
		d.remote(&bgapi.GroupFound{Connection: connection, Start: a.Handle, End: d.groupEnd(i), UUID: a.Value})
	}
	if found {
		d.complete(0, start)
	} else {
		d.complete(ResultAttrNotFound, start)
	}
}

func (d *Dongle) readByHandle(r *payloadReader) {
	connection, handle := r.u8(), r.u16()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.ReadByHandleResponse{AttResult: result}
	}) {
		return
	}
	a := d.attribute(handle)
	if code, ok := d.failures[handle]; ok {
		d.complete(code, handle)
		return
	}
	if a == nil {
		d.complete(ResultInvalidHandle, handle)
		return
	}
	d.remote(&bgapi.AttributeValue{Connection: connection, Handle: handle, Type: bgapi.ValueRead, Value: a.Value})
}

func (d *Dongle) readMultiple(r *payloadReader) {
	connection := r.u8()
	handles := r.array()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.ReadMultipleResponse{AttResult: result}
	}) {
		return
	}
	var values []byte
	for i := 0; i+1 < len(handles); i += 2 {
		handle := bgapi.Uint16(handles[i:])
		a := d.attribute(handle)
		if a == nil {
			d.complete(ResultInvalidHandle, handle)
			return
		}
		values = append(values, a.Value...)
	}
	d.remote(&bgapi.MultipleValues{Connection: connection, Values: values})
}

func (d *Dongle) write(r *payloadReader) {
	connection, handle := r.u8(), r.u16()
	data := r.array()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.AttributeWriteResponse{AttResult: result}
	}) {
		return
	}
	if code, ok := d.failures[handle]; ok {
		d.complete(code, handle)
		return
	}
	a := d.attribute(handle)
	if a == nil {
		d.complete(ResultInvalidHandle, handle)
		return
	}
	a.Value = slices.Clone(data)
	d.complete(0, handle)
}

func (d *Dongle) prepareWrite(r *payloadReader) {
	connection, handle, offset := r.u8(), r.u16(), r.u16()
	data := r.array()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.PrepareWriteResponse{AttResult: result}
	}) {
		return
	}
	if code, ok := d.failures[handle]; ok {
		d.complete(code, handle)
		return
	}
	if d.attribute(handle) == nil {
		d.complete(ResultInvalidHandle, handle)
		return
	}
	queued := d.prepared[handle]
	if int(offset) != len(queued) {
		d.complete(0x0407, handle)
		return
	}
	d.prepared[handle] = append(queued, data...)
	d.complete(0, handle)
}

func (d *Dongle) executeWrite(r *payloadReader) {
	connection, commit := r.u8(), r.u8()
	if !d.accept(connection, func(result bgapi.AttResult) bgapi.Message {
		return &bgapi.ExecuteWriteResponse{AttResult: result}
	}) {
		return
	}
	if commit != 0 {
		for handle, value := range d.prepared {
			d.attribute(handle).Value = value
		}
	}
	clear(d.prepared)
	d.complete(0, 0)
}
