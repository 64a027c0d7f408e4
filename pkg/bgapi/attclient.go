package bgapi

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Attribute value types reported by AttributeValue.
const (
	ValueRead           uint8 = 0
	ValueNotify         uint8 = 1
	ValueIndicate       uint8 = 2
	ValueReadByType     uint8 = 3
	ValueReadBlob       uint8 = 4
	ValueIndicateRspReq uint8 = 5
)

func appendRange(b []byte, start, end uint16) []byte {
	return AppendUint16(AppendUint16(b, start), end)
}

// FindByTypeValue searches a handle range for attributes with a given 16-bit type and value.
type FindByTypeValue struct {
	Connection uint8
	Start, End uint16
	Type       uint16
	Value      []byte
}

func (*FindByTypeValue) isCommand()         {}
func (*FindByTypeValue) Identity() Identity { return IDFindByTypeValue }
func (m *FindByTypeValue) Payload() []byte {
	b := appendRange([]byte{m.Connection}, m.Start, m.End)
	return AppendArray(AppendUint16(b, m.Type), m.Value)
}

type FindByTypeValueResponse struct{ AttResult }

func (*FindByTypeValueResponse) Identity() Identity { return IDFindByTypeValue }

// ReadByGroupType enumerates attribute groups, such as primary services, in a handle range.
type ReadByGroupType struct {
	Connection uint8
	Start, End uint16
	Type       ble.UUID
}

func (*ReadByGroupType) isCommand()         {}
func (*ReadByGroupType) Identity() Identity { return IDReadByGroupType }
func (m *ReadByGroupType) Payload() []byte {
	return AppendArray(appendRange([]byte{m.Connection}, m.Start, m.End), m.Type)
}

type ReadByGroupTypeResponse struct{ AttResult }

func (*ReadByGroupTypeResponse) Identity() Identity { return IDReadByGroupType }

// ReadByType reads the values of attributes of a given type in a handle range.
type ReadByType struct {
	Connection uint8
	Start, End uint16
	Type       ble.UUID
}

func (*ReadByType) isCommand()         {}
func (*ReadByType) Identity() Identity { return IDReadByType }
func (m *ReadByType) Payload() []byte {
	return AppendArray(appendRange([]byte{m.Connection}, m.Start, m.End), m.Type)
}

type ReadByTypeResponse struct{ AttResult }

func (*ReadByTypeResponse) Identity() Identity { return IDReadByType }

// FindInformation lists the handle and type of every attribute in a handle range.
type FindInformation struct {
	Connection uint8
	Start, End uint16
}

func (*FindInformation) isCommand()         {}
func (*FindInformation) Identity() Identity { return IDFindInformation }
func (m *FindInformation) Payload() []byte {
	return appendRange([]byte{m.Connection}, m.Start, m.End)
}

type FindInformationResponse struct{ AttResult }

func (*FindInformationResponse) Identity() Identity { return IDFindInformation }

type ReadByHandle struct {
	Connection uint8
	Handle     uint16
}

func (*ReadByHandle) isCommand()         {}
func (*ReadByHandle) Identity() Identity { return IDReadByHandle }
func (m *ReadByHandle) Payload() []byte  { return AppendUint16([]byte{m.Connection}, m.Handle) }

type ReadByHandleResponse struct{ AttResult }

func (*ReadByHandleResponse) Identity() Identity { return IDReadByHandle }

type AttributeWrite struct {
	Connection uint8
	Handle     uint16
	Data       []byte
}

func (*AttributeWrite) isCommand()         {}
func (*AttributeWrite) Identity() Identity { return IDAttributeWrite }
func (m *AttributeWrite) Payload() []byte {
	return AppendArray(AppendUint16([]byte{m.Connection}, m.Handle), m.Data)
}

type AttributeWriteResponse struct{ AttResult }

func (*AttributeWriteResponse) Identity() Identity { return IDAttributeWrite }

// PrepareWrite queues part of a long write at the peripheral.
type PrepareWrite struct {
	Connection uint8
	Handle     uint16
	Offset     uint16
	Data       []byte
}

func (*PrepareWrite) isCommand()         {}
func (*PrepareWrite) Identity() Identity { return IDPrepareWrite }
func (m *PrepareWrite) Payload() []byte {
	b := AppendUint16(AppendUint16([]byte{m.Connection}, m.Handle), m.Offset)
	return AppendArray(b, m.Data)
}

type PrepareWriteResponse struct{ AttResult }

func (*PrepareWriteResponse) Identity() Identity { return IDPrepareWrite }

// ExecuteWrite commits (Commit = 1) or cancels (Commit = 0) queued prepared writes.
type ExecuteWrite struct {
	Connection uint8
	Commit     uint8
}

func (*ExecuteWrite) isCommand()         {}
func (*ExecuteWrite) Identity() Identity { return IDExecuteWrite }
func (m *ExecuteWrite) Payload() []byte  { return []byte{m.Connection, m.Commit} }

type ExecuteWriteResponse struct{ AttResult }

func (*ExecuteWriteResponse) Identity() Identity { return IDExecuteWrite }

type ReadMultiple struct {
	Connection uint8
	Handles    []uint16
}

func (*ReadMultiple) isCommand()         {}
func (*ReadMultiple) Identity() Identity { return IDReadMultiple }
func (m *ReadMultiple) Payload() []byte {
	var handles []byte
	for _, h := range m.Handles {
		handles = AppendUint16(handles, h)
	}
	return AppendArray([]byte{m.Connection}, handles)
}

type ReadMultipleResponse struct{ AttResult }

func (*ReadMultipleResponse) Identity() Identity { return IDReadMultiple }

// Events

type Indicated struct {
	Connection uint8
	Handle     uint16
}

func (*Indicated) Identity() Identity { return IDIndicated }
func (m *Indicated) Payload() []byte  { return AppendUint16([]byte{m.Connection}, m.Handle) }
func (m *Indicated) decode(p []byte) error {
	if err := checkLength(p, 3); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Handle = Uint16(p[1:])
	return nil
}

// ProcedureCompleted ends every multi-event attribute client procedure.
type ProcedureCompleted struct {
	Connection uint8
	Result     uint16
	Handle     uint16
}

func (*ProcedureCompleted) Identity() Identity   { return IDProcedureCompleted }
func (m *ProcedureCompleted) ResultCode() uint16 { return m.Result }
func (m *ProcedureCompleted) Payload() []byte {
	return AppendUint16(AppendUint16([]byte{m.Connection}, m.Result), m.Handle)
}
func (m *ProcedureCompleted) decode(p []byte) error {
	if err := checkLength(p, 5); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Result = Uint16(p[1:])
	m.Handle = Uint16(p[3:])
	return nil
}

// readUUID decodes a length-prefixed attribute type. Only 16 and 128-bit UUIDs appear on the wire.
func readUUID(b []byte) (ble.UUID, error) {
	u, err := ReadArray(b)
	if err != nil {
		return nil, err
	}
	if len(u) != 2 && len(u) != 16 {
		return nil, fmt.Errorf("%w: UUID of %d bytes", ErrMalformedPayload, len(u))
	}
	return u, nil
}

// GroupFound is one row produced by ReadByGroupType.
type GroupFound struct {
	Connection uint8
	Start, End uint16
	UUID       ble.UUID
}

func (*GroupFound) Identity() Identity { return IDGroupFound }
func (m *GroupFound) Payload() []byte {
	return AppendArray(appendRange([]byte{m.Connection}, m.Start, m.End), m.UUID)
}
func (m *GroupFound) decode(p []byte) (err error) {
	if err = checkLength(p, 6); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Start = Uint16(p[1:])
	m.End = Uint16(p[3:])
	m.UUID, err = readUUID(p[5:])
	return err
}

// AttributeFound is one row produced by FindByTypeValue.
type AttributeFound struct {
	Connection  uint8
	Declaration uint16
	Value       uint16
	Properties  uint8
	UUID        ble.UUID
}

func (*AttributeFound) Identity() Identity { return IDAttributeFound }
func (m *AttributeFound) Payload() []byte {
	b := AppendUint16(AppendUint16([]byte{m.Connection}, m.Declaration), m.Value)
	return AppendArray(append(b, m.Properties), m.UUID)
}
func (m *AttributeFound) decode(p []byte) (err error) {
	if err = checkLength(p, 7); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Declaration = Uint16(p[1:])
	m.Value = Uint16(p[3:])
	m.Properties = p[5]
	m.UUID, err = readUUID(p[6:])
	return err
}

// InformationFound is one row produced by FindInformation.
type InformationFound struct {
	Connection uint8
	Handle     uint16
	UUID       ble.UUID
}

func (*InformationFound) Identity() Identity { return IDInformationFound }
func (m *InformationFound) Payload() []byte {
	return AppendArray(AppendUint16([]byte{m.Connection}, m.Handle), m.UUID)
}
func (m *InformationFound) decode(p []byte) (err error) {
	if err = checkLength(p, 4); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Handle = Uint16(p[1:])
	m.UUID, err = readUUID(p[3:])
	return err
}

// AttributeValue carries a value read from, notified by or indicated by the peripheral.
type AttributeValue struct {
	Connection uint8
	Handle     uint16
	Type       uint8
	Value      []byte
}

func (*AttributeValue) Identity() Identity { return IDAttributeValue }
func (m *AttributeValue) Payload() []byte {
	return AppendArray(append(AppendUint16([]byte{m.Connection}, m.Handle), m.Type), m.Value)
}
func (m *AttributeValue) decode(p []byte) (err error) {
	if err = checkLength(p, 5); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Handle = Uint16(p[1:])
	m.Type = p[3]
	m.Value, err = ReadArray(p[4:])
	return err
}

func (m *AttributeValue) String() string {
	return fmt.Sprintf("handle %d = %02x", m.Handle, m.Value)
}

// MultipleValues carries the concatenated values requested by ReadMultiple.
type MultipleValues struct {
	Connection uint8
	Values     []byte
}

func (*MultipleValues) Identity() Identity { return IDMultipleValues }
func (m *MultipleValues) Payload() []byte  { return AppendArray([]byte{m.Connection}, m.Values) }
func (m *MultipleValues) decode(p []byte) (err error) {
	if err = checkLength(p, 2); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Values, err = ReadArray(p[1:])
	return err
}
