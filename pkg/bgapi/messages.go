package bgapi

import "fmt"

// Message is any frame exchanged with the dongle, decoded into typed fields.
type Message interface {
	Identity() Identity
	// Payload re-encodes the message's fields. The result may exceed MaxPayloadLength, in which
	// case Encode rejects it.
	Payload() []byte
}

// Command is a Message the host may send to the dongle.
type Command interface {
	Message
	isCommand()
}

// Resulter is implemented by messages that report a procedure outcome. Zero means success.
type Resulter interface {
	ResultCode() uint16
}

type decoder interface {
	Message
	decode(payload []byte) error
}

const (
	groupSystem     byte = 0x00
	groupConnection byte = 0x03
	groupAttClient  byte = 0x04
	groupSM         byte = 0x05
	groupGAP        byte = 0x06
)

// Message kinds. Commands and their responses share an identity.
var (
	IDReset          = Identity{ClassCommand, groupSystem, 0x00}
	IDHello          = Identity{ClassCommand, groupSystem, 0x01}
	IDGetConnections = Identity{ClassCommand, groupSystem, 0x06}
	IDGetInfo        = Identity{ClassCommand, groupSystem, 0x08}
	IDSystemBoot     = Identity{ClassEvent, groupSystem, 0x00}
	IDProtocolError  = Identity{ClassEvent, groupSystem, 0x06}

	IDDisconnect       = Identity{ClassCommand, groupConnection, 0x00}
	IDGetRSSI          = Identity{ClassCommand, groupConnection, 0x01}
	IDConnectionStatus = Identity{ClassEvent, groupConnection, 0x00}
	IDDisconnected     = Identity{ClassEvent, groupConnection, 0x04}

	IDFindByTypeValue    = Identity{ClassCommand, groupAttClient, 0x00}
	IDReadByGroupType    = Identity{ClassCommand, groupAttClient, 0x01}
	IDReadByType         = Identity{ClassCommand, groupAttClient, 0x02}
	IDFindInformation    = Identity{ClassCommand, groupAttClient, 0x03}
	IDReadByHandle       = Identity{ClassCommand, groupAttClient, 0x04}
	IDAttributeWrite     = Identity{ClassCommand, groupAttClient, 0x05}
	IDPrepareWrite       = Identity{ClassCommand, groupAttClient, 0x09}
	IDExecuteWrite       = Identity{ClassCommand, groupAttClient, 0x0A}
	IDReadMultiple       = Identity{ClassCommand, groupAttClient, 0x0B}
	IDIndicated          = Identity{ClassEvent, groupAttClient, 0x00}
	IDProcedureCompleted = Identity{ClassEvent, groupAttClient, 0x01}
	IDGroupFound         = Identity{ClassEvent, groupAttClient, 0x02}
	IDAttributeFound     = Identity{ClassEvent, groupAttClient, 0x03}
	IDInformationFound   = Identity{ClassEvent, groupAttClient, 0x04}
	IDAttributeValue     = Identity{ClassEvent, groupAttClient, 0x05}
	IDMultipleValues     = Identity{ClassEvent, groupAttClient, 0x06}

	IDBondingFail = Identity{ClassEvent, groupSM, 0x01}

	IDConnectDirect = Identity{ClassCommand, groupGAP, 0x03}
)

func checkLength(payload []byte, min int) error {
	if len(payload) < min {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedPayload, min, len(payload))
	}
	return nil
}

// Unknown carries a frame whose identity is not in the registry.
type Unknown struct {
	ID   Identity
	Data []byte
}

func (m *Unknown) Identity() Identity { return m.ID }
func (m *Unknown) Payload() []byte    { return m.Data }

// AttResult is the body shared by responses that acknowledge a command for a connection.
type AttResult struct {
	Connection uint8
	Result     uint16
}

func (r *AttResult) ResultCode() uint16 { return r.Result }

func (r *AttResult) Payload() []byte {
	return AppendUint16([]byte{r.Connection}, r.Result)
}

func (r *AttResult) decode(p []byte) error {
	if err := checkLength(p, 3); err != nil {
		return err
	}
	r.Connection = p[0]
	r.Result = Uint16(p[1:])
	return nil
}

// System

type Reset struct {
	Mode uint8 // 0 boots into the application, 1 into DFU.
}

func (*Reset) isCommand()         {}
func (*Reset) Identity() Identity { return IDReset }
func (m *Reset) Payload() []byte  { return []byte{m.Mode} }

type Hello struct{}

func (*Hello) isCommand()         {}
func (*Hello) Identity() Identity { return IDHello }
func (*Hello) Payload() []byte    { return nil }

type HelloResponse struct{}

func (*HelloResponse) Identity() Identity  { return IDHello }
func (*HelloResponse) Payload() []byte     { return nil }
func (*HelloResponse) decode([]byte) error { return nil }

// Info describes the dongle firmware.
type Info struct {
	Major, Minor, Patch, Build uint16
	LLVersion                  uint16
	ProtocolVersion            uint8
	Hardware                   uint8
}

func (i Info) String() string {
	return fmt.Sprintf("firmware %d.%d.%d build %d, protocol %d, hardware %d", i.Major, i.Minor, i.Patch, i.Build, i.ProtocolVersion, i.Hardware)
}

func (i *Info) Payload() []byte {
	b := AppendUint16(nil, i.Major)
	b = AppendUint16(b, i.Minor)
	b = AppendUint16(b, i.Patch)
	b = AppendUint16(b, i.Build)
	b = AppendUint16(b, i.LLVersion)
	return append(b, i.ProtocolVersion, i.Hardware)
}

func (i *Info) decode(p []byte) error {
	if err := checkLength(p, 12); err != nil {
		return err
	}
	i.Major = Uint16(p[0:])
	i.Minor = Uint16(p[2:])
	i.Patch = Uint16(p[4:])
	i.Build = Uint16(p[6:])
	i.LLVersion = Uint16(p[8:])
	i.ProtocolVersion = p[10]
	i.Hardware = p[11]
	return nil
}

type GetInfo struct{}

func (*GetInfo) isCommand()         {}
func (*GetInfo) Identity() Identity { return IDGetInfo }
func (*GetInfo) Payload() []byte    { return nil }

type GetInfoResponse struct{ Info }

func (*GetInfoResponse) Identity() Identity { return IDGetInfo }

// SystemBoot is sent by the dongle after a reset.
type SystemBoot struct{ Info }

func (*SystemBoot) Identity() Identity { return IDSystemBoot }

type GetConnections struct{}

func (*GetConnections) isCommand()         {}
func (*GetConnections) Identity() Identity { return IDGetConnections }
func (*GetConnections) Payload() []byte    { return nil }

type GetConnectionsResponse struct {
	MaxConnections uint8
}

func (*GetConnectionsResponse) Identity() Identity { return IDGetConnections }
func (m *GetConnectionsResponse) Payload() []byte  { return []byte{m.MaxConnections} }
func (m *GetConnectionsResponse) decode(p []byte) error {
	if err := checkLength(p, 1); err != nil {
		return err
	}
	m.MaxConnections = p[0]
	return nil
}

// ProtocolError reports a malformed command received by the dongle.
type ProtocolError struct {
	Reason uint16
}

func (*ProtocolError) Identity() Identity   { return IDProtocolError }
func (m *ProtocolError) Payload() []byte    { return AppendUint16(nil, m.Reason) }
func (m *ProtocolError) ResultCode() uint16 { return m.Reason }
func (m *ProtocolError) decode(p []byte) error {
	if err := checkLength(p, 2); err != nil {
		return err
	}
	m.Reason = Uint16(p)
	return nil
}

// Connection

type Disconnect struct {
	Connection uint8
}

func (*Disconnect) isCommand()         {}
func (*Disconnect) Identity() Identity { return IDDisconnect }
func (m *Disconnect) Payload() []byte  { return []byte{m.Connection} }

type DisconnectResponse struct{ AttResult }

func (*DisconnectResponse) Identity() Identity { return IDDisconnect }

type GetRSSI struct {
	Connection uint8
}

func (*GetRSSI) isCommand()         {}
func (*GetRSSI) Identity() Identity { return IDGetRSSI }
func (m *GetRSSI) Payload() []byte  { return []byte{m.Connection} }

type GetRSSIResponse struct {
	Connection uint8
	RSSI       int8
}

func (*GetRSSIResponse) Identity() Identity { return IDGetRSSI }
func (m *GetRSSIResponse) Payload() []byte  { return []byte{m.Connection, byte(m.RSSI)} }
func (m *GetRSSIResponse) decode(p []byte) error {
	if err := checkLength(p, 2); err != nil {
		return err
	}
	m.Connection = p[0]
	m.RSSI = int8(p[1])
	return nil
}

// Connection status flags.
const (
	FlagConnected        uint8 = 0x01
	FlagEncrypted        uint8 = 0x02
	FlagCompleted        uint8 = 0x04
	FlagParametersChange uint8 = 0x08
)

const connectionStatusLength = 16

// ConnectionStatus reports a new or updated connection.
type ConnectionStatus struct {
	Connection  uint8
	Flags       uint8
	Address     Address
	AddressType uint8
	Interval    uint16
	Timeout     uint16
	Latency     uint16
	Bonding     uint8
}

func (*ConnectionStatus) Identity() Identity { return IDConnectionStatus }

func (m *ConnectionStatus) Payload() []byte {
	b := []byte{m.Connection, m.Flags}
	b = append(b, m.Address[:]...)
	b = append(b, m.AddressType)
	b = AppendUint16(b, m.Interval)
	b = AppendUint16(b, m.Timeout)
	b = AppendUint16(b, m.Latency)
	return append(b, m.Bonding)
}

func (m *ConnectionStatus) decode(p []byte) error {
	if len(p) != connectionStatusLength {
		return fmt.Errorf("%w: connection status needs %d bytes, got %d", ErrMalformedPayload, connectionStatusLength, len(p))
	}
	m.Connection = p[0]
	m.Flags = p[1]
	copy(m.Address[:], p[2:8])
	m.AddressType = p[8]
	m.Interval = Uint16(p[9:])
	m.Timeout = Uint16(p[11:])
	m.Latency = Uint16(p[13:])
	m.Bonding = p[15]
	return nil
}

// Disconnected reports the loss of a connection.
type Disconnected struct {
	Connection uint8
	Reason     uint16
}

func (*Disconnected) Identity() Identity { return IDDisconnected }
func (m *Disconnected) Payload() []byte  { return AppendUint16([]byte{m.Connection}, m.Reason) }
func (m *Disconnected) decode(p []byte) error {
	if err := checkLength(p, 3); err != nil {
		return err
	}
	m.Connection = p[0]
	m.Reason = Uint16(p[1:])
	return nil
}

// GAP

// ConnectDirect asks the dongle to connect to a known address. Intervals are in units of 1.25ms
// and the supervision timeout in units of 10ms.
type ConnectDirect struct {
	Address     Address
	AddressType uint8
	IntervalMin uint16
	IntervalMax uint16
	Timeout     uint16
	Latency     uint16
}

// NewConnectDirect returns a ConnectDirect command with default link parameters.
func NewConnectDirect(addr Address) *ConnectDirect {
	return &ConnectDirect{
		Address:     addr,
		IntervalMin: 16,
		IntervalMax: 32,
		Timeout:     100,
	}
}

func (*ConnectDirect) isCommand()         {}
func (*ConnectDirect) Identity() Identity { return IDConnectDirect }

func (m *ConnectDirect) Payload() []byte {
	b := append([]byte{}, m.Address[:]...)
	b = append(b, m.AddressType)
	b = AppendUint16(b, m.IntervalMin)
	b = AppendUint16(b, m.IntervalMax)
	b = AppendUint16(b, m.Timeout)
	return AppendUint16(b, m.Latency)
}

type ConnectDirectResponse struct {
	Result     uint16
	Connection uint8
}

func (*ConnectDirectResponse) Identity() Identity   { return IDConnectDirect }
func (m *ConnectDirectResponse) ResultCode() uint16 { return m.Result }
func (m *ConnectDirectResponse) Payload() []byte    { return append(AppendUint16(nil, m.Result), m.Connection) }
func (m *ConnectDirectResponse) decode(p []byte) error {
	if err := checkLength(p, 3); err != nil {
		return err
	}
	m.Result = Uint16(p)
	m.Connection = p[2]
	return nil
}

// Security manager

type BondingFail struct {
	Handle uint8
	Result uint16
}

func (*BondingFail) Identity() Identity   { return IDBondingFail }
func (m *BondingFail) ResultCode() uint16 { return m.Result }
func (m *BondingFail) Payload() []byte    { return AppendUint16([]byte{m.Handle}, m.Result) }
func (m *BondingFail) decode(p []byte) error {
	if err := checkLength(p, 3); err != nil {
		return err
	}
	m.Handle = p[0]
	m.Result = Uint16(p[1:])
	return nil
}
