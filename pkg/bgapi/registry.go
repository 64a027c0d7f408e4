package bgapi

import (
	"fmt"

	"github.com/AngelSensor/angel-sdk/internal/log"
)

// inbound lists every message kind the dongle may send to the host.
var inbound = map[Identity]func() decoder{
	IDHello:          func() decoder { return new(HelloResponse) },
	IDGetInfo:        func() decoder { return new(GetInfoResponse) },
	IDGetConnections: func() decoder { return new(GetConnectionsResponse) },
	IDSystemBoot:     func() decoder { return new(SystemBoot) },
	IDProtocolError:  func() decoder { return new(ProtocolError) },

	IDDisconnect:       func() decoder { return new(DisconnectResponse) },
	IDGetRSSI:          func() decoder { return new(GetRSSIResponse) },
	IDConnectionStatus: func() decoder { return new(ConnectionStatus) },
	IDDisconnected:     func() decoder { return new(Disconnected) },

	IDFindByTypeValue:    func() decoder { return new(FindByTypeValueResponse) },
	IDReadByGroupType:    func() decoder { return new(ReadByGroupTypeResponse) },
	IDReadByType:         func() decoder { return new(ReadByTypeResponse) },
	IDFindInformation:    func() decoder { return new(FindInformationResponse) },
	IDReadByHandle:       func() decoder { return new(ReadByHandleResponse) },
	IDAttributeWrite:     func() decoder { return new(AttributeWriteResponse) },
	IDPrepareWrite:       func() decoder { return new(PrepareWriteResponse) },
	IDExecuteWrite:       func() decoder { return new(ExecuteWriteResponse) },
	IDReadMultiple:       func() decoder { return new(ReadMultipleResponse) },
	IDIndicated:          func() decoder { return new(Indicated) },
	IDProcedureCompleted: func() decoder { return new(ProcedureCompleted) },
	IDGroupFound:         func() decoder { return new(GroupFound) },
	IDAttributeFound:     func() decoder { return new(AttributeFound) },
	IDInformationFound:   func() decoder { return new(InformationFound) },
	IDAttributeValue:     func() decoder { return new(AttributeValue) },
	IDMultipleValues:     func() decoder { return new(MultipleValues) },

	IDBondingFail: func() decoder { return new(BondingFail) },

	IDConnectDirect: func() decoder { return new(ConnectDirectResponse) },
}

var names = map[Identity]string{
	IDReset:              "system_reset",
	IDHello:              "system_hello",
	IDGetConnections:     "system_get_connections",
	IDGetInfo:            "system_get_info",
	IDSystemBoot:         "system_boot",
	IDProtocolError:      "system_protocol_error",
	IDDisconnect:         "connection_disconnect",
	IDGetRSSI:            "connection_get_rssi",
	IDConnectionStatus:   "connection_status",
	IDDisconnected:       "connection_disconnected",
	IDFindByTypeValue:    "attclient_find_by_type_value",
	IDReadByGroupType:    "attclient_read_by_group_type",
	IDReadByType:         "attclient_read_by_type",
	IDFindInformation:    "attclient_find_information",
	IDReadByHandle:       "attclient_read_by_handle",
	IDAttributeWrite:     "attclient_attribute_write",
	IDPrepareWrite:       "attclient_prepare_write",
	IDExecuteWrite:       "attclient_execute_write",
	IDReadMultiple:       "attclient_read_multiple",
	IDIndicated:          "attclient_indicated",
	IDProcedureCompleted: "attclient_procedure_completed",
	IDGroupFound:         "attclient_group_found",
	IDAttributeFound:     "attclient_attribute_found",
	IDInformationFound:   "attclient_find_information_found",
	IDAttributeValue:     "attclient_attribute_value",
	IDMultipleValues:     "attclient_read_multiple_response",
	IDBondingFail:        "sm_bonding_fail",
	IDConnectDirect:      "gap_connect_direct",
}

// Name returns a readable name for a message kind.
func Name(id Identity) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "unknown_" + id.String()
}

// Classify decodes an inbound payload according to its identity. The length byte plays no part
// in classification. Unrecognized identities yield an *Unknown rather than an error so that newer
// firmware cannot stall a reader.
func Classify(id Identity, payload []byte) (Message, error) {
	newMessage, ok := inbound[id]
	if !ok {
		log.Debug("Unclassified message %s with %d byte payload", id, len(payload))
		data := make([]byte, len(payload))
		copy(data, payload)
		return &Unknown{ID: id, Data: data}, nil
	}
	message := newMessage()
	if err := message.decode(payload); err != nil {
		return nil, fmt.Errorf("%s: %w", Name(id), err)
	}
	return message, nil
}

// ClassifyFrame is shorthand for Classify(f.Identity, f.Payload).
func ClassifyFrame(f Frame) (Message, error) {
	return Classify(f.Identity, f.Payload)
}

// Marshal encodes a message, deriving the header's length byte from its current payload.
func Marshal(m Message) ([]byte, error) {
	return Encode(m.Identity(), m.Payload())
}
