package protocol

import "fmt"

// ReasonCCCDNotConfigured is reported when a peripheral rejects an operation because the client
// has not enabled notifications or indications.
const ReasonCCCDNotConfigured = "Client Configuration Descriptor not configured"

// Result codes originating in the dongle's own command handling.
var dongleReasons = map[uint16]string{
	0x0180: "invalid parameter",
	0x0181: "device in wrong state",
	0x0182: "out of memory",
	0x0183: "feature not implemented",
	0x0184: "command not recognized",
	0x0185: "timeout",
	0x0186: "not connected",
	0x0187: "flow",
	0x0188: "user attribute",
	0x0189: "invalid license key",
	0x018A: "command too long",
	0x018B: "out of bonds",
	0x018C: "script overflow",
}

// Attribute protocol error codes, as reported by the peripheral. The dongle reports them in the
// 0x04xx range.
var attReasons = map[uint16]string{
	0x01: "invalid handle",
	0x02: "read not permitted",
	0x03: "write not permitted",
	0x04: "invalid PDU",
	0x05: "insufficient authentication",
	0x06: "request not supported",
	0x07: "invalid offset",
	0x08: "insufficient authorization",
	0x09: "prepare queue full",
	0x0A: "attribute not found",
	0x0B: "attribute not long",
	0x0C: "insufficient encryption key size",
	0x0D: "invalid attribute value length",
	0x0E: "unlikely error",
	0x0F: "insufficient encryption",
	0x10: "unsupported group type",
	0x11: "insufficient resources",
	0x83: ReasonCCCDNotConfigured,
}

// Reason translates a procedure result code into a human-readable string.
func Reason(code uint16) string {
	if reason, ok := dongleReasons[code]; ok {
		return reason
	}
	if code < 0x100 || code>>8 == 0x04 {
		if reason, ok := attReasons[code&0xFF]; ok {
			return reason
		}
	}
	return fmt.Sprintf("unknown error code %d", code)
}
