// Package osp holds the domain types shared by every other OSP
// package: the connection-role and intent enums carried in the
// handshake, and the osp:// URL form used to address peers.
package osp

// ConnectionType is the guest's self-reported role, sent in the
// Hello packet (spec.md §4.2.1).
type ConnectionType uint8

const (
	ConnectionTypeUnknown ConnectionType = 0
	ConnectionTypeClient  ConnectionType = 1
	ConnectionTypeServer  ConnectionType = 2
)

// ConnectionTypeFromU8 decodes the wire byte; any value other than 1
// or 2 decodes to Unknown (spec.md §8 boundary behavior).
func ConnectionTypeFromU8(v uint8) ConnectionType {
	switch v {
	case 1:
		return ConnectionTypeClient
	case 2:
		return ConnectionTypeServer
	default:
		return ConnectionTypeUnknown
	}
}

func (c ConnectionType) String() string {
	switch c {
	case ConnectionTypeClient:
		return "client"
	case ConnectionTypeServer:
		return "server"
	default:
		return "unknown"
	}
}

// Intent is the guest's declared purpose after authentication,
// carried in SetIntent (spec.md §4.2.1).
type Intent uint8

const (
	IntentUnknown      Intent = 0
	IntentSubscribe    Intent = 1
	IntentTransferData Intent = 2
)

// IntentFromU8 decodes the wire byte; any unrecognized value decodes
// to Unknown.
func IntentFromU8(v uint8) Intent {
	switch v {
	case 1:
		return IntentSubscribe
	case 2:
		return IntentTransferData
	default:
		return IntentUnknown
	}
}

func (i Intent) String() string {
	switch i {
	case IntentSubscribe:
		return "subscribe"
	case IntentTransferData:
		return "transfer"
	default:
		return "unknown"
	}
}
