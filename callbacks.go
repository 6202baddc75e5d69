package ovnet

// Host groups every callback the engine invokes into the embedding process
// (spec.md §6). The engine never holds an internal lock while calling any
// of these (spec.md §5): a Host implementation is free to re-enter any
// Node entry point from within a callback.
type Host interface {
	// DataStoreGet reads the named persisted object, returning its full
	// contents. Names are slash-separated and never contain ".." or "\\".
	// Known names: identity.public, identity.secret, world,
	// networks.d/<hex nwid>.conf, peers.d/<hex addr>. Returns
	// (nil, false, nil) if the object does not exist.
	DataStoreGet(name string) (data []byte, found bool, err error)

	// DataStorePut writes or, if data is nil, deletes the named object.
	// secure requests owner-only permissions on the underlying storage.
	DataStorePut(name string, data []byte, secure bool) error

	// WirePacketSend transmits a VL1 packet. localAddr may be the zero
	// value to let the host pick the outbound interface.
	WirePacketSend(localAddr, remoteAddr InetAddr, data []byte) error

	// VirtualNetworkFrame delivers a decoded Ethernet frame to the host's
	// tap device.
	VirtualNetworkFrame(nwid uint64, srcMAC, dstMAC MAC, etherType uint16, vlanID uint16, data []byte)

	// VirtualNetworkConfig notifies the host of a network lifecycle
	// transition. A non-nil error return puts the network into
	// PORT_ERROR with that error recorded.
	VirtualNetworkConfig(nwid uint64, op PortConfigOp, config *NetworkConfig) error

	// Event reports an asynchronous occurrence; meta is kind-specific
	// (nil for UP/OFFLINE/ONLINE/DOWN, the colliding Address for
	// FATAL_IDENTITY_COLLISION, a string for TRACE).
	Event(kind EventKind, meta interface{})
}

// ClusterHost is implemented by hosts that enable the optional cluster
// facility (spec.md §4.7). It is separate from Host because most
// embedders never use clustering.
type ClusterHost interface {
	// ClusterSend transmits an authenticated message to cluster member
	// memberID over the host-provided sibling transport.
	ClusterSend(memberID uint, data []byte) error
}

// PortConfigOp is the operation carried by a VirtualNetworkConfig callback
// (spec.md §6).
type PortConfigOp int

const (
	PortConfigUp           PortConfigOp = 1
	PortConfigConfigUpdate PortConfigOp = 2
	PortConfigDown         PortConfigOp = 3
	PortConfigDestroy      PortConfigOp = 4
)

// EventKind is the kind of event reported through Host.Event (spec.md §6).
type EventKind int

const (
	EventUp                     EventKind = 0
	EventOffline                EventKind = 1
	EventOnline                 EventKind = 2
	EventDown                   EventKind = 3
	EventFatalIdentityCollision EventKind = 4
	EventTrace                  EventKind = 5
)

func (k EventKind) String() string {
	switch k {
	case EventUp:
		return "UP"
	case EventOffline:
		return "OFFLINE"
	case EventOnline:
		return "ONLINE"
	case EventDown:
		return "DOWN"
	case EventFatalIdentityCollision:
		return "FATAL_IDENTITY_COLLISION"
	case EventTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}
