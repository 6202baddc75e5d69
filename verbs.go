package ovnet

// verb identifies a VL1/VL2 packet payload's meaning (spec.md §4.4, plus
// VL2 verbs from spec.md §2 item 7).
type verb byte

const (
	verbNop               verb = 0
	verbHello             verb = 1
	verbOK                verb = 2
	verbError             verb = 3
	verbWhois             verb = 4
	verbRendezvous        verb = 5
	verbEcho              verb = 6
	verbPushDirectPaths   verb = 7
	verbCircuitTest       verb = 8
	verbCircuitTestReport verb = 9
	verbFrame             verb = 16
	verbExtFrame          verb = 17
	verbNetworkConfigRequest verb = 18
	verbNetworkConfigRefresh verb = 19
	verbMulticastLike     verb = 20
	verbMulticastGather   verb = 21
	verbMulticastFrame    verb = 22
)

func (v verb) String() string {
	switch v {
	case verbNop:
		return "NOP"
	case verbHello:
		return "HELLO"
	case verbOK:
		return "OK"
	case verbError:
		return "ERROR"
	case verbWhois:
		return "WHOIS"
	case verbRendezvous:
		return "RENDEZVOUS"
	case verbEcho:
		return "ECHO"
	case verbPushDirectPaths:
		return "PUSH_DIRECT_PATHS"
	case verbCircuitTest:
		return "CIRCUIT_TEST"
	case verbCircuitTestReport:
		return "CIRCUIT_TEST_REPORT"
	case verbFrame:
		return "FRAME"
	case verbExtFrame:
		return "EXT_FRAME"
	case verbNetworkConfigRequest:
		return "NETWORK_CONFIG_REQUEST"
	case verbNetworkConfigRefresh:
		return "NETWORK_CONFIG_REFRESH"
	case verbMulticastLike:
		return "MULTICAST_LIKE"
	case verbMulticastGather:
		return "MULTICAST_GATHER"
	case verbMulticastFrame:
		return "MULTICAST_FRAME"
	default:
		return "UNKNOWN"
	}
}

// verbPayload is the decoded plaintext of a packet: one verb byte followed
// by verb-specific content.
type verbPayload struct {
	v    verb
	body []byte
}

func decodeVerbPayload(plain []byte) (verbPayload, error) {
	if len(plain) < 1 {
		return verbPayload{}, DecodeError{}
	}
	return verbPayload{v: verb(plain[0]), body: plain[1:]}, nil
}

func encodeVerbPayload(v verb, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(v))
	return append(out, body...)
}
