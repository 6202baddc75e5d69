package ovnet

import "time"

// Timestamp is a host-supplied monotonic millisecond clock value. The
// engine never reads wall-clock time itself (spec.md §5): every time
// comparison is against a Timestamp the host passed into an entry point.
type Timestamp int64

// Sub returns the duration between two Timestamps.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(t-other) * time.Millisecond
}

// LocalInterfaceAddressTrust mirrors the original header's
// ZT_LocalInterfaceAddressTrust levels, used as a path preference tiebreak
// (spec.md §4.2, "trust level").
type LocalInterfaceAddressTrust int

const (
	TrustNormal   LocalInterfaceAddressTrust = 0
	TrustPrivacy  LocalInterfaceAddressTrust = 10
	TrustUltimate LocalInterfaceAddressTrust = 20
)

// Path is one candidate underlay route to a Peer (spec.md §3).
type Path struct {
	Local  InetAddr
	Remote InetAddr

	LastSend    Timestamp
	LastReceive Timestamp
	LastPing    Timestamp

	Trust     LocalInterfaceAddressTrust
	Active    bool
	Preferred bool

	rttMillis float64 // measured RTT from HELLO/OK round trips, 0 if unmeasured
}

// Alive reports whether now-LastReceive is within timeout, spec.md §3's
// definition of PATH_ALIVE_TIMEOUT liveness.
func (p *Path) Alive(now Timestamp, timeout time.Duration) bool {
	return p.LastReceive != 0 && now.Sub(p.LastReceive) < timeout
}

// pathKey identifies a Path by its two endpoints, used to dedupe within a
// Peer's path list.
type pathKey struct {
	local  string
	remote string
}

func (p *Path) key() pathKey {
	return pathKey{local: p.Local.String(), remote: p.Remote.String()}
}

// betterThan implements the preference ordering from spec.md §3/§4.2:
// most-recently-validated-alive first, then lowest latency, then
// IPv6-over-IPv4, then trust level.
func (p *Path) betterThan(other *Path) bool {
	if p.LastReceive != other.LastReceive {
		return p.LastReceive > other.LastReceive
	}
	if p.rttMillis != other.rttMillis {
		if p.rttMillis == 0 {
			return false
		}
		if other.rttMillis == 0 {
			return true
		}
		return p.rttMillis < other.rttMillis
	}
	if p.Remote.isIPv6() != other.Remote.isIPv6() {
		return p.Remote.isIPv6()
	}
	return p.Trust > other.Trust
}
