package ovnet

import "encoding/binary"

// CircuitTestHop is one FIFO entry of a circuit test: a set of candidate
// next addresses, any one of which may forward (spec.md §4.4, §9).
type CircuitTestHop struct {
	Addresses []Address // <= MaxCircuitTestHopBreadth
}

// CircuitTest is a graph-traversal trace message originated by one node
// and forwarded hop by hop (spec.md §4.4, reinstated structure from the
// original header's ZT_CircuitTest per SPEC_FULL.md §3).
type CircuitTest struct {
	TestID           uint64
	Originator       Address
	Timestamp        Timestamp
	Hops             []CircuitTestHop // <= MaxCircuitTestHops
	ReportAtEveryHop bool
	current          int // index into Hops of the next hop to consume
}

// CircuitTestReport is what a hop sends back to the originator (spec.md §4.4).
type CircuitTestReport struct {
	TestID      uint64
	Timestamp   Timestamp
	ReceivedFrom Address
	ReportingHop Address
	RemainingHops int
}

func encodeCircuitTest(t *CircuitTest) []byte {
	out := wirePutUint64(nil, t.TestID)
	out = append(out, t.Originator[:]...)
	out = wirePutUint64(out, uint64(t.Timestamp))
	var flags byte
	if t.ReportAtEveryHop {
		flags = 1
	}
	out = append(out, flags)
	out = wirePutUint16(out, uint16(t.current))
	out = wirePutUint16(out, uint16(len(t.Hops)))
	for _, h := range t.Hops {
		out = wirePutUint16(out, uint16(len(h.Addresses)))
		for _, a := range h.Addresses {
			out = append(out, a[:]...)
		}
	}
	return out
}

func decodeCircuitTest(body []byte) (*CircuitTest, error) {
	t := new(CircuitTest)
	if !wireChopUint64(&t.TestID, &body) {
		return nil, DecodeError{}
	}
	if !wireChopAddress(&t.Originator, &body) {
		return nil, DecodeError{}
	}
	var ts uint64
	if !wireChopUint64(&ts, &body) {
		return nil, DecodeError{}
	}
	t.Timestamp = Timestamp(ts)
	if len(body) < 1 {
		return nil, DecodeError{}
	}
	t.ReportAtEveryHop = body[0]&1 != 0
	body = body[1:]
	var current, nHops uint16
	if !wireChopUint16(&current, &body) || !wireChopUint16(&nHops, &body) {
		return nil, DecodeError{}
	}
	if nHops > MaxCircuitTestHops {
		return nil, OversizedMessageError{}
	}
	t.current = int(current)
	for i := uint16(0); i < nHops; i++ {
		var nAddrs uint16
		if !wireChopUint16(&nAddrs, &body) {
			return nil, DecodeError{}
		}
		if nAddrs > MaxCircuitTestHopBreadth {
			return nil, OversizedMessageError{}
		}
		hop := CircuitTestHop{Addresses: make([]Address, nAddrs)}
		for j := range hop.Addresses {
			if !wireChopAddress(&hop.Addresses[j], &body) {
				return nil, DecodeError{}
			}
		}
		t.Hops = append(t.Hops, hop)
	}
	return t, nil
}

// remaining reports how many hops (including the current one) have yet to
// be consumed, used by the testable property "forwarding strictly
// decreases the remaining FIFO length" (SPEC_FULL.md §8).
func (t *CircuitTest) remaining() int {
	return len(t.Hops) - t.current
}

// advance returns the CircuitTest with current incremented, ready to
// forward to the next hop, or ok=false if the FIFO is exhausted.
func (t *CircuitTest) advance() (*CircuitTest, bool) {
	if t.current >= len(t.Hops) {
		return nil, false
	}
	next := *t
	next.current++
	return &next, true
}

// currentHop returns the set of candidate addresses at the FIFO head, or
// nil if exhausted.
func (t *CircuitTest) currentHop() *CircuitTestHop {
	if t.current >= len(t.Hops) {
		return nil
	}
	return &t.Hops[t.current]
}

func encodeCircuitTestReport(r CircuitTestReport) []byte {
	out := wirePutUint64(nil, r.TestID)
	out = wirePutUint64(out, uint64(r.Timestamp))
	out = append(out, r.ReceivedFrom[:]...)
	out = append(out, r.ReportingHop[:]...)
	return wirePutUint32(out, uint32(r.RemainingHops))
}

func decodeCircuitTestReport(body []byte) (CircuitTestReport, error) {
	var r CircuitTestReport
	var ts uint64
	if !wireChopUint64(&r.TestID, &body) || !wireChopUint64(&ts, &body) {
		return r, DecodeError{}
	}
	r.Timestamp = Timestamp(ts)
	if !wireChopAddress(&r.ReceivedFrom, &body) || !wireChopAddress(&r.ReportingHop, &body) {
		return r, DecodeError{}
	}
	if len(body) < 4 {
		return r, DecodeError{}
	}
	r.RemainingHops = int(binary.BigEndian.Uint32(body[:4]))
	return r, nil
}
