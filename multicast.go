package ovnet

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// multicastKey identifies a multicast group within one network.
type multicastKey struct {
	nwid  uint64
	group MulticastGroup
}

// likerEntry is one observed MULTICAST_LIKE (spec.md §3's "Multicast group
// membership entry").
type likerEntry struct {
	member    Address
	timestamp Timestamp
}

// Multicaster maintains, per (nwid, group), an LRU set of members known to
// "like" (subscribe to) that group, and propagates multicast frames to a
// bounded subset of them (spec.md §4.6).
type Multicaster struct {
	maxLikersPerGroup int
	likerTTL          time.Duration

	mu     sync.Mutex
	likers map[multicastKey]*lru.LRU[Address, Timestamp]

	gatherInFlight map[multicastKey]Timestamp // last gather sent, for dedup

	floodLimiter *rate.Limiter // bounds flood rate across all groups, spec.md §1's Non-goal "congestion control beyond path rate-limiting"
}

func newMulticaster(maxLikersPerGroup int, likerTTL time.Duration) *Multicaster {
	return &Multicaster{
		maxLikersPerGroup: maxLikersPerGroup,
		likerTTL:          likerTTL,
		likers:            make(map[multicastKey]*lru.LRU[Address, Timestamp]),
		gatherInFlight:    make(map[multicastKey]Timestamp),
		floodLimiter:      rate.NewLimiter(rate.Limit(64), 128),
	}
}

func (m *Multicaster) likerSet(key multicastKey) *lru.LRU[Address, Timestamp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.likers[key]
	if !ok {
		s = lru.NewLRU[Address, Timestamp](m.maxLikersPerGroup, nil, m.likerTTL)
		m.likers[key] = s
	}
	return s
}

// like records that member likes (nwid, group), learned from a
// MULTICAST_LIKE push. OK(MULTICAST_GATHER) replies are not fed into it:
// handleOK does not process them.
func (m *Multicaster) like(nwid uint64, group MulticastGroup, member Address, now Timestamp) {
	m.likerSet(multicastKey{nwid, group}).Add(member, now)
}

// Likers returns up to limit known likers of (nwid, group), most-recently-
// observed first (spec.md §4.6: "up to multicastLimit known likers (recent
// first)").
func (m *Multicaster) Likers(nwid uint64, group MulticastGroup, limit int) []Address {
	set := m.likerSet(multicastKey{nwid, group})
	keys := set.Keys()
	type scored struct {
		addr Address
		ts   Timestamp
	}
	all := make([]scored, 0, len(keys))
	for _, k := range keys {
		if ts, ok := set.Peek(k); ok {
			all = append(all, scored{k, ts})
		}
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].ts > all[j-1].ts; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]Address, len(all))
	for i, s := range all {
		out[i] = s.addr
	}
	return out
}

// LikerCount reports how many likers are currently known for (nwid, group).
func (m *Multicaster) LikerCount(nwid uint64, group MulticastGroup) int {
	return m.likerSet(multicastKey{nwid, group}).Len()
}

// needsGather reports whether the known liker count is below limit and no
// gather is currently outstanding for this group (spec.md §4.6: "if we know
// fewer than multicastLimit known likers, also emit MULTICAST_GATHER").
func (m *Multicaster) needsGather(nwid uint64, group MulticastGroup, limit int, now Timestamp, gatherTimeout time.Duration) bool {
	key := multicastKey{nwid, group}
	if m.LikerCount(nwid, group) >= limit {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, inFlight := m.gatherInFlight[key]
	if inFlight && now.Sub(last) < gatherTimeout {
		return false
	}
	return true
}

func (m *Multicaster) markGatherSent(nwid uint64, group MulticastGroup, now Timestamp) {
	m.mu.Lock()
	m.gatherInFlight[multicastKey{nwid, group}] = now
	m.mu.Unlock()
}

// allowFlood reports whether the flood-rate budget permits sending n more
// MULTICAST_FRAME packets as of now. now is the host-supplied clock, never
// time.Now(), per spec.md §5's "the engine never reads wall-clock time".
func (m *Multicaster) allowFlood(now Timestamp, n int) bool {
	return m.floodLimiter.AllowN(timestampToTime(now), n)
}

// timestampToTime converts a host-supplied monotonic millisecond Timestamp
// into a time.Time purely so it can be handed to golang.org/x/time/rate,
// which takes its clock as an explicit parameter rather than reading it
// itself.
func timestampToTime(t Timestamp) time.Time {
	return time.Unix(0, int64(t)*int64(time.Millisecond))
}
