package ovnet

import (
	"encoding/binary"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// maxFragments is the largest totalFragments value the 4-bit nibble in the
// fragment header can carry (spec.md §4.1's compact fragment framing).
const maxFragments = 15

// fragmentFrame is one trailing fragment's wire framing:
// {packetId, destAddress, fragmentIndicator=0xff, totalFragments<<4|fragmentNo, hops}.
type fragmentFrame struct {
	packetID uint64
	dest     Address
	total    byte
	fragNo   byte
	hops     byte
	payload  []byte
}

func encodeFragment(f *fragmentFrame) []byte {
	out := make([]byte, 0, fragmentHeaderSize+len(f.payload))
	out = wirePutUint64(out, f.packetID)
	out = append(out, f.dest[:]...)
	out = append(out, fragmentMarker)
	out = append(out, (f.total&0x0f)<<4|(f.fragNo&0x0f))
	out = append(out, f.hops)
	out = append(out, f.payload...)
	return out
}

func decodeFragment(data []byte) (*fragmentFrame, error) {
	if len(data) < fragmentHeaderSize {
		return nil, DecodeError{}
	}
	f := new(fragmentFrame)
	f.packetID = binary.BigEndian.Uint64(data[0:8])
	copy(f.dest[:], data[8:8+AddressSize])
	if data[8+AddressSize] != fragmentMarker {
		return nil, DecodeError{}
	}
	tn := data[8+AddressSize+1]
	f.total = tn >> 4
	f.fragNo = tn & 0x0f
	f.hops = data[8+AddressSize+2]
	f.payload = append([]byte(nil), data[fragmentHeaderSize:]...)
	return f, nil
}

// isFragment reports whether data looks like a trailing fragment rather
// than a head/ordinary packet, by checking the fragment marker position.
func isFragment(data []byte) bool {
	return len(data) > 8+AddressSize && data[8+AddressSize] == fragmentMarker
}

// splitIntoFragments serializes a packet whose header+ciphertext exceeds
// maxBudget into a head piece (a normal packet with h.fragmented set) and
// zero or more trailing fragmentFrame pieces, per spec.md §4.1. h.mac must
// already be set (by sealPacket) before calling this: the MAC authenticates
// the packet as a whole, and the compact trailing-fragment header has no
// room for a standalone tag, so "each fragment is individually
// authenticated" is realized transitively, by refusing to deliver anything
// until every piece is back together and the single MAC checks out.
//
// headBytes and each element of tail are ready-to-send wire bytes.
func splitIntoFragments(h *packetHeader, cipherText []byte, maxBudget int) (headBytes []byte, tail [][]byte, ok bool) {
	total := packetHeaderSize + len(cipherText)
	if total <= maxBudget {
		return nil, nil, false
	}
	headPayloadBudget := maxBudget - packetHeaderSize
	if headPayloadBudget <= 0 {
		headPayloadBudget = 1
	}
	fragPayloadBudget := maxBudget - fragmentHeaderSize
	if fragPayloadBudget <= 0 {
		fragPayloadBudget = 1
	}

	remaining := cipherText[headPayloadBudget:]
	nTrailing := (len(remaining) + fragPayloadBudget - 1) / fragPayloadBudget
	totalPieces := 1 + nTrailing
	if totalPieces > maxFragments {
		return nil, nil, false // caller must drop: too large to fragment within wire limits
	}

	hh := *h
	hh.fragmented = true
	headBytes = packetBytes(&hh, cipherText[:headPayloadBudget])

	for i := 0; i < nTrailing; i++ {
		lo := i * fragPayloadBudget
		hiIdx := lo + fragPayloadBudget
		if hiIdx > len(remaining) {
			hiIdx = len(remaining)
		}
		f := &fragmentFrame{
			packetID: h.packetID,
			dest:     h.dest,
			total:    byte(totalPieces),
			fragNo:   byte(i + 1),
			hops:     h.hops,
			payload:  remaining[lo:hiIdx],
		}
		tail = append(tail, encodeFragment(f))
	}
	return headBytes, tail, true
}

// reassembly tracks the pieces of one in-flight fragmented packet.
type reassembly struct {
	header    *packetHeader
	headChunk []byte
	haveHead  bool
	total     byte
	pieces    [maxFragments][]byte // index 1..total-1, nil until arrived
	have      int                  // 1 (head) once head arrived, plus one per trailing piece
}

func (r *reassembly) complete() bool {
	return r.total > 0 && r.haveHead && r.have == int(r.total)
}

// reassembledCipherText concatenates the head chunk and all trailing pieces
// in order, reconstructing the original (still-encrypted) payload
// byte-for-byte, per spec.md §8's round-trip property.
func (r *reassembly) reassembledCipherText() []byte {
	out := append([]byte(nil), r.headChunk...)
	for i := byte(1); i < r.total; i++ {
		out = append(out, r.pieces[i]...)
	}
	return out
}

// reassemblyKey identifies one in-flight reassembly by packetID alone.
// spec.md §4.1 describes the key as (sourceAddr, packetId), but a trailing
// fragment's compact wire framing ({packetId, destAddress, marker,
// total/fragNo, hops}) never carries the source address, only the head
// packet does — so source can't be known until the head arrives. Since
// packetId is a random 64-bit value (spec.md §4.1), collision probability
// across concurrently in-flight reassemblies is negligible, and keying on
// it alone gives the same practical behavior without requiring fragments
// to arrive after their head.
type reassemblyKey struct {
	packetID uint64
}

// reassemblyTable is the bounded, TTL-expiring store of in-flight
// reassemblies named by spec.md §4.1 ("bounded LRU... Timeout: ≈500ms"),
// built on golang-lru/v2's expirable cache, grounded per SPEC_FULL.md's
// domain-stack table (ipfs-kubo/ethereum-go-ethereum both depend on
// golang-lru).
type reassemblyTable struct {
	cache *lru.LRU[reassemblyKey, *reassembly]
}

func newReassemblyTable(maxEntries int, ttl time.Duration) *reassemblyTable {
	return &reassemblyTable{
		cache: lru.NewLRU[reassemblyKey, *reassembly](maxEntries, func(_ reassemblyKey, r *reassembly) {
			freeReassembly(r)
		}, ttl),
	}
}

func (t *reassemblyTable) get(k reassemblyKey) (*reassembly, bool) {
	return t.cache.Get(k)
}

func (t *reassemblyTable) put(k reassemblyKey, r *reassembly) {
	t.cache.Add(k, r)
}

func (t *reassemblyTable) remove(k reassemblyKey) {
	t.cache.Remove(k)
}
