// Command ovnet-example wires an ovnet Node to a UDP socket and a TUN
// device, demonstrating the host-embedding contract spec.md describes:
// the engine performs no I/O itself, and every byte in or out passes
// through an entry point or a Host callback.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	core "github.com/ovnet/core"
)

var (
	ifname  = flag.String("ifname", "ovnet0", "TUN interface name")
	udpPort = flag.Int("port", core.DefaultUDPPort, "UDP port to bind")
	dataDir = flag.String("data", "./ovnet-data", "identity/world data directory")
	nwidHex = flag.String("nwid", "0000000000000001", "virtual network ID, hex")
)

func main() {
	flag.Parse()

	var nwid uint64
	if _, err := fmt.Sscanf(*nwidHex, "%016x", &nwid); err != nil {
		fmt.Println("bad -nwid:", err)
		os.Exit(1)
	}

	host := newFileHost(*dataDir)
	node, code := core.NewNode(host)
	if code != core.ResultOK {
		fmt.Println("failed to start node:", code)
		os.Exit(1)
	}

	udpAddr := &net.UDPAddr{Port: *udpPort}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	host.mu.Lock()
	host.conn = conn
	host.mu.Unlock()

	localPort := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	local := selfInetAddr(localPort)

	status := node.Status()
	fmt.Println("node address:", status.Address.String())

	if code := node.Join(nowMillis(), nwid); code != core.ResultOK {
		fmt.Println("join failed:", code)
	}

	tapMAC := macFor(node, nwid)
	dev := setupTun(*ifname, tapAddress(status.Address))
	host.mu.Lock()
	host.dev = dev
	host.nwid = nwid
	host.mu.Unlock()

	go udpReader(conn, node, local, nowMillis)
	go tunReader(dev, node, nwid, tapMAC, nowMillis)
	go backgroundLoop(node)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

// backgroundLoop drives Node.ProcessBackgroundTasks on the schedule the
// engine itself requests, per spec.md §4.3's "host re-arms a timer for the
// returned deadline" contract.
func backgroundLoop(node *core.Node) {
	for {
		deadline, _ := node.ProcessBackgroundTasks(nowMillis())
		wait := time.Duration(int64(deadline)-int64(nowMillis())) * time.Millisecond
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		time.Sleep(wait)
	}
}

func nowMillis() core.Timestamp {
	return core.Timestamp(time.Now().UnixMilli())
}

// macFor derives this node's Ethernet MAC on nwid by reading it back off
// the freshly-joined Network (Node exposes no separate MAC-derivation
// entry point; the Network record is the source of truth).
func macFor(node *core.Node, nwid uint64) core.MAC {
	for _, nw := range node.Networks() {
		if nw.NWID == nwid {
			return nw.MAC
		}
	}
	return core.MAC{}
}

func tapAddress(addr core.Address) string {
	// A locally-scoped ULA derived from the node address, wide enough for a
	// demo LAN without needing external allocation.
	var ip [16]byte
	ip[0] = 0xfd
	copy(ip[11:], addr[:])
	return fmt.Sprintf("%x::%x/64", binary.BigEndian.Uint16(ip[0:2]), binary.BigEndian.Uint64(ip[8:16]))
}

func selfInetAddr(port uint16) core.InetAddr {
	return core.InetAddr{AddrPort: netip.AddrPortFrom(netip.IPv6Unspecified(), port)}
}
