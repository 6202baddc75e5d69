package main

import (
	"net"

	core "github.com/ovnet/core"
)

// udpReader feeds inbound UDP datagrams into the engine's wire-packet
// entry point, adapted from the teacher's tunWriter loop shape but reading
// off a UDP socket instead of a per-peer net.Conn (spec.md's UDP-datagram
// underlay, not ironwood's TCP-framed one).
func udpReader(conn *net.UDPConn, n *core.Node, local core.InetAddr, now func() core.Timestamp) {
	buf := make([]byte, 2048)
	for {
		sz, remoteAddrPort, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			panic(err)
		}
		data := append([]byte(nil), buf[:sz]...)
		remote := core.InetAddr{AddrPort: remoteAddrPort}
		n.ProcessWirePacket(now(), local, remote, data)
	}
}
