package main

import (
	core "github.com/ovnet/core"
	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/tun"
)

const tunOffsetBytes = 4

// setupTun creates and configures a TUN interface, adapted from the
// teacher's cmd/ironwood-example/tun.go setupTun.
func setupTun(ifname, address string) tun.Device {
	dev, err := tun.CreateTUN(ifname, 1500)
	if err != nil {
		panic(err)
	}
	nladdr, err := netlink.ParseAddr(address)
	if err != nil {
		panic(err)
	}
	name, err := dev.Name()
	if err != nil {
		panic(err)
	}
	nlintf, err := netlink.LinkByName(name)
	if err != nil {
		panic(err)
	} else if err := netlink.AddrAdd(nlintf, nladdr); err != nil {
		panic(err)
	} else if err := netlink.LinkSetMTU(nlintf, 1500); err != nil {
		panic(err)
	} else if err := netlink.LinkSetUp(nlintf); err != nil {
		panic(err)
	}
	return dev
}

// tunReader feeds outbound IP packets from the TUN device into the engine
// as VL2 Ethernet frames. This example has no ARP/NDP layer, so every
// egress frame is addressed to the Ethernet broadcast MAC; ovnet's
// multicast/broadcast path (Node.ProcessVirtualNetworkFrame) floods it to
// known likers, which is enough for a demo LAN.
func tunReader(dev tun.Device, n *core.Node, nwid uint64, srcMAC core.MAC, now func() core.Timestamp) {
	buf := make([]byte, 2048)
	broadcast := core.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	for {
		sz, err := dev.Read(buf, tunOffsetBytes)
		if err != nil {
			panic(err)
		}
		if sz <= 0 {
			continue
		}
		pkt := buf[tunOffsetBytes : tunOffsetBytes+sz]
		etherType := uint16(0x0800) // IPv4
		if len(pkt) > 0 && pkt[0]>>4 == 6 {
			etherType = 0x86DD // IPv6
		}
		n.ProcessVirtualNetworkFrame(now(), nwid, srcMAC, broadcast, etherType, 0, append([]byte(nil), pkt...))
	}
}
