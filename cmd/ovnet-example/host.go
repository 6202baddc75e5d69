package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	core "github.com/ovnet/core"
	"golang.zx2c4.com/wireguard/tun"
)

// fileHost is the minimal Host implementation this example wires up:
// identity/world persistence under a data directory, a UDP socket for the
// wire protocol, and a TUN device for one virtual network's Ethernet
// frames (spec.md §6's Host contract).
type fileHost struct {
	dataDir string

	mu   sync.Mutex
	conn *net.UDPConn
	dev  tun.Device
	nwid uint64
}

func newFileHost(dataDir string) *fileHost {
	_ = os.MkdirAll(dataDir, 0700)
	return &fileHost{dataDir: dataDir}
}

func (h *fileHost) DataStoreGet(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(h.dataDir, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (h *fileHost) DataStorePut(name string, data []byte, secure bool) error {
	if data == nil {
		err := os.Remove(filepath.Join(h.dataDir, name))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	mode := os.FileMode(0644)
	if secure {
		mode = 0600
	}
	return os.WriteFile(filepath.Join(h.dataDir, name), data, mode)
}

func (h *fileHost) WirePacketSend(localAddr, remoteAddr core.InetAddr, data []byte) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ovnet-example: no UDP socket bound yet")
	}
	_, err := conn.WriteToUDPAddrPort(data, remoteAddr.AddrPort)
	return err
}

func (h *fileHost) VirtualNetworkFrame(nwid uint64, srcMAC, dstMAC core.MAC, etherType uint16, vlanID uint16, data []byte) {
	h.mu.Lock()
	dev := h.dev
	h.mu.Unlock()
	if dev == nil {
		return
	}
	buf := make([]byte, tunOffsetBytes+len(data))
	copy(buf[tunOffsetBytes:], data)
	_, _ = dev.Write(buf, tunOffsetBytes)
}

func (h *fileHost) VirtualNetworkConfig(nwid uint64, op core.PortConfigOp, config *core.NetworkConfig) error {
	fmt.Printf("network %016x port config: %v\n", nwid, op)
	return nil
}

func (h *fileHost) Event(kind core.EventKind, meta interface{}) {
	fmt.Printf("event: %v %v\n", kind, meta)
}
