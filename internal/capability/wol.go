package capability

import (
	"net"

	"github.com/kortschak/wol"
)

// WOLAdapter sends Wake-on-LAN magic packets. It is best-effort: a
// send failure is reported but never retried internally, since the
// owning target-driven action loop already retries on an interval.
type WOLAdapter struct {
	// BroadcastAddr is the UDP broadcast address magic packets are sent
	// to, conventionally port 9 ("discard").
	BroadcastAddr string
}

func NewWOLAdapter() *WOLAdapter {
	return &WOLAdapter{BroadcastAddr: "255.255.255.255:9"}
}

// WakeMAC sends one magic packet to the given hardware address.
func (a *WOLAdapter) WakeMAC(mac string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return NewError("wol", KindProtocol, err)
	}
	packet, err := wol.New(hw)
	if err != nil {
		return NewError("wol", KindProtocol, err)
	}
	payload, err := packet.Marshal()
	if err != nil {
		return NewError("wol", KindProtocol, err)
	}

	raddr, err := net.ResolveUDPAddr("udp", a.BroadcastAddr)
	if err != nil {
		return NewError("wol", KindProtocol, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return NewError("wol", KindUnreachable, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return NewError("wol", KindUnreachable, err)
	}
	return nil
}
