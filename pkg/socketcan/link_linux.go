//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// setLinkUp sets IFF_UP on the interface through rtnetlink. It needs
// CAP_NET_ADMIN; the bitrate must already be configured.
func setLinkUp(index int) error {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{})
	if err != nil {
		return fmt.Errorf("couldn't dial netlink socket: %w", err)
	}
	defer c.Close()

	ifi := ifInfoMsg{
		Index:  int32(index),
		Flags:  unix.IFF_UP,
		Change: unix.IFF_UP,
	}
	req := netlink.Message{
		Header: netlink.Header{
			Flags: netlink.Request | netlink.Acknowledge,
			Type:  unix.RTM_NEWLINK,
		},
		Data: ifi.marshalBinary(),
	}
	res, err := c.Execute(req)
	if err != nil {
		return fmt.Errorf("couldn't set link up: %w", err)
	}
	if len(res) > 1 {
		return fmt.Errorf("expected 1 message, got %d", len(res))
	}
	return nil
}

type ifInfoMsg unix.IfInfomsg

func (ifi *ifInfoMsg) marshalBinary() []byte {
	buf := make([]byte, 2, unix.SizeofIfInfomsg)
	buf[0] = ifi.Family
	buf = binary.LittleEndian.AppendUint16(buf, ifi.Type)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ifi.Index))
	buf = binary.LittleEndian.AppendUint32(buf, ifi.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, ifi.Change)
	return buf
}
