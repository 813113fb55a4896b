// Package packet peeks the protocol version off a fresh connection's first
// packet without consuming bytes the full decoder in codec/ will need.
//
// A CONNECT packet's wire layout is:
//
//	byte 0      packet type + flags (0x10 for CONNECT)
//	byte 1..N   remaining length (Variable Byte Integer, 1-4 bytes)
//	2 bytes     protocol name length prefix
//	M bytes     protocol name ("MQTT" or "MQIsdp")
//	1 byte      protocol version
//
// Everything before the version byte has variable length, so the peek grows
// incrementally instead of assuming the common 2-byte-header/"MQTT" case.
package packet

import (
	"bufio"

	"github.com/axmq-ax/broker/encoding"
)

// PeekProtocolVersion inspects the first packet on a connection without
// consuming it, returning the protocol version a CONNECT packet advertises.
func PeekProtocolVersion(r *bufio.Reader) (encoding.ProtocolVersion, error) {
	head, err := r.Peek(1)
	if err != nil {
		return 0, err
	}
	if encoding.PacketType(head[0]>>4) != encoding.CONNECT {
		return 0, ErrFirstPacketNotConnect
	}

	// Grow the peek window until the whole Variable Byte Integer (at most
	// 4 bytes) is in view.
	var vbiLen int
	for vbiWindow := 2; ; vbiWindow++ {
		buf, err := r.Peek(vbiWindow)
		if err != nil {
			return 0, err
		}
		_, n, err := encoding.DecodeVariableByteIntegerFromBytes(buf[1:])
		if err == nil {
			vbiLen = n
			break
		}
		if vbiWindow-1 >= encoding.MaxVariableByteIntegerBytes {
			return 0, err
		}
	}

	headerLen := 1 + vbiLen

	prefix, err := r.Peek(headerLen + 2)
	if err != nil {
		return 0, err
	}
	nameLen := int(prefix[headerLen])<<8 | int(prefix[headerLen+1])

	versionOffset := headerLen + 2 + nameLen
	withVersion, err := r.Peek(versionOffset + 1)
	if err != nil {
		return 0, err
	}

	return encoding.ProtocolVersion(withVersion[versionOffset]), nil
}
