// Package codec is the version-dispatching entry point sitting above
// encoding/: it peeks a fresh connection's CONNECT packet to pick the
// v3.1.1 or v5.0 wire format for the lifetime of that connection, then
// normalizes every packet type into one v5-shaped codec.Packet so the rest
// of the broker (session, topic, dispatch) never branches on protocol
// version again.
package codec

import (
	"bufio"
	"io"

	"github.com/axmq-ax/broker/codec/packet"
	"github.com/axmq-ax/broker/encoding"
)

// Packet is a tagged union over the 15 MQTT control packet types. Exactly
// one field is non-nil, matching Type.
type Packet struct {
	Type encoding.PacketType

	Connect     *encoding.ConnectPacket
	ConnAck     *encoding.ConnackPacket
	Publish     *encoding.PublishPacket
	PubAck      *encoding.PubackPacket
	PubRec      *encoding.PubrecPacket
	PubRel      *encoding.PubrelPacket
	PubComp     *encoding.PubcompPacket
	Subscribe   *encoding.SubscribePacket
	SubAck      *encoding.SubackPacket
	Unsubscribe *encoding.UnsubscribePacket
	UnsubAck    *encoding.UnsubackPacket
	PingReq     *encoding.PingreqPacket
	PingResp    *encoding.PingrespPacket
	Disconnect  *encoding.DisconnectPacket
	Auth        *encoding.AuthPacket
}

// PeekConnectVersion peeks the protocol version a fresh connection's first
// packet advertises, without consuming any bytes Decode will need.
func PeekConnectVersion(r *bufio.Reader) (encoding.ProtocolVersion, error) {
	return packet.PeekProtocolVersion(r)
}

// Decode reads one packet for the given protocol version.
func Decode(r io.Reader, version encoding.ProtocolVersion) (Packet, error) {
	fh, err := encoding.ParseFixedHeaderWithVersion(r, version)
	if err != nil {
		return Packet{}, err
	}

	if version == encoding.ProtocolVersion50 {
		return decodeV5(r, fh)
	}
	return decodeV311(r, fh)
}

// Encode writes pkt for the given protocol version, downgrading v5-shaped
// fields (properties, reason codes) to their v3.1.1 wire forms as needed.
func (p Packet) Encode(w io.Writer, version encoding.ProtocolVersion) error {
	if version == encoding.ProtocolVersion50 {
		return p.encodeV5(w)
	}
	return p.encodeV311(w)
}

func decodeV5(r io.Reader, fh *encoding.FixedHeader) (Packet, error) {
	switch fh.Type {
	case encoding.CONNECT:
		pkt, err := encoding.ParseConnectPacket(r, fh)
		return Packet{Type: fh.Type, Connect: pkt}, err
	case encoding.CONNACK:
		pkt, err := encoding.ParseConnackPacket(r, fh)
		return Packet{Type: fh.Type, ConnAck: pkt}, err
	case encoding.PUBLISH:
		pkt, err := encoding.ParsePublishPacket(r, fh)
		return Packet{Type: fh.Type, Publish: pkt}, err
	case encoding.PUBACK:
		pkt, err := encoding.ParsePubackPacket(r, fh)
		return Packet{Type: fh.Type, PubAck: pkt}, err
	case encoding.PUBREC:
		pkt, err := encoding.ParsePubrecPacket(r, fh)
		return Packet{Type: fh.Type, PubRec: pkt}, err
	case encoding.PUBREL:
		pkt, err := encoding.ParsePubrelPacket(r, fh)
		return Packet{Type: fh.Type, PubRel: pkt}, err
	case encoding.PUBCOMP:
		pkt, err := encoding.ParsePubcompPacket(r, fh)
		return Packet{Type: fh.Type, PubComp: pkt}, err
	case encoding.SUBSCRIBE:
		pkt, err := encoding.ParseSubscribePacket(r, fh)
		return Packet{Type: fh.Type, Subscribe: pkt}, err
	case encoding.SUBACK:
		pkt, err := encoding.ParseSubackPacket(r, fh)
		return Packet{Type: fh.Type, SubAck: pkt}, err
	case encoding.UNSUBSCRIBE:
		pkt, err := encoding.ParseUnsubscribePacket(r, fh)
		return Packet{Type: fh.Type, Unsubscribe: pkt}, err
	case encoding.UNSUBACK:
		pkt, err := encoding.ParseUnsubackPacket(r, fh)
		return Packet{Type: fh.Type, UnsubAck: pkt}, err
	case encoding.PINGREQ:
		pkt, err := encoding.ParsePingreqPacket(fh)
		return Packet{Type: fh.Type, PingReq: pkt}, err
	case encoding.PINGRESP:
		pkt, err := encoding.ParsePingrespPacket(fh)
		return Packet{Type: fh.Type, PingResp: pkt}, err
	case encoding.DISCONNECT:
		pkt, err := encoding.ParseDisconnectPacket(r, fh)
		return Packet{Type: fh.Type, Disconnect: pkt}, err
	case encoding.AUTH:
		pkt, err := encoding.ParseAuthPacket(r, fh)
		return Packet{Type: fh.Type, Auth: pkt}, err
	default:
		return Packet{}, encoding.ErrInvalidType
	}
}

func (p Packet) encodeV5(w io.Writer) error {
	switch p.Type {
	case encoding.CONNECT:
		return p.Connect.Encode(w)
	case encoding.CONNACK:
		return p.ConnAck.Encode(w)
	case encoding.PUBLISH:
		return p.Publish.Encode(w)
	case encoding.PUBACK:
		return p.PubAck.Encode(w)
	case encoding.PUBREC:
		return p.PubRec.Encode(w)
	case encoding.PUBREL:
		return p.PubRel.Encode(w)
	case encoding.PUBCOMP:
		return p.PubComp.Encode(w)
	case encoding.SUBSCRIBE:
		return p.Subscribe.Encode(w)
	case encoding.SUBACK:
		return p.SubAck.Encode(w)
	case encoding.UNSUBSCRIBE:
		return p.Unsubscribe.Encode(w)
	case encoding.UNSUBACK:
		return p.UnsubAck.Encode(w)
	case encoding.PINGREQ:
		return p.PingReq.Encode(w)
	case encoding.PINGRESP:
		return p.PingResp.Encode(w)
	case encoding.DISCONNECT:
		return p.Disconnect.Encode(w)
	case encoding.AUTH:
		return p.Auth.Encode(w)
	default:
		return encoding.ErrInvalidType
	}
}
