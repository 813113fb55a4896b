package codec

import (
	"io"

	"github.com/axmq-ax/broker/encoding"
)

// decodeV311 parses a v3.1.1/3.0 packet and normalizes it into the v5-shaped
// Packet union: no properties, and return codes translated to reason codes.
func decodeV311(r io.Reader, fh *encoding.FixedHeader) (Packet, error) {
	switch fh.Type {
	case encoding.CONNECT:
		pkt, err := encoding.ParseConnectPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, Connect: connectFrom311(pkt)}, nil
	case encoding.CONNACK:
		pkt, err := encoding.ParseConnackPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, ConnAck: &encoding.ConnackPacket{
			FixedHeader:    pkt.FixedHeader,
			SessionPresent: pkt.SessionPresent,
			ReasonCode:     reasonCodeFromReturnCode(pkt.ReturnCode),
		}}, nil
	case encoding.PUBLISH:
		pkt, err := encoding.ParsePublishPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, Publish: &encoding.PublishPacket{
			FixedHeader: pkt.FixedHeader,
			TopicName:   pkt.TopicName,
			PacketID:    pkt.PacketID,
			Payload:     pkt.Payload,
		}}, nil
	case encoding.PUBACK:
		pkt, err := encoding.ParsePubackPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, PubAck: &encoding.PubackPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
			ReasonCode:  encoding.ReasonSuccess,
		}}, nil
	case encoding.PUBREC:
		pkt, err := encoding.ParsePubrecPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, PubRec: &encoding.PubrecPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
			ReasonCode:  encoding.ReasonSuccess,
		}}, nil
	case encoding.PUBREL:
		pkt, err := encoding.ParsePubrelPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, PubRel: &encoding.PubrelPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
			ReasonCode:  encoding.ReasonSuccess,
		}}, nil
	case encoding.PUBCOMP:
		pkt, err := encoding.ParsePubcompPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, PubComp: &encoding.PubcompPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
			ReasonCode:  encoding.ReasonSuccess,
		}}, nil
	case encoding.SUBSCRIBE:
		pkt, err := encoding.ParseSubscribePacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		subs := make([]encoding.Subscription, len(pkt.Subscriptions))
		for i, s := range pkt.Subscriptions {
			subs[i] = encoding.Subscription{TopicFilter: s.TopicFilter, QoS: s.QoS}
		}
		return Packet{Type: fh.Type, Subscribe: &encoding.SubscribePacket{
			FixedHeader:   pkt.FixedHeader,
			PacketID:      pkt.PacketID,
			Subscriptions: subs,
		}}, nil
	case encoding.SUBACK:
		pkt, err := encoding.ParseSubackPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		codes := make([]encoding.ReasonCode, len(pkt.ReturnCodes))
		for i, rc := range pkt.ReturnCodes {
			codes[i] = subackReasonCodeFromReturnCode(rc)
		}
		return Packet{Type: fh.Type, SubAck: &encoding.SubackPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
			ReasonCodes: codes,
		}}, nil
	case encoding.UNSUBSCRIBE:
		pkt, err := encoding.ParseUnsubscribePacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, Unsubscribe: &encoding.UnsubscribePacket{
			FixedHeader:  pkt.FixedHeader,
			PacketID:     pkt.PacketID,
			TopicFilters: pkt.TopicFilters,
		}}, nil
	case encoding.UNSUBACK:
		pkt, err := encoding.ParseUnsubackPacket311(r, fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, UnsubAck: &encoding.UnsubackPacket{
			FixedHeader: pkt.FixedHeader,
			PacketID:    pkt.PacketID,
		}}, nil
	case encoding.PINGREQ:
		pkt, err := encoding.ParsePingreqPacket311(fh)
		return Packet{Type: fh.Type, PingReq: pkt}, err
	case encoding.PINGRESP:
		pkt, err := encoding.ParsePingrespPacket311(fh)
		return Packet{Type: fh.Type, PingResp: pkt}, err
	case encoding.DISCONNECT:
		pkt, err := encoding.ParseDisconnectPacket311(fh)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Type: fh.Type, Disconnect: &encoding.DisconnectPacket{
			FixedHeader: pkt.FixedHeader,
			ReasonCode:  encoding.ReasonNormalDisconnection,
		}}, nil
	default:
		return Packet{}, encoding.ErrInvalidType
	}
}

// encodeV311 downgrades a v5-shaped Packet to the v3.1.1/3.0 wire format,
// dropping properties and translating reason codes back to return codes.
func (p Packet) encodeV311(w io.Writer) error {
	switch p.Type {
	case encoding.CONNECT:
		c := p.Connect
		return (&encoding.ConnectPacket311{
			FixedHeader:     c.FixedHeader,
			ProtocolName:    c.ProtocolName,
			ProtocolVersion: c.ProtocolVersion,
			CleanSession:    c.CleanStart,
			WillFlag:        c.WillFlag,
			WillQoS:         c.WillQoS,
			WillRetain:      c.WillRetain,
			PasswordFlag:    c.PasswordFlag,
			UsernameFlag:    c.UsernameFlag,
			KeepAlive:       c.KeepAlive,
			ClientID:        c.ClientID,
			WillTopic:       c.WillTopic,
			WillPayload:     c.WillPayload,
			Username:        c.Username,
			Password:        c.Password,
		}).Encode(w)
	case encoding.CONNACK:
		a := p.ConnAck
		return (&encoding.ConnackPacket311{
			FixedHeader:    a.FixedHeader,
			SessionPresent: a.SessionPresent,
			ReturnCode:     returnCodeFromReasonCode(a.ReasonCode),
		}).Encode(w)
	case encoding.PUBLISH:
		pub := p.Publish
		return (&encoding.PublishPacket311{
			FixedHeader: pub.FixedHeader,
			TopicName:   pub.TopicName,
			PacketID:    pub.PacketID,
			Payload:     pub.Payload,
		}).Encode(w)
	case encoding.PUBACK:
		return (&encoding.PubackPacket311{FixedHeader: p.PubAck.FixedHeader, PacketID: p.PubAck.PacketID}).Encode(w)
	case encoding.PUBREC:
		return (&encoding.PubrecPacket311{FixedHeader: p.PubRec.FixedHeader, PacketID: p.PubRec.PacketID}).Encode(w)
	case encoding.PUBREL:
		return (&encoding.PubrelPacket311{FixedHeader: p.PubRel.FixedHeader, PacketID: p.PubRel.PacketID}).Encode(w)
	case encoding.PUBCOMP:
		return (&encoding.PubcompPacket311{FixedHeader: p.PubComp.FixedHeader, PacketID: p.PubComp.PacketID}).Encode(w)
	case encoding.SUBSCRIBE:
		sub := p.Subscribe
		subs := make([]encoding.Subscription311, len(sub.Subscriptions))
		for i, s := range sub.Subscriptions {
			subs[i] = encoding.Subscription311{TopicFilter: s.TopicFilter, QoS: s.QoS}
		}
		return (&encoding.SubscribePacket311{
			FixedHeader:   sub.FixedHeader,
			PacketID:      sub.PacketID,
			Subscriptions: subs,
		}).Encode(w)
	case encoding.SUBACK:
		ack := p.SubAck
		codes := make([]byte, len(ack.ReasonCodes))
		for i, rc := range ack.ReasonCodes {
			codes[i] = returnCodeFromSubackReasonCode(rc)
		}
		return (&encoding.SubackPacket311{
			FixedHeader: ack.FixedHeader,
			PacketID:    ack.PacketID,
			ReturnCodes: codes,
		}).Encode(w)
	case encoding.UNSUBSCRIBE:
		u := p.Unsubscribe
		return (&encoding.UnsubscribePacket311{
			FixedHeader:  u.FixedHeader,
			PacketID:     u.PacketID,
			TopicFilters: u.TopicFilters,
		}).Encode(w)
	case encoding.UNSUBACK:
		return (&encoding.UnsubackPacket311{FixedHeader: p.UnsubAck.FixedHeader, PacketID: p.UnsubAck.PacketID}).Encode(w)
	case encoding.PINGREQ:
		return p.PingReq.Encode(w)
	case encoding.PINGRESP:
		return p.PingResp.Encode(w)
	case encoding.DISCONNECT:
		return (&encoding.DisconnectPacket311{FixedHeader: p.Disconnect.FixedHeader}).Encode(w)
	default:
		return encoding.ErrInvalidType
	}
}

func connectFrom311(c *encoding.ConnectPacket311) *encoding.ConnectPacket {
	return &encoding.ConnectPacket{
		FixedHeader:     c.FixedHeader,
		ProtocolName:    c.ProtocolName,
		ProtocolVersion: c.ProtocolVersion,
		CleanStart:      c.CleanSession,
		WillFlag:        c.WillFlag,
		WillQoS:         c.WillQoS,
		WillRetain:      c.WillRetain,
		PasswordFlag:    c.PasswordFlag,
		UsernameFlag:    c.UsernameFlag,
		KeepAlive:       c.KeepAlive,
		ClientID:        c.ClientID,
		WillTopic:       c.WillTopic,
		WillPayload:     c.WillPayload,
		Username:        c.Username,
		Password:        c.Password,
	}
}

// reasonCodeFromReturnCode maps an MQTT 3.1.1 CONNACK return code onto the
// nearest MQTT 5.0 reason code. The two tables aren't byte-compatible.
func reasonCodeFromReturnCode(rc byte) encoding.ReasonCode {
	switch rc {
	case encoding.ConnectAccepted311:
		return encoding.ReasonSuccess
	case encoding.ConnectRefusedUnacceptableProtocol311:
		return encoding.ReasonUnsupportedProtocolVersion
	case encoding.ConnectRefusedIdentifierRejected311:
		return encoding.ReasonClientIdentifierNotValid
	case encoding.ConnectRefusedServerUnavailable311:
		return encoding.ReasonServerUnavailable
	case encoding.ConnectRefusedBadUsernamePassword311:
		return encoding.ReasonBadUsernameOrPassword
	case encoding.ConnectRefusedNotAuthorized311:
		return encoding.ReasonNotAuthorized
	default:
		return encoding.ReasonUnspecifiedError
	}
}

func returnCodeFromReasonCode(rc encoding.ReasonCode) byte {
	switch rc {
	case encoding.ReasonSuccess:
		return encoding.ConnectAccepted311
	case encoding.ReasonUnsupportedProtocolVersion:
		return encoding.ConnectRefusedUnacceptableProtocol311
	case encoding.ReasonClientIdentifierNotValid:
		return encoding.ConnectRefusedIdentifierRejected311
	case encoding.ReasonServerUnavailable:
		return encoding.ConnectRefusedServerUnavailable311
	case encoding.ReasonBadUsernameOrPassword:
		return encoding.ConnectRefusedBadUsernamePassword311
	case encoding.ReasonNotAuthorized:
		return encoding.ConnectRefusedNotAuthorized311
	default:
		return encoding.ConnectRefusedServerUnavailable311
	}
}

// subackReasonCodeFromReturnCode maps a 3.1.1 SUBACK return code (granted
// QoS 0/1/2, or 0x80 failure) onto its v5 reason code.
func subackReasonCodeFromReturnCode(rc byte) encoding.ReasonCode {
	switch rc {
	case 0x00:
		return encoding.ReasonGrantedQoS0
	case 0x01:
		return encoding.ReasonGrantedQoS1
	case 0x02:
		return encoding.ReasonGrantedQoS2
	default:
		return encoding.ReasonUnspecifiedError
	}
}

func returnCodeFromSubackReasonCode(rc encoding.ReasonCode) byte {
	switch rc {
	case encoding.ReasonGrantedQoS0:
		return 0x00
	case encoding.ReasonGrantedQoS1:
		return 0x01
	case encoding.ReasonGrantedQoS2:
		return 0x02
	default:
		return 0x80
	}
}
