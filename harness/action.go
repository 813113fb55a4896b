package harness

import (
	"github.com/axmq-ax/broker/codec"
	"github.com/axmq-ax/broker/encoding"
)

// Action is a controllable action the exploration loop can take, matching
// the source's Actions/Models.addAction: a named step producing a
// codec.Packet against a Client. The harness's trace tree keys arcs by
// action name plus argument tuple (ActionKey), not by this function value.
type Action func(c *Client) error

// ConnectOptions carries the CONNECT fields an exploration or scenario test
// wants to vary; zero value is a bare clean-session connect with no will.
type ConnectOptions struct {
	CleanStart bool
	KeepAlive  uint16
	Username   string
	Password   []byte

	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool
	WillDelay   uint32
}

// Connect sends a CONNECT packet for clientID.
func Connect(c *Client, clientID string, opts ConnectOptions) error {
	cp := &encoding.ConnectPacket{
		FixedHeader:     encoding.FixedHeader{Type: encoding.CONNECT},
		ProtocolName:    "MQTT",
		ProtocolVersion: c.Version,
		CleanStart:      opts.CleanStart,
		KeepAlive:       opts.KeepAlive,
		ClientID:        clientID,
		Username:        opts.Username,
		Password:        opts.Password,
		UsernameFlag:    opts.Username != "",
		PasswordFlag:    len(opts.Password) > 0,
	}
	if opts.WillTopic != "" {
		cp.WillFlag = true
		cp.WillTopic = opts.WillTopic
		cp.WillPayload = opts.WillPayload
		cp.WillQoS = encoding.QoS(opts.WillQoS)
		cp.WillRetain = opts.WillRetain
		if opts.WillDelay > 0 {
			_ = cp.WillProperties.AddProperty(encoding.PropWillDelayInterval, opts.WillDelay)
		}
	}
	return c.Write(codec.Packet{Type: encoding.CONNECT, Connect: cp})
}

// Publish sends a PUBLISH with the given topic, payload, QoS and retain
// flag, allocating a fresh packet identifier for QoS > 0. It returns the
// packet identifier used (0 for QoS 0).
func Publish(c *Client, topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	var packetID uint16
	if qos > 0 {
		packetID = c.NextPacketID()
	}
	pkt := &encoding.PublishPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, QoS: encoding.QoS(qos), Retain: retain},
		TopicName:   topic,
		PacketID:    packetID,
		Payload:     payload,
	}
	return packetID, c.Write(codec.Packet{Type: encoding.PUBLISH, Publish: pkt})
}

// PublishDup resends pkt with DUP set, for redelivery scenarios.
func PublishDup(c *Client, pkt *encoding.PublishPacket) error {
	dup := *pkt
	dup.FixedHeader.DUP = true
	return c.Write(codec.Packet{Type: encoding.PUBLISH, Publish: &dup})
}

// Subscribe sends a single-filter SUBSCRIBE, returning the packet identifier
// used.
func Subscribe(c *Client, filter string, qos byte) (uint16, error) {
	packetID := c.NextPacketID()
	pkt := &encoding.SubscribePacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.SUBSCRIBE, Flags: 0x02},
		PacketID:    packetID,
		Subscriptions: []encoding.Subscription{
			{TopicFilter: filter, QoS: encoding.QoS(qos)},
		},
	}
	return packetID, c.Write(codec.Packet{Type: encoding.SUBSCRIBE, Subscribe: pkt})
}

// Unsubscribe sends a single-filter UNSUBSCRIBE, returning the packet
// identifier used.
func Unsubscribe(c *Client, filter string) (uint16, error) {
	packetID := c.NextPacketID()
	pkt := &encoding.UnsubscribePacket{
		FixedHeader:  encoding.FixedHeader{Type: encoding.UNSUBSCRIBE, Flags: 0x02},
		PacketID:     packetID,
		TopicFilters: []string{filter},
	}
	return packetID, c.Write(codec.Packet{Type: encoding.UNSUBSCRIBE, Unsubscribe: pkt})
}

// Puback acknowledges an inbound QoS 1 PUBLISH.
func Puback(c *Client, packetID uint16) error {
	return c.Write(codec.Packet{
		Type: encoding.PUBACK,
		PubAck: &encoding.PubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		},
	})
}

// Pubrec acknowledges an inbound QoS 2 PUBLISH, starting the exchange.
func Pubrec(c *Client, packetID uint16) error {
	return c.Write(codec.Packet{
		Type: encoding.PUBREC,
		PubRec: &encoding.PubrecPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBREC},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		},
	})
}

// Pubrel completes the publisher side of a QoS 2 exchange (sent after the
// broker's PUBREC) or, from a subscriber acting on its own inbound publish,
// after sending Pubrec.
func Pubrel(c *Client, packetID uint16) error {
	return c.Write(codec.Packet{
		Type: encoding.PUBREL,
		PubRel: &encoding.PubrelPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBREL, Flags: 0x02},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		},
	})
}

// Pubcomp closes out a QoS 2 exchange from the subscriber side, after
// receiving the broker's PUBREL.
func Pubcomp(c *Client, packetID uint16) error {
	return c.Write(codec.Packet{
		Type: encoding.PUBCOMP,
		PubComp: &encoding.PubcompPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBCOMP},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		},
	})
}

// PingReq sends a PINGREQ.
func PingReq(c *Client) error {
	return c.Write(codec.Packet{
		Type:    encoding.PINGREQ,
		PingReq: &encoding.PingreqPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGREQ}},
	})
}

// Disconnect sends a graceful DISCONNECT (with reason code 0 on v5) and then
// closes the connection.
func Disconnect(c *Client) error {
	if err := c.Write(codec.Packet{
		Type: encoding.DISCONNECT,
		Disconnect: &encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonSuccess,
		},
	}); err != nil {
		return err
	}
	return c.Close()
}

// AckInbound answers whatever a broker-delivered PUBLISH requires: nothing
// for QoS 0, PUBACK for QoS 1, or PUBREC for QoS 2 (the subscriber side of
// the exchange; the harness's caller sends the matching PUBCOMP once the
// broker's PUBREL observation arrives).
func AckInbound(c *Client, pub *encoding.PublishPacket) error {
	switch pub.FixedHeader.QoS {
	case encoding.QoS1:
		return Puback(c, pub.PacketID)
	case encoding.QoS2:
		return Pubrec(c, pub.PacketID)
	}
	return nil
}
