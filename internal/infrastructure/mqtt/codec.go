package mqtt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// mqttProtocolLevel is the protocol level byte for MQTT 3.1.1.
const mqttProtocolLevel = 4

// PacketType is the MQTT control packet type of a decoded packet.
type PacketType byte

// Control packet types.
const (
	PacketUnknown     PacketType = 0
	PacketConnect     PacketType = packets.Connect
	PacketConnack     PacketType = packets.Connack
	PacketPublish     PacketType = packets.Publish
	PacketPuback      PacketType = packets.Puback
	PacketPubrec      PacketType = packets.Pubrec
	PacketPubrel      PacketType = packets.Pubrel
	PacketPubcomp     PacketType = packets.Pubcomp
	PacketSubscribe   PacketType = packets.Subscribe
	PacketSuback      PacketType = packets.Suback
	PacketUnsubscribe PacketType = packets.Unsubscribe
	PacketUnsuback    PacketType = packets.Unsuback
	PacketPingreq     PacketType = packets.Pingreq
	PacketPingresp    PacketType = packets.Pingresp
	PacketDisconnect  PacketType = packets.Disconnect
)

// subackFailure is the SUBACK return code for a refused topic filter.
const subackFailure = 0x80

// Packet is the decoded form of an inbound packet.
type Packet struct {
	Type     PacketType
	PacketID uint16

	// CONNACK
	ReturnCode     byte
	SessionPresent bool

	// SUBACK
	ReturnCodes []byte

	// PUBLISH
	Publish *PublishInfo
	Dup     bool
}

// Codec converts between packets and wire bytes.
//
// Implementations must be safe for concurrent use. A Connection selects its
// codec once at Connect.
type Codec interface {
	SerializeConnect(info *ConnectInfo) ([]byte, error)
	SerializePublish(info *PublishInfo, packetID uint16, dup bool) ([]byte, error)
	SerializeSubscribe(subs []Subscription, packetID uint16) ([]byte, error)
	SerializeUnsubscribe(subs []Subscription, packetID uint16) ([]byte, error)
	SerializePingreq() ([]byte, error)
	SerializeDisconnect() ([]byte, error)
	SerializePuback(packetID uint16) ([]byte, error)

	// Deserialize reads exactly one packet from r.
	Deserialize(r io.Reader) (*Packet, error)
}

// PacketCodec is the default Codec, built on the paho packets package.
type PacketCodec struct{}

var _ Codec = PacketCodec{}

// SerializeConnect encodes a CONNECT packet.
func (PacketCodec) SerializeConnect(info *ConnectInfo) ([]byte, error) {
	p := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	p.ProtocolName = "MQTT"
	p.ProtocolVersion = mqttProtocolLevel
	p.CleanSession = info.CleanSession
	p.Keepalive = info.KeepAliveSeconds
	p.ClientIdentifier = info.ClientIdentifier

	if info.Will != nil {
		p.WillFlag = true
		p.WillQos = byte(info.Will.QoS)
		p.WillRetain = info.Will.Retain
		p.WillTopic = info.Will.TopicName
		p.WillMessage = info.Will.Payload
	}
	if info.UserName != "" {
		p.UsernameFlag = true
		p.Username = info.UserName
	}
	if info.Password != "" {
		p.PasswordFlag = true
		p.Password = []byte(info.Password)
	}

	return encode(p, OperationConnect)
}

// SerializePublish encodes a PUBLISH packet. packetID is ignored for QoS 0.
func (PacketCodec) SerializePublish(info *PublishInfo, packetID uint16, dup bool) ([]byte, error) {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.Qos = byte(info.QoS)
	p.Retain = info.Retain
	p.TopicName = info.TopicName
	p.Payload = info.Payload
	if info.QoS > QoS0 {
		p.MessageID = packetID
		p.Dup = dup
	}
	return encode(p, OperationPublish)
}

// SerializeSubscribe encodes a SUBSCRIBE packet.
func (PacketCodec) SerializeSubscribe(subs []Subscription, packetID uint16) ([]byte, error) {
	p := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	p.MessageID = packetID
	p.Topics = make([]string, len(subs))
	p.Qoss = make([]byte, len(subs))
	for i, s := range subs {
		p.Topics[i] = s.TopicFilter
		p.Qoss[i] = byte(s.QoS)
	}
	return encode(p, OperationSubscribe)
}

// SerializeUnsubscribe encodes an UNSUBSCRIBE packet.
func (PacketCodec) SerializeUnsubscribe(subs []Subscription, packetID uint16) ([]byte, error) {
	p := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	p.MessageID = packetID
	p.Topics = make([]string, len(subs))
	for i, s := range subs {
		p.Topics[i] = s.TopicFilter
	}
	return encode(p, OperationUnsubscribe)
}

// SerializePingreq encodes a PINGREQ packet.
func (PacketCodec) SerializePingreq() ([]byte, error) {
	return encode(packets.NewControlPacket(packets.Pingreq), OperationPingreq)
}

// SerializeDisconnect encodes a DISCONNECT packet.
func (PacketCodec) SerializeDisconnect() ([]byte, error) {
	return encode(packets.NewControlPacket(packets.Disconnect), OperationDisconnect)
}

// SerializePuback encodes a PUBACK packet.
func (PacketCodec) SerializePuback(packetID uint16) ([]byte, error) {
	p := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	p.MessageID = packetID
	return encode(p, OperationPuback)
}

// Deserialize reads and decodes one packet.
// Every failure is wrapped in ErrBadResponse.
func (PacketCodec) Deserialize(r io.Reader) (*Packet, error) {
	cp, err := packets.ReadPacket(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	switch p := cp.(type) {
	case *packets.ConnackPacket:
		return &Packet{Type: PacketConnack, ReturnCode: p.ReturnCode, SessionPresent: p.SessionPresent}, nil
	case *packets.PubackPacket:
		return &Packet{Type: PacketPuback, PacketID: p.MessageID}, nil
	case *packets.SubackPacket:
		return &Packet{Type: PacketSuback, PacketID: p.MessageID, ReturnCodes: p.ReturnCodes}, nil
	case *packets.UnsubackPacket:
		return &Packet{Type: PacketUnsuback, PacketID: p.MessageID}, nil
	case *packets.PingrespPacket:
		return &Packet{Type: PacketPingresp}, nil
	case *packets.PublishPacket:
		return &Packet{
			Type:     PacketPublish,
			PacketID: p.MessageID,
			Dup:      p.Dup,
			Publish: &PublishInfo{
				QoS:       QoS(p.Qos),
				Retain:    p.Retain,
				TopicName: p.TopicName,
				Payload:   p.Payload,
			},
		}, nil
	case *packets.PubrecPacket:
		return &Packet{Type: PacketPubrec, PacketID: p.MessageID}, nil
	case *packets.PubrelPacket:
		return &Packet{Type: PacketPubrel, PacketID: p.MessageID}, nil
	case *packets.PubcompPacket:
		return &Packet{Type: PacketPubcomp, PacketID: p.MessageID}, nil
	default:
		return &Packet{Type: PacketUnknown}, nil
	}
}

func encode(p packets.ControlPacket, op OperationType) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", ErrBadParameter, op, err)
	}
	return buf.Bytes(), nil
}
