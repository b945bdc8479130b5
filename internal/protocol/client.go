package protocol

import (
	"encoding"
	"fmt"

	"github.com/blukai/udparena/internal/byteorder"
)

// NOTE(blukai): C stands for client. tag values are part of the wire format,
// don't reorder.
type ClientTag uint32

const (
	CTagConnect ClientTag = iota
	CTagDisconnect
	CTagChatMessage
	CTagRequestToSpawnPlayer
	CTagRequestAllPlayers
	CTagEntityPosition

	CTagMax
)

func (t ClientTag) String() string {
	switch t {
	case CTagConnect:
		return "Connect"
	case CTagDisconnect:
		return "Disconnect"
	case CTagChatMessage:
		return "ChatMessage"
	case CTagRequestToSpawnPlayer:
		return "RequestToSpawnPlayer"
	case CTagRequestAllPlayers:
		return "RequestAllPlayers"
	case CTagEntityPosition:
		return "EntityPosition"
	default:
		return fmt.Sprintf("ClientTag(%d)", uint32(t))
	}
}

// ClientMessage is a message sent from a client to the server.
type ClientMessage interface {
	encoding.BinaryMarshaler
	ClientTag() ClientTag
}

type CConnect struct{}

type CDisconnect struct{}

type CChatMessage struct {
	Text string
}

type CRequestToSpawnPlayer struct{}

type CRequestAllPlayers struct{}

type CEntityPosition struct {
	EntityID EntityID
	Pos      Vec2
}

var (
	_ ClientMessage = (*CConnect)(nil)
	_ ClientMessage = (*CDisconnect)(nil)
	_ ClientMessage = (*CChatMessage)(nil)
	_ ClientMessage = (*CRequestToSpawnPlayer)(nil)
	_ ClientMessage = (*CRequestAllPlayers)(nil)
	_ ClientMessage = (*CEntityPosition)(nil)
)

func (*CConnect) ClientTag() ClientTag              { return CTagConnect }
func (*CDisconnect) ClientTag() ClientTag           { return CTagDisconnect }
func (*CChatMessage) ClientTag() ClientTag          { return CTagChatMessage }
func (*CRequestToSpawnPlayer) ClientTag() ClientTag { return CTagRequestToSpawnPlayer }
func (*CRequestAllPlayers) ClientTag() ClientTag    { return CTagRequestAllPlayers }
func (*CEntityPosition) ClientTag() ClientTag       { return CTagEntityPosition }

func noBody(buf []byte) []byte { return buf }

func (m *CConnect) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagConnect), noBody)
}

func (m *CDisconnect) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagDisconnect), noBody)
}

func (m *CChatMessage) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagChatMessage), func(buf []byte) []byte {
		return appendString(buf, m.Text)
	})
}

func (m *CRequestToSpawnPlayer) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagRequestToSpawnPlayer), noBody)
}

func (m *CRequestAllPlayers) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagRequestAllPlayers), noBody)
}

func (m *CEntityPosition) MarshalBinary() ([]byte, error) {
	return marshal(uint32(CTagEntityPosition), func(buf []byte) []byte {
		buf = byteorder.AppendHtolel(buf, uint32(m.EntityID))
		return appendVec2(buf, m.Pos)
	})
}

// UnmarshalClientMessage decodes exactly one client message from data.
func UnmarshalClientMessage(data []byte) (ClientMessage, error) {
	d := &decoder{data: data}
	tag := ClientTag(d.uint32())
	if d.err != nil {
		return nil, fmt.Errorf("could not read tag: %w", d.err)
	}

	var msg ClientMessage
	switch tag {
	case CTagConnect:
		msg = &CConnect{}
	case CTagDisconnect:
		msg = &CDisconnect{}
	case CTagChatMessage:
		msg = &CChatMessage{Text: d.string()}
	case CTagRequestToSpawnPlayer:
		msg = &CRequestToSpawnPlayer{}
	case CTagRequestAllPlayers:
		msg = &CRequestAllPlayers{}
	case CTagEntityPosition:
		msg = &CEntityPosition{
			EntityID: EntityID(d.uint32()),
			Pos:      d.vec2(),
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint32(tag))
	}

	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", tag, err)
	}
	return msg, nil
}
