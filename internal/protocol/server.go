package protocol

import (
	"encoding"
	"fmt"

	"github.com/blukai/udparena/internal/byteorder"
)

// NOTE(blukai): S stands for server. tag values are part of the wire format,
// don't reorder.
type ServerTag uint32

const (
	STagClientIDAssignment ServerTag = iota
	STagWelcome
	STagClientJoined
	STagClientLeft
	STagChatMessage
	STagSpawnPlayer
	STagEntityPosition
	STagAllPlayers

	STagMax
)

func (t ServerTag) String() string {
	switch t {
	case STagClientIDAssignment:
		return "ClientIDAssignment"
	case STagWelcome:
		return "Welcome"
	case STagClientJoined:
		return "ClientJoined"
	case STagClientLeft:
		return "ClientLeft"
	case STagChatMessage:
		return "ChatMessage"
	case STagSpawnPlayer:
		return "SpawnPlayer"
	case STagEntityPosition:
		return "EntityPosition"
	case STagAllPlayers:
		return "AllPlayers"
	default:
		return fmt.Sprintf("ServerTag(%d)", uint32(t))
	}
}

// ServerMessage is a message sent from the server to a client. Values are
// shared between mailboxes when broadcast and must not be mutated after
// being pushed.
type ServerMessage interface {
	encoding.BinaryMarshaler
	ServerTag() ServerTag
}

type SClientIDAssignment struct {
	ID ClientID
}

type SWelcome struct {
	Text string
}

type SClientJoined struct {
	ID ClientID
}

type SClientLeft struct {
	ID ClientID
}

type SChatMessage struct {
	From ClientID
	Text string
}

type SSpawnPlayer struct {
	Owner    ClientID
	EntityID EntityID
	Pos      Vec2
}

type SEntityPosition struct {
	EntityID EntityID
	Pos      Vec2
}

type SAllPlayers struct {
	Players []Player
}

var (
	_ ServerMessage = (*SClientIDAssignment)(nil)
	_ ServerMessage = (*SWelcome)(nil)
	_ ServerMessage = (*SClientJoined)(nil)
	_ ServerMessage = (*SClientLeft)(nil)
	_ ServerMessage = (*SChatMessage)(nil)
	_ ServerMessage = (*SSpawnPlayer)(nil)
	_ ServerMessage = (*SEntityPosition)(nil)
	_ ServerMessage = (*SAllPlayers)(nil)
)

func (*SClientIDAssignment) ServerTag() ServerTag { return STagClientIDAssignment }
func (*SWelcome) ServerTag() ServerTag            { return STagWelcome }
func (*SClientJoined) ServerTag() ServerTag       { return STagClientJoined }
func (*SClientLeft) ServerTag() ServerTag         { return STagClientLeft }
func (*SChatMessage) ServerTag() ServerTag        { return STagChatMessage }
func (*SSpawnPlayer) ServerTag() ServerTag        { return STagSpawnPlayer }
func (*SEntityPosition) ServerTag() ServerTag     { return STagEntityPosition }
func (*SAllPlayers) ServerTag() ServerTag         { return STagAllPlayers }

func (m *SClientIDAssignment) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagClientIDAssignment), func(buf []byte) []byte {
		return byteorder.AppendHtolel(buf, uint32(m.ID))
	})
}

func (m *SWelcome) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagWelcome), func(buf []byte) []byte {
		return appendString(buf, m.Text)
	})
}

func (m *SClientJoined) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagClientJoined), func(buf []byte) []byte {
		return byteorder.AppendHtolel(buf, uint32(m.ID))
	})
}

func (m *SClientLeft) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagClientLeft), func(buf []byte) []byte {
		return byteorder.AppendHtolel(buf, uint32(m.ID))
	})
}

func (m *SChatMessage) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagChatMessage), func(buf []byte) []byte {
		buf = byteorder.AppendHtolel(buf, uint32(m.From))
		return appendString(buf, m.Text)
	})
}

func (m *SSpawnPlayer) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagSpawnPlayer), func(buf []byte) []byte {
		buf = byteorder.AppendHtolel(buf, uint32(m.Owner))
		buf = byteorder.AppendHtolel(buf, uint32(m.EntityID))
		return appendVec2(buf, m.Pos)
	})
}

func (m *SEntityPosition) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagEntityPosition), func(buf []byte) []byte {
		buf = byteorder.AppendHtolel(buf, uint32(m.EntityID))
		return appendVec2(buf, m.Pos)
	})
}

func (m *SAllPlayers) MarshalBinary() ([]byte, error) {
	return marshal(uint32(STagAllPlayers), func(buf []byte) []byte {
		buf = byteorder.AppendHtolell(buf, uint64(len(m.Players)))
		for _, p := range m.Players {
			buf = appendPlayer(buf, p)
		}
		return buf
	})
}

// UnmarshalServerMessage decodes exactly one server message from data.
func UnmarshalServerMessage(data []byte) (ServerMessage, error) {
	d := &decoder{data: data}
	tag := ServerTag(d.uint32())
	if d.err != nil {
		return nil, fmt.Errorf("could not read tag: %w", d.err)
	}

	var msg ServerMessage
	switch tag {
	case STagClientIDAssignment:
		msg = &SClientIDAssignment{ID: ClientID(d.uint32())}
	case STagWelcome:
		msg = &SWelcome{Text: d.string()}
	case STagClientJoined:
		msg = &SClientJoined{ID: ClientID(d.uint32())}
	case STagClientLeft:
		msg = &SClientLeft{ID: ClientID(d.uint32())}
	case STagChatMessage:
		msg = &SChatMessage{
			From: ClientID(d.uint32()),
			Text: d.string(),
		}
	case STagSpawnPlayer:
		msg = &SSpawnPlayer{
			Owner:    ClientID(d.uint32()),
			EntityID: EntityID(d.uint32()),
			Pos:      d.vec2(),
		}
	case STagEntityPosition:
		msg = &SEntityPosition{
			EntityID: EntityID(d.uint32()),
			Pos:      d.vec2(),
		}
	case STagAllPlayers:
		n := d.length(PlayerSize)
		players := make([]Player, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			players = append(players, d.player())
		}
		msg = &SAllPlayers{Players: players}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint32(tag))
	}

	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", tag, err)
	}
	return msg, nil
}
