package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/blukai/udparena/internal/byteorder"
)

// NOTE(blukai): wire layout is fixed, existing desktop clients depend on it:
// - everything is little-endian
// - enum variant is a u32 tag
// - string is u64 byte length followed by utf-8 bytes
// - sequence is u64 element count followed by elements
// - vec2 is two f32, no length

const (
	// MaxDatagramSize is the largest udp payload over ipv4 (65535 - 8 byte
	// udp header - 20 byte ip header).
	MaxDatagramSize = 65507

	TagSize    = 4
	Vec2Size   = 8
	PlayerSize = 4 + 4 + Vec2Size + Vec2Size
)

var (
	ErrShortBuffer   = errors.New("short buffer")
	ErrUnknownTag    = errors.New("unknown tag")
	ErrInvalidString = errors.New("invalid utf-8 string")
	ErrTooLarge      = errors.New("message exceeds max datagram size")
)

type ClientID uint32

type EntityID uint32

type Vec2 struct {
	X float32
	Y float32
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

// Player is the wire form of a simulated player entity.
type Player struct {
	Owner ClientID
	ID    EntityID
	Pos   Vec2
	Vel   Vec2
}

// Envelope is a decoded client message attributed to the session it came
// from.
type Envelope struct {
	ClientID ClientID
	Message  ClientMessage
}

func appendVec2(buf []byte, v Vec2) []byte {
	buf = byteorder.AppendHtolef(buf, v.X)
	return byteorder.AppendHtolef(buf, v.Y)
}

func appendString(buf []byte, s string) []byte {
	buf = byteorder.AppendHtolell(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendPlayer(buf []byte, p Player) []byte {
	buf = byteorder.AppendHtolel(buf, uint32(p.Owner))
	buf = byteorder.AppendHtolel(buf, uint32(p.ID))
	buf = appendVec2(buf, p.Pos)
	return appendVec2(buf, p.Vel)
}

// decoder reads primitives sequentially and remembers the first error so
// callers can read a whole body and check once.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if remaining := len(d.data) - d.off; remaining < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, d.off, remaining)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return byteorder.Letohl(b)
}

func (d *decoder) float32() float32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return byteorder.Letohf(b)
}

// length reads a u64 length prefix and checks that at least length*elemSize
// bytes remain, so a hostile prefix can't trigger a huge allocation.
func (d *decoder) length(elemSize int) int {
	b := d.take(8)
	if b == nil {
		return 0
	}
	n := byteorder.Letohll(b)
	remaining := uint64(len(d.data) - d.off)
	if n > remaining/uint64(elemSize) {
		d.err = fmt.Errorf("%w: length prefix %d exceeds remaining %d bytes", ErrShortBuffer, n, remaining)
		return 0
	}
	return int(n)
}

func (d *decoder) string() string {
	n := d.length(1)
	b := d.take(n)
	if d.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.err = ErrInvalidString
		return ""
	}
	return string(b)
}

func (d *decoder) vec2() Vec2 {
	return Vec2{X: d.float32(), Y: d.float32()}
}

func (d *decoder) player() Player {
	return Player{
		Owner: ClientID(d.uint32()),
		ID:    EntityID(d.uint32()),
		Pos:   d.vec2(),
		Vel:   d.vec2(),
	}
}

// finish reports the first decode error. Bytes after the message are
// ignored, existing peers pad some datagrams.
func (d *decoder) finish() error {
	return d.err
}

func marshal(tag uint32, appendBody func([]byte) []byte) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = byteorder.AppendHtolel(buf, tag)
	buf = appendBody(buf)
	if len(buf) > MaxDatagramSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(buf))
	}
	return buf, nil
}
