package byteorder

import (
	"encoding/binary"
	"math"
)

// wire format is little-endian (x86 host order), not network order. names
// follow the same scheme as htons/ntohs but with "le" in place of "n":
// h  = host
// le = little-endian
// l  = long      = 32 bit
// ll = long long = 64 bit
// f  = float     = 32 bit

func AppendHtolel(buf []byte, val uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, val)
}

func AppendHtolell(buf []byte, val uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, val)
}

func AppendHtolef(buf []byte, val float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(val))
}

func Letohl(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func Letohll(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func Letohf(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}
