package byteorder

import (
	"encoding/binary"
	"math"
)

// https://linux.die.net/man/3/ntohs
//
// decrypt names:
// h  = host
// n  = network
// s  = short     = 16 bit
// l  = long      = 32 bit
// ll = long long = 64 bit
// f  = float     = 32 bit ieee 754
//
// Append* variants write into an existing buffer to avoid an allocation per
// field when building packets.

func Htons(val uint16) []byte {
	return AppendHtons(make([]byte, 0, 2), val)
}

func Htonl(val uint32) []byte {
	return AppendHtonl(make([]byte, 0, 4), val)
}

func Htonll(val uint64) []byte {
	return AppendHtonll(make([]byte, 0, 8), val)
}

func AppendHtons(buf []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, val)
}

func AppendHtonl(buf []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, val)
}

func AppendHtonll(buf []byte, val uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, val)
}

func AppendHtonf(buf []byte, val float32) []byte {
	return binary.BigEndian.AppendUint32(buf, math.Float32bits(val))
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Ntohll(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func Ntohf(buf []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(buf))
}
