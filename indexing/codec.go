package indexing

import (
	"encoding/binary"

	"github.com/kestreldb/kestrel/common"
)

// Codec serializes fixed-width keys and values into bucket-page slots. The
// width decides how many entries a bucket page holds, so it must be
// constant for a given type.
type Codec[T any] interface {
	Size() int
	Encode(buf []byte, v T)
	Decode(buf []byte) T
}

// Int32Codec stores 32-bit integers in 4 bytes. A bucket page holds 496
// (int32, int32) pairs.
type Int32Codec struct{}

func (Int32Codec) Size() int { return 4 }

func (Int32Codec) Encode(buf []byte, v int32) {
	binary.LittleEndian.PutUint32(buf, uint32(v))
}

func (Int32Codec) Decode(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf))
}

// Int64Codec stores 64-bit integers in 8 bytes.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(buf []byte, v int64) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// RIDCodec stores record ids in 8 bytes.
type RIDCodec struct{}

func (RIDCodec) Size() int { return common.RIDSize }

func (RIDCodec) Encode(buf []byte, v common.RID) {
	v.WriteTo(buf)
}

func (RIDCodec) Decode(buf []byte) common.RID {
	return common.LoadRID(buf)
}
