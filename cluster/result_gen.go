package cluster

// NOTE: THIS FILE WAS PRODUCED BY THE
// MSGP CODE GENERATION TOOL (github.com/tinylib/msgp)
// DO NOT EDIT

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (z *Result) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	// map header, size 4
	// string "centroids"
	o = append(o, 0x84, 0xa9, 0x63, 0x65, 0x6e, 0x74, 0x72, 0x6f, 0x69, 0x64, 0x73)
	o = msgp.AppendArrayHeader(o, uint32(len(z.Centroids)))
	for za0001 := range z.Centroids {
		o = msgp.AppendFloat32(o, z.Centroids[za0001])
	}
	// string "labels"
	o = append(o, 0xa6, 0x6c, 0x61, 0x62, 0x65, 0x6c, 0x73)
	o = msgp.AppendArrayHeader(o, uint32(len(z.Labels)))
	for za0002 := range z.Labels {
		o = msgp.AppendInt32(o, z.Labels[za0002])
	}
	// string "k"
	o = append(o, 0xa1, 0x6b)
	o = msgp.AppendInt(o, z.K)
	// string "dims"
	o = append(o, 0xa4, 0x64, 0x69, 0x6d, 0x73)
	o = msgp.AppendInt(o, z.Dims)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Result) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	_ = field
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "centroids":
			var zb0002 uint32
			zb0002, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Centroids")
				return
			}
			if cap(z.Centroids) >= int(zb0002) {
				z.Centroids = (z.Centroids)[:zb0002]
			} else {
				z.Centroids = make([]float32, zb0002)
			}
			for za0001 := range z.Centroids {
				z.Centroids[za0001], bts, err = msgp.ReadFloat32Bytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "Centroids", za0001)
					return
				}
			}
		case "labels":
			var zb0003 uint32
			zb0003, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Labels")
				return
			}
			if cap(z.Labels) >= int(zb0003) {
				z.Labels = (z.Labels)[:zb0003]
			} else {
				z.Labels = make([]int32, zb0003)
			}
			for za0002 := range z.Labels {
				z.Labels[za0002], bts, err = msgp.ReadInt32Bytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "Labels", za0002)
					return
				}
			}
		case "k":
			z.K, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "K")
				return
			}
		case "dims":
			z.Dims, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Dims")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Result) Msgsize() (s int) {
	s = 1 + 10 + msgp.ArrayHeaderSize + (len(z.Centroids) * (msgp.Float32Size)) + 7 + msgp.ArrayHeaderSize + (len(z.Labels) * (msgp.Int32Size)) + 2 + msgp.IntSize + 5 + msgp.IntSize
	return
}
