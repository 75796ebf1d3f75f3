// SPDX-License-Identifier: MIT

package testutil

import (
	"bytes"
	"encoding/binary"
)

// MovieOptions shapes a synthetic MP4 file.
type MovieOptions struct {
	Timescale uint32
	Duration  uint64

	// Version1 writes a 64-bit mvhd box.
	Version1 bool

	// MediaBytes is the size of the mdat payload.
	MediaBytes int

	// MoovFirst places moov before mdat (a "faststart" file).
	MoovFirst bool
}

// Movie builds a minimal ftyp/mdat/moov file whose mvhd box carries the
// requested timescale and duration.
func Movie(o MovieOptions) []byte {
	var ftyp bytes.Buffer
	ftyp.WriteString("isom")
	_ = binary.Write(&ftyp, binary.BigEndian, uint32(512))
	ftyp.WriteString("isomiso2mp41")

	var mvhd bytes.Buffer
	if o.Version1 {
		mvhd.Write([]byte{1, 0, 0, 0})
		_ = binary.Write(&mvhd, binary.BigEndian, uint64(0)) // creation
		_ = binary.Write(&mvhd, binary.BigEndian, uint64(0)) // modification
		_ = binary.Write(&mvhd, binary.BigEndian, o.Timescale)
		_ = binary.Write(&mvhd, binary.BigEndian, o.Duration)
	} else {
		mvhd.Write([]byte{0, 0, 0, 0})
		_ = binary.Write(&mvhd, binary.BigEndian, uint32(0))
		_ = binary.Write(&mvhd, binary.BigEndian, uint32(0))
		_ = binary.Write(&mvhd, binary.BigEndian, o.Timescale)
		_ = binary.Write(&mvhd, binary.BigEndian, uint32(o.Duration))
	}
	_ = binary.Write(&mvhd, binary.BigEndian, int32(0x00010000)) // rate 1.0
	_ = binary.Write(&mvhd, binary.BigEndian, int16(0x0100))     // volume 1.0
	mvhd.Write(make([]byte, 2+8))
	for _, v := range []int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		_ = binary.Write(&mvhd, binary.BigEndian, v)
	}
	mvhd.Write(make([]byte, 24))
	_ = binary.Write(&mvhd, binary.BigEndian, uint32(2)) // next track id

	moov := box("moov", box("mvhd", mvhd.Bytes()))
	mdat := box("mdat", bytes.Repeat([]byte{0xAB}, o.MediaBytes))

	var out bytes.Buffer
	out.Write(box("ftyp", ftyp.Bytes()))
	if o.MoovFirst {
		out.Write(moov)
		out.Write(mdat)
	} else {
		out.Write(mdat)
		out.Write(moov)
	}
	return out.Bytes()
}

func box(typ string, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], typ)
	return append(b, payload...)
}
