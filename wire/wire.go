// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the on-the-wire frame formats of spec.md §6.1:
// a fixed message header followed by a list of big-endian-encoded
// records, an extended fragment header for over-MTU frames, and a
// reduced header for intra-domain hops. All multi-byte integers are
// encoded network-byte-order regardless of host, per §4.5.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/openkarl/karl/record"
)

// MessageType tags the purpose of a frame, per the §6.1.1 `type` field.
type MessageType uint32

const (
	Assign      MessageType = 1
	MultiAssign MessageType = 2
	Latency     MessageType = 10
	Vote        MessageType = 11
)

// MadaraID is the fixed 8-byte protocol identifier stamped into every
// message header.
const MadaraID = "KaRL1.0\x00"

const (
	domainFieldSize     = 32
	originatorFieldSize = 64
	reducedHeaderSize   = 32
	fragmentTrailerSize = 4 // update_number
)

// HeaderSize is the total size of a Header once every field in the §6.1.1
// table is laid out back to back (8+8+32+64+4+4+4+8+8+1 = 141); the
// section's "(fixed 116 bytes)" aside refers only to the size+madara_id+
// domain+originator+type prefix (the part common to the reduced header's
// sibling fields), not the whole fixed portion before the record list.
const HeaderSize = 8 + 8 + domainFieldSize + originatorFieldSize + 4 + 4 + 4 + 8 + 8 + 1

// FragmentHeaderSize is HeaderSize plus the trailing update_number.
const FragmentHeaderSize = HeaderSize + fragmentTrailerSize

// ReducedHeaderSize is the §6.1.3 compact form.
const ReducedHeaderSize = reducedHeaderSize

var (
	// ErrMalformedFrame is returned when a header fails identifier or size
	// sanity checks (§7's MalformedFrame error kind).
	ErrMalformedFrame = errors.New("wire: malformed frame")
)

// Header is the decoded form of a §6.1.1 message header.
type Header struct {
	Size       uint64
	MadaraID   [8]byte
	Domain     string
	Originator string
	Type       MessageType
	Updates    uint32
	Quality    uint32
	Clock      uint64
	Timestamp  int64
	TTL        uint8
}

func padString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func unpadString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// EncodeHeader writes h's 141-byte fixed form into a fresh buffer.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	encodeHeaderInto(buf, h)
	return buf
}

func encodeHeaderInto(buf []byte, h Header) {
	binary.BigEndian.PutUint64(buf[0:8], h.Size)
	copy(buf[8:16], []byte(MadaraID))
	padString(buf[16:16+domainFieldSize], h.Domain)
	padString(buf[48:48+originatorFieldSize], h.Originator)
	binary.BigEndian.PutUint32(buf[112:116], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[116:120], h.Updates)
	binary.BigEndian.PutUint32(buf[120:124], h.Quality)
	binary.BigEndian.PutUint64(buf[124:132], h.Clock)
	binary.BigEndian.PutUint64(buf[132:140], uint64(h.Timestamp))
	buf[140] = h.TTL
}

// DecodeHeader reads a §6.1.1 header from the front of buf, returning
// ErrMalformedFrame if buf is too short or the madara_id doesn't match.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedFrame, HeaderSize, len(buf))
	}
	var h Header
	h.Size = binary.BigEndian.Uint64(buf[0:8])
	copy(h.MadaraID[:], buf[8:16])
	if string(h.MadaraID[:]) != MadaraID {
		return Header{}, fmt.Errorf("%w: bad madara_id %q", ErrMalformedFrame, h.MadaraID[:])
	}
	h.Domain = unpadString(buf[16 : 16+domainFieldSize])
	h.Originator = unpadString(buf[48 : 48+originatorFieldSize])
	h.Type = MessageType(binary.BigEndian.Uint32(buf[112:116]))
	h.Updates = binary.BigEndian.Uint32(buf[116:120])
	h.Quality = binary.BigEndian.Uint32(buf[120:124])
	h.Clock = binary.BigEndian.Uint64(buf[124:132])
	h.Timestamp = int64(binary.BigEndian.Uint64(buf[132:140]))
	h.TTL = buf[140]
	if h.Size < uint64(HeaderSize) {
		return Header{}, fmt.Errorf("%w: size %d smaller than header", ErrMalformedFrame, h.Size)
	}
	return h, nil
}

// FragmentHeader is a Header plus its position in a fragmented sequence.
type FragmentHeader struct {
	Header
	UpdateNumber uint32
}

// EncodeFragmentHeader writes h's 145-byte form.
func EncodeFragmentHeader(h FragmentHeader) []byte {
	buf := make([]byte, FragmentHeaderSize)
	encodeHeaderInto(buf[:HeaderSize], h.Header)
	binary.BigEndian.PutUint32(buf[HeaderSize:FragmentHeaderSize], h.UpdateNumber)
	return buf
}

// DecodeFragmentHeader reads a fragment header from the front of buf.
func DecodeFragmentHeader(buf []byte) (FragmentHeader, error) {
	if len(buf) < FragmentHeaderSize {
		return FragmentHeader{}, fmt.Errorf("%w: fragment header needs %d bytes, got %d", ErrMalformedFrame, FragmentHeaderSize, len(buf))
	}
	base, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return FragmentHeader{}, err
	}
	return FragmentHeader{
		Header:       base,
		UpdateNumber: binary.BigEndian.Uint32(buf[HeaderSize:FragmentHeaderSize]),
	}, nil
}

// ReducedHeader is the §6.1.3 compact form for intra-domain hops. Size is
// narrowed to 32 bits relative to the full Header (a single frame never
// approaches 4 GiB) to leave room for ttl within the fixed 32 bytes:
// size(4) | madara_id(8) | type(4) | updates(4) | clock(8) | ttl(1) |
// pad(3).
type ReducedHeader struct {
	Size    uint32
	Type    MessageType
	Updates uint32
	Clock   uint64
	TTL     uint8
}

// EncodeReducedHeader writes the 32-byte reduced form.
func EncodeReducedHeader(h ReducedHeader) []byte {
	buf := make([]byte, ReducedHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Size)
	copy(buf[4:12], []byte(MadaraID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[16:20], h.Updates)
	binary.BigEndian.PutUint64(buf[20:28], h.Clock)
	buf[28] = h.TTL
	return buf
}

// DecodeReducedHeader reverses EncodeReducedHeader.
func DecodeReducedHeader(buf []byte) (ReducedHeader, error) {
	if len(buf) < ReducedHeaderSize {
		return ReducedHeader{}, fmt.Errorf("%w: reduced header needs %d bytes, got %d", ErrMalformedFrame, ReducedHeaderSize, len(buf))
	}
	if string(buf[4:12]) != MadaraID {
		return ReducedHeader{}, fmt.Errorf("%w: bad madara_id in reduced header", ErrMalformedFrame)
	}
	var h ReducedHeader
	h.Size = binary.BigEndian.Uint32(buf[0:4])
	h.Type = MessageType(binary.BigEndian.Uint32(buf[12:16]))
	h.Updates = binary.BigEndian.Uint32(buf[16:20])
	h.Clock = binary.BigEndian.Uint64(buf[20:28])
	h.TTL = buf[28]
	return h, nil
}

// EncodeRecord appends name's and r's §6.1.1 wire form to dst and returns
// the grown slice: name_length:u32 | name | value_type:u32 | value_size:u32
// | value_bytes | clock:u64 | quality:u32. Integer/double arrays are
// length-prefixed by element count (value_size counts elements, not
// bytes); strings carry a trailing NUL inside value_bytes.
func EncodeRecord(dst []byte, name string, r record.Record) []byte {
	dst = appendUint32(dst, uint32(len(name)))
	dst = append(dst, []byte(name)...)
	dst = appendUint32(dst, uint32(r.Variant))

	switch r.Variant {
	case record.Integer:
		dst = appendUint32(dst, 8)
		dst = appendUint64(dst, uint64(r.ToInteger()))
	case record.Double:
		dst = appendUint32(dst, 8)
		dst = appendUint64(dst, math.Float64bits(r.ToDouble()))
	case record.IntegerArray:
		ints := r.ToIntegers()
		dst = appendUint32(dst, uint32(len(ints)))
		for _, v := range ints {
			dst = appendUint64(dst, uint64(v))
		}
	case record.DoubleArray:
		dbls := r.ToDoubles()
		dst = appendUint32(dst, uint32(len(dbls)))
		for _, v := range dbls {
			dst = appendUint64(dst, math.Float64bits(v))
		}
	case record.String:
		s := r.ToString(",")
		dst = appendUint32(dst, uint32(len(s)+1))
		dst = append(dst, []byte(s)...)
		dst = append(dst, 0)
	default: // Binary, Image, Xml, File
		b := r.Bytes()
		dst = appendUint32(dst, uint32(len(b)))
		dst = append(dst, b...)
	}

	dst = appendUint64(dst, r.Clock)
	dst = appendUint32(dst, r.Quality)
	return dst
}

// DecodeRecord reads one record from the front of buf, returning its name,
// value, and the number of bytes consumed.
func DecodeRecord(buf []byte) (name string, r record.Record, consumed int, err error) {
	if len(buf) < 4 {
		return "", record.Record{}, 0, fmt.Errorf("%w: truncated record name length", ErrMalformedFrame)
	}
	pos := 0
	nameLen := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if len(buf) < pos+nameLen+8 {
		return "", record.Record{}, 0, fmt.Errorf("%w: truncated record name", ErrMalformedFrame)
	}
	name = string(buf[pos : pos+nameLen])
	pos += nameLen

	variant := record.Variant(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	valueCount := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4

	switch variant {
	case record.Integer:
		if len(buf) < pos+8 {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated integer value", ErrMalformedFrame)
		}
		r = record.Int(int64(binary.BigEndian.Uint64(buf[pos : pos+8])))
		pos += 8
	case record.Double:
		if len(buf) < pos+8 {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated double value", ErrMalformedFrame)
		}
		r = record.Dbl(math.Float64frombits(binary.BigEndian.Uint64(buf[pos : pos+8])))
		pos += 8
	case record.IntegerArray:
		if len(buf) < pos+valueCount*8 {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated integer array", ErrMalformedFrame)
		}
		ints := make([]int64, valueCount)
		for i := 0; i < valueCount; i++ {
			ints[i] = int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
			pos += 8
		}
		r = record.IntArray(ints)
	case record.DoubleArray:
		if len(buf) < pos+valueCount*8 {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated double array", ErrMalformedFrame)
		}
		dbls := make([]float64, valueCount)
		for i := 0; i < valueCount; i++ {
			dbls[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[pos : pos+8]))
			pos += 8
		}
		r = record.DblArray(dbls)
	case record.String:
		if len(buf) < pos+valueCount {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated string value", ErrMalformedFrame)
		}
		s := buf[pos : pos+valueCount]
		pos += valueCount
		// strip trailing NUL
		if n := len(s); n > 0 && s[n-1] == 0 {
			s = s[:n-1]
		}
		r = record.Str(string(s))
	default:
		if len(buf) < pos+valueCount {
			return "", record.Record{}, 0, fmt.Errorf("%w: truncated binary value", ErrMalformedFrame)
		}
		r = record.Bin(buf[pos : pos+valueCount])
		r.Variant = variant
		pos += valueCount
	}

	if len(buf) < pos+12 {
		return "", record.Record{}, 0, fmt.Errorf("%w: truncated record metadata", ErrMalformedFrame)
	}
	r.Clock = binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8
	r.Quality = binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4

	return name, r, pos, nil
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}
