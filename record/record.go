// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package record implements the tagged polymorphic value that backs every
// entry in a Context: a Record carries one of a fixed set of value variants
// plus the (clock, quality, write-quality, toi) metadata reconciliation and
// ordering depend on.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Variant tags the value a Record currently holds. File, Image and XML are
// cosmetic aliases of Binary: reconciliation and comparison treat all four
// identically, and only the tag is preserved across the wire.
type Variant uint32

const (
	Uninitialized Variant = iota
	Integer
	Double
	IntegerArray
	DoubleArray
	String
	Binary
	Image
	XML
	File
)

func (v Variant) String() string {
	switch v {
	case Uninitialized:
		return "uninitialized"
	case Integer:
		return "integer"
	case Double:
		return "double"
	case IntegerArray:
		return "integer-array"
	case DoubleArray:
		return "double-array"
	case String:
		return "string"
	case Binary:
		return "binary"
	case Image:
		return "image"
	case XML:
		return "xml"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// isBinaryLike reports whether the variant is one of the binary-family tags
// that compare and reconcile identically (Binary/Image/XML/File).
func (v Variant) isBinaryLike() bool {
	return v == Binary || v == Image || v == XML || v == File
}

// Record is a tagged value plus reconciliation metadata. The zero Record is
// a valid Uninitialized record with all metadata at zero.
type Record struct {
	Variant Variant

	i     int64
	d     float64
	ints  []int64
	dbls  []float64
	str   string
	bytes []byte

	Clock        uint64
	Quality      uint32
	WriteQuality uint32
	TOI          int64 // wall-clock nanoseconds at insertion; informational only
}

// Int returns an Integer record.
func Int(v int64) Record { return Record{Variant: Integer, i: v} }

// Dbl returns a Double record.
func Dbl(v float64) Record { return Record{Variant: Double, d: v} }

// Str returns a String record.
func Str(v string) Record { return Record{Variant: String, str: v} }

// Bin returns a Binary record. The variant may be overridden afterwards to
// Image/XML/File for cosmetic tagging purposes only.
func Bin(v []byte) Record { return Record{Variant: Binary, bytes: append([]byte(nil), v...)} }

// IntArray returns an IntegerArray record.
func IntArray(v []int64) Record { return Record{Variant: IntegerArray, ints: append([]int64(nil), v...)} }

// DblArray returns a DoubleArray record.
func DblArray(v []float64) Record { return Record{Variant: DoubleArray, dbls: append([]float64(nil), v...)} }

// Set replaces the variant and value of r in place, leaving clock, quality
// and write-quality untouched, per §4.1.
func (r *Record) Set(v Record) {
	r.Variant = v.Variant
	r.i, r.d, r.str = v.i, v.d, v.str
	r.ints = append(r.ints[:0], v.ints...)
	r.dbls = append(r.dbls[:0], v.dbls...)
	r.bytes = append(r.bytes[:0], v.bytes...)
}

// --- conversions (§4.1) ---

// ToInteger performs a lossy/widening conversion to int64. Strings are
// parsed with strconv (the C-locale decimal grammar); arrays return their
// first element or 0 if empty; uninitialized and binary records return 0.
func (r Record) ToInteger() int64 {
	switch r.Variant {
	case Integer:
		return r.i
	case Double:
		return int64(r.d)
	case IntegerArray:
		if len(r.ints) == 0 {
			return 0
		}
		return r.ints[0]
	case DoubleArray:
		if len(r.dbls) == 0 {
			return 0
		}
		return int64(r.dbls[0])
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(r.str), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(r.str), 64)
			if ferr == nil {
				return int64(f)
			}
			return 0
		}
		return n
	default:
		return 0
	}
}

// ToDouble widens to float64 following the same rules as ToInteger.
func (r Record) ToDouble() float64 {
	switch r.Variant {
	case Integer:
		return float64(r.i)
	case Double:
		return r.d
	case IntegerArray:
		if len(r.ints) == 0 {
			return 0
		}
		return float64(r.ints[0])
	case DoubleArray:
		if len(r.dbls) == 0 {
			return 0
		}
		return r.dbls[0]
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.str), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// ToString renders the record as text; delim joins array elements.
func (r Record) ToString(delim string) string {
	switch r.Variant {
	case Uninitialized:
		return ""
	case Integer:
		return strconv.FormatInt(r.i, 10)
	case Double:
		return strconv.FormatFloat(r.d, 'g', -1, 64)
	case String:
		return r.str
	case IntegerArray:
		parts := make([]string, len(r.ints))
		for i, v := range r.ints {
			parts[i] = strconv.FormatInt(v, 10)
		}
		return strings.Join(parts, delim)
	case DoubleArray:
		parts := make([]string, len(r.dbls))
		for i, v := range r.dbls {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(parts, delim)
	default:
		return string(r.bytes)
	}
}

// ToIntegers widens to an integer array. A scalar becomes a one-element
// array; binary/uninitialized become an empty array.
func (r Record) ToIntegers() []int64 {
	switch r.Variant {
	case IntegerArray:
		return append([]int64(nil), r.ints...)
	case DoubleArray:
		out := make([]int64, len(r.dbls))
		for i, v := range r.dbls {
			out[i] = int64(v)
		}
		return out
	case Integer:
		return []int64{r.i}
	case Double:
		return []int64{int64(r.d)}
	case String:
		return []int64{r.ToInteger()}
	default:
		return nil
	}
}

// ToDoubles widens to a double array following ToIntegers' rules.
func (r Record) ToDoubles() []float64 {
	switch r.Variant {
	case DoubleArray:
		return append([]float64(nil), r.dbls...)
	case IntegerArray:
		out := make([]float64, len(r.ints))
		for i, v := range r.ints {
			out[i] = float64(v)
		}
		return out
	case Integer:
		return []float64{float64(r.i)}
	case Double:
		return []float64{r.d}
	case String:
		return []float64{r.ToDouble()}
	default:
		return nil
	}
}

// Bytes returns the raw buffer of a binary-family record, or nil otherwise.
func (r Record) Bytes() []byte {
	if r.Variant.isBinaryLike() {
		return append([]byte(nil), r.bytes...)
	}
	return nil
}

// RetrieveIndex returns the i'th element of an array record (zero value of
// the element type if i is out of range), or the record itself for scalars.
func (r Record) RetrieveIndex(i int) Record {
	switch r.Variant {
	case IntegerArray:
		if i < 0 || i >= len(r.ints) {
			return Int(0)
		}
		return Int(r.ints[i])
	case DoubleArray:
		if i < 0 || i >= len(r.dbls) {
			return Dbl(0)
		}
		return Dbl(r.dbls[i])
	default:
		return r
	}
}

// Len reports the element count of an array record, the byte length of a
// binary-family record, the byte length of a string, or 1/0 for scalar/
// uninitialized records (used by the #size system call).
func (r Record) Len() int {
	switch r.Variant {
	case IntegerArray:
		return len(r.ints)
	case DoubleArray:
		return len(r.dbls)
	case String:
		return len(r.str)
	case Uninitialized:
		return 0
	default:
		if r.Variant.isBinaryLike() {
			return len(r.bytes)
		}
		return 1
	}
}

// SetIndexGrow writes value at index i of an array record, growing the
// backing array (filling with the zero of its element type) if i is beyond
// the current length, per §4.1's set_index array-growth rule. The record's
// variant is coerced to the matching array type if it was uninitialized.
func (r *Record) SetIndexGrow(i int, value Record) {
	switch r.Variant {
	case Uninitialized:
		if value.Variant == Double || value.Variant == DoubleArray {
			r.Variant = DoubleArray
		} else {
			r.Variant = IntegerArray
		}
	case Integer, String, Binary, Image, XML, File:
		// not array-shaped; no-op per the spec's silence on this case
		return
	}
	switch r.Variant {
	case IntegerArray:
		if i >= len(r.ints) {
			grown := make([]int64, i+1)
			copy(grown, r.ints)
			r.ints = grown
		}
		r.ints[i] = value.ToInteger()
	case DoubleArray:
		if i >= len(r.dbls) {
			grown := make([]float64, i+1)
			copy(grown, r.dbls)
			r.dbls = grown
		}
		r.dbls[i] = value.ToDouble()
	}
}

// IsTrue is type-dispatched per §4.1: integers nonzero; doubles nonzero
// (NaN is false); strings nonempty; arrays nonempty-and-any-element-true;
// binary nonempty; uninitialized false.
func (r Record) IsTrue() bool {
	switch r.Variant {
	case Uninitialized:
		return false
	case Integer:
		return r.i != 0
	case Double:
		return r.d != 0 && !math.IsNaN(r.d)
	case String:
		return r.str != ""
	case IntegerArray:
		for _, v := range r.ints {
			if v != 0 {
				return true
			}
		}
		return false
	case DoubleArray:
		for _, v := range r.dbls {
			if v != 0 && !math.IsNaN(v) {
				return true
			}
		}
		return false
	default:
		return len(r.bytes) > 0
	}
}

// Compare implements the total order of §4.4: uninitialized < any
// initialized; numeric variants compared numerically (integer promoted to
// double when mixed); strings lexicographically; arrays elementwise with
// shorter-is-less on a common prefix; file-typed variants (the binary
// family) by byte length then lexicographically. Returns <0, 0 or >0.
func (r Record) Compare(o Record) int {
	if r.Variant == Uninitialized && o.Variant == Uninitialized {
		return 0
	}
	if r.Variant == Uninitialized {
		return -1
	}
	if o.Variant == Uninitialized {
		return 1
	}

	rNum := r.Variant == Integer || r.Variant == Double
	oNum := o.Variant == Integer || o.Variant == Double
	if rNum && oNum {
		if r.Variant == Integer && o.Variant == Integer {
			switch {
			case r.i < o.i:
				return -1
			case r.i > o.i:
				return 1
			default:
				return 0
			}
		}
		a, b := r.ToDouble(), o.ToDouble()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	if r.Variant == String && o.Variant == String {
		return strings.Compare(r.str, o.str)
	}

	if (r.Variant == IntegerArray || r.Variant == DoubleArray) &&
		(o.Variant == IntegerArray || o.Variant == DoubleArray) {
		a, b := r.ToDoubles(), o.ToDoubles()
		n := min(len(a), len(b))
		for i := 0; i < n; i++ {
			switch {
			case a[i] < b[i]:
				return -1
			case a[i] > b[i]:
				return 1
			}
		}
		switch {
		case len(a) < len(b):
			return -1
		case len(a) > len(b):
			return 1
		default:
			return 0
		}
	}

	if r.Variant.isBinaryLike() && o.Variant.isBinaryLike() {
		switch {
		case len(r.bytes) < len(o.bytes):
			return -1
		case len(r.bytes) > len(o.bytes):
			return 1
		default:
			return bytesCompare(r.bytes, o.bytes)
		}
	}

	// Mismatched non-numeric variants: order by variant tag so Compare is
	// still total (used only to break ties; never reached by the documented
	// comparison operators on well-typed expressions).
	switch {
	case r.Variant < o.Variant:
		return -1
	case r.Variant > o.Variant:
		return 1
	default:
		return 0
	}
}

func bytesCompare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (r Record) String() string {
	return fmt.Sprintf("%s(%s)[clock=%d,quality=%d]", r.Variant, r.ToString(","), r.Clock, r.Quality)
}
