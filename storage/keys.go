// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package storage

import (
	"encoding/binary"

	"github.com/zeebo/errs"
)

const (
	// Delimiter separates encoded key parts.
	Delimiter = byte('#')
	// Escape prefixes literal delimiter and escape bytes inside a part.
	Escape = byte('\\')
)

// TimeLen is the width of an encoded timestamp in bytes.
const TimeLen = 16

// ErrInvalidTime is returned when decoding a malformed timestamp part.
var ErrInvalidTime = errs.Class("invalid time")

// EncodeKey joins parts into a single key, inserting Delimiter between
// adjacent parts. Delimiter and Escape bytes inside a part are prefixed
// with Escape, so parts may contain arbitrary bytes.
//
// Encoding preserves prefix semantics: for k < n the encoding of the
// first k parts, followed by Delimiter, is a byte-prefix of the encoding
// of all n parts.
func EncodeKey(parts ...[]byte) Key {
	size := 0
	for _, part := range parts {
		size += len(part) + 1
	}

	key := make(Key, 0, size)
	for i, part := range parts {
		if i > 0 {
			key = append(key, Delimiter)
		}
		for _, b := range part {
			if b == Delimiter || b == Escape {
				key = append(key, Escape)
			}
			key = append(key, b)
		}
	}
	return key
}

// DecodeKey splits a key produced by EncodeKey back into its parts.
//
// The scan is total on arbitrary input: Escape makes the following byte
// literal, an unescaped Delimiter ends the current part. A trailing
// unpaired Escape is dropped.
func DecodeKey(key Key) [][]byte {
	parts := [][]byte{}
	part := []byte{}

	escaped := false
	for _, b := range key {
		if escaped {
			part = append(part, b)
			escaped = false
			continue
		}
		switch b {
		case Escape:
			escaped = true
		case Delimiter:
			parts = append(parts, part)
			part = []byte{}
		default:
			part = append(part, b)
		}
	}
	return append(parts, part)
}

// ScanPrefix returns the iteration prefix for all keys that extend parts
// by at least one further part: the encoding of parts followed by
// Delimiter.
func ScanPrefix(parts ...[]byte) Key {
	return append(EncodeKey(parts...), Delimiter)
}

// AfterPrefix returns the lowest key greater than every key starting
// with prefix, to be used as an exclusive upper bound for range scans.
// Trailing 0xff bytes cannot be incremented and are trimmed.
//
// For scan prefixes ending in Delimiter (0x23 '#') this is the prefix
// with the final byte bumped to '$', which no encoded key can contain at
// that position.
func AfterPrefix(prefix Key) Key {
	after := CloneKey(prefix)
	for i := len(after) - 1; i >= 0; i-- {
		if after[i] != 0xff {
			after[i]++
			return after[:i+1]
		}
	}
	return nil
}

// EncodeTime encodes nanoseconds since the Unix epoch as a fixed-width
// 16-byte big-endian integer, so that lexicographic order on encoded
// timestamps coincides with chronological order.
func EncodeTime(nanos uint64) []byte {
	var buf [TimeLen]byte
	binary.BigEndian.PutUint64(buf[8:], nanos)
	return buf[:]
}

// DecodeTime reverses EncodeTime.
func DecodeTime(data []byte) (uint64, error) {
	if len(data) != TimeLen {
		return 0, ErrInvalidTime.New("expected %d bytes, got %d", TimeLen, len(data))
	}
	return binary.BigEndian.Uint64(data[8:]), nil
}
