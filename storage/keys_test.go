// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKey(t *testing.T) {
	for _, parts := range [][][]byte{
		{[]byte("repo")},
		{[]byte("repo"), []byte("git.example.dev"), []byte("owner"), []byte("project")},
		{[]byte("commit"), []byte("has#hash"), []byte(`back\slash`)},
		{[]byte("a#b#c"), []byte(`\\`), []byte("#")},
		{[]byte("artifact"), []byte("c0ffee"), []byte("dir/sub/f.txt")},
	} {
		key := EncodeKey(parts...)
		assert.Equal(t, parts, DecodeKey(key), "key %q", key)
	}
}

func TestEncodeKeyEscaping(t *testing.T) {
	key := EncodeKey([]byte("a#b"), []byte(`c\d`))
	require.Equal(t, Key(`a\#b#c\\d`), key)
}

func TestEncodeKeyPrefixProperty(t *testing.T) {
	full := EncodeKey([]byte("commit"), []byte("srv"), []byte("own#er"), []byte("repo"))
	for k := 1; k < 4; k++ {
		parts := [][]byte{[]byte("commit"), []byte("srv"), []byte("own#er"), []byte("repo")}[:k]
		prefix := append(EncodeKey(parts...), Delimiter)
		require.True(t, bytes.HasPrefix(full, prefix), "prefix of %d parts", k)
	}
}

func TestScanPrefixPartitioning(t *testing.T) {
	// a part containing a literal delimiter must not leak into the
	// partition of a shorter key sequence
	inside := EncodeKey([]byte("commit_time"), []byte("srv"), []byte("own"), []byte("extra"))
	outside := EncodeKey([]byte("commit_time"), []byte("srv"), []byte("own#extra"))

	prefix := ScanPrefix([]byte("commit_time"), []byte("srv"), []byte("own"))
	require.True(t, bytes.HasPrefix(inside, prefix))
	require.False(t, bytes.HasPrefix(outside, prefix))
}

func TestAfterPrefix(t *testing.T) {
	prefix := ScanPrefix([]byte("repo"))
	after := AfterPrefix(prefix)
	require.Equal(t, Key("repo$"), after)

	// every key extending the prefix sorts inside [prefix, after)
	key := EncodeKey([]byte("repo"), []byte{0xff, 0xff})
	require.True(t, bytes.Compare(key, prefix) >= 0)
	require.True(t, bytes.Compare(key, after) < 0)

	require.Equal(t, Key{0xfe}, AfterPrefix(Key{0xfd, 0xff}))
	require.Nil(t, AfterPrefix(Key{0xff, 0xff}))
}

func TestEncodeDecodeTime(t *testing.T) {
	for _, nanos := range []uint64{0, 1, 1234567890, 1700000000000000000, 1<<63 - 1} {
		data := EncodeTime(nanos)
		require.Len(t, data, TimeLen)

		decoded, err := DecodeTime(data)
		require.NoError(t, err)
		require.Equal(t, nanos, decoded)

		// escaped time parts survive the key codec
		key := EncodeKey([]byte("commit_time"), data)
		parts := DecodeKey(key)
		require.Len(t, parts, 2)
		decoded, err = DecodeTime(parts[1])
		require.NoError(t, err)
		require.Equal(t, nanos, decoded)
	}

	_, err := DecodeTime([]byte("short"))
	require.True(t, ErrInvalidTime.Has(err))
}

func TestTimeOrdering(t *testing.T) {
	older := EncodeTime(1000)
	newer := EncodeTime(2000)
	require.True(t, bytes.Compare(older, newer) < 0)
}
