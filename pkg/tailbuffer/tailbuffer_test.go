package tailbuffer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tb := NewTailBuffer(16)
	n, err := tb.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestKeepsMostRecentBytes(t *testing.T) {
	tb := NewTailBuffer(4)
	_, err := tb.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = tb.Write([]byte("def"))
	require.NoError(t, err)

	var out strings.Builder
	_, err = io.Copy(&out, tb)
	require.NoError(t, err)
	require.Equal(t, "cdef", out.String())
}

func TestOversizedWriteKeepsTail(t *testing.T) {
	tb := NewTailBuffer(4)
	n, err := tb.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, 10, n)

	buf := make([]byte, 8)
	n, err = tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "6789", string(buf[:n]))
}

func TestReadDrains(t *testing.T) {
	tb := NewTailBuffer(8)
	_, err := tb.Write([]byte("abcd"))
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ab", string(buf[:n]))

	n, err = tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "cd", string(buf[:n]))

	_, err = tb.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestZeroCapacity(t *testing.T) {
	tb := NewTailBuffer(0)
	n, err := tb.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = tb.Read(make([]byte, 4))
	require.ErrorIs(t, err, io.EOF)
}
