package eio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSendBufferWindowsAndAdvance(t *testing.T) {
	data := randBytes(100)
	sb := NewSendBuffer(data)

	w := sb.ReadWindow(40)
	assert.Equal(t, data[:40], w)
	sb.Advance(40)

	w = sb.ReadWindow(40)
	assert.Equal(t, data[40:80], w)
	sb.Advance(40)

	w = sb.ReadWindow(40)
	assert.Equal(t, data[80:], w, "window clamps to what remains")
	assert.False(t, sb.AtEnd())
	sb.Advance(20)

	assert.True(t, sb.AtEnd())
	assert.Empty(t, sb.ReadWindow(40))
	require.NoError(t, sb.Release())
}

func TestMemSendBufferCopiesInput(t *testing.T) {
	p := []byte("abc")
	sb := NewSendBuffer(p)
	p[0] = 'x'
	assert.Equal(t, []byte("abc"), sb.ReadWindow(8))
	sb.Release()
}

func TestMemSendBufferPartialAdvance(t *testing.T) {
	data := []byte("hello world")
	sb := NewSendBuffer(data)

	w := sb.ReadWindow(64)
	require.Equal(t, data, w)
	sb.Advance(6)
	assert.Equal(t, []byte("world"), sb.ReadWindow(64))
	sb.Release()
}

func TestFileSendBufferHeaderThenContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	content := randBytes(10000)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	header := randBytes(64)
	sb, err := NewFileSendBuffer(header, path, false, nil)
	require.NoError(t, err)
	defer sb.Release()

	var got bytes.Buffer
	for {
		w := sb.ReadWindow(4096)
		if len(w) == 0 {
			break
		}
		assert.LessOrEqual(t, len(w), 4096)
		got.Write(w)
		sb.Advance(len(w))
	}

	assert.True(t, sb.AtEnd())
	want := append(append([]byte{}, header...), content...)
	assert.Equal(t, want, got.Bytes())
}

func TestFileSendBufferPartialAdvance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	content := randBytes(3000)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sb, err := NewFileSendBuffer(nil, path, false, nil)
	require.NoError(t, err)
	defer sb.Release()

	w := sb.ReadWindow(1024)
	require.Equal(t, content[:1024], w)
	sb.Advance(500)

	w = sb.ReadWindow(1024)
	assert.Equal(t, content[500:1024], w, "unsent remainder is re-offered before the next chunk")
}

func TestFileSendBufferAutoRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmpresp")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	sb, err := NewFileSendBuffer(nil, path, true, nil)
	require.NoError(t, err)
	require.NoError(t, sb.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSendBufferKeepsFileWithoutAutoRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	sb, err := NewFileSendBuffer(nil, path, false, nil)
	require.NoError(t, err)
	require.NoError(t, sb.Release())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileSendBufferEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	header := []byte("only header")
	sb, err := NewFileSendBuffer(header, path, false, nil)
	require.NoError(t, err)
	defer sb.Release()

	w := sb.ReadWindow(64)
	require.Equal(t, header, w)
	sb.Advance(len(w))

	assert.Empty(t, sb.ReadWindow(64))
	assert.True(t, sb.AtEnd())
}
