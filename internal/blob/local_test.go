package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutOpenExists(t *testing.T) {
	t.Parallel()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	url, err := l.Put(ctx, "upload_20250102.xlsx", strings.NewReader("spreadsheet bytes"), 17, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))

	ok, err := l.Exists(ctx, "upload_20250102.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := l.Open(ctx, "upload_20250102.xlsx")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet bytes", string(data))
}

func TestLocalExistsMissing(t *testing.T) {
	t.Parallel()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ok, err := l.Exists(context.Background(), "nope.xlsx")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalPathEscapeStripped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	_, err = l.Put(context.Background(), "../escape.xlsx", strings.NewReader("x"), 1, "")
	require.NoError(t, err)

	ok, err := l.Exists(context.Background(), "escape.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
}
