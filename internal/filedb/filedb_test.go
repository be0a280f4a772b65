package filedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "records.txt"))
	require.NoError(t, err)

	require.NoError(t, db.AppendLine("1,alpha"))
	require.NoError(t, db.AppendLine("2,beta"))

	lines, err := db.ReadAllLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"1,alpha", "2,beta"}, lines)
}

func TestReadSkipsBlanksAndComments(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "records.txt"))
	require.NoError(t, err)

	require.NoError(t, db.AppendLine("# header"))
	require.NoError(t, db.AppendLine(""))
	require.NoError(t, db.AppendLine("1,alpha"))

	lines, err := db.ReadAllLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"1,alpha"}, lines)
}

func TestWriteAllReplaces(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "records.txt"))
	require.NoError(t, err)

	require.NoError(t, db.AppendLine("old"))
	require.NoError(t, db.WriteAllLines([]string{"new-1", "new-2"}))

	lines, err := db.ReadAllLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"new-1", "new-2"}, lines)
}

func TestOpenEmptyFile(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "records.txt"))
	require.NoError(t, err)

	lines, err := db.ReadAllLines()
	require.NoError(t, err)
	assert.Empty(t, lines)
}
