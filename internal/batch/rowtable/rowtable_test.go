package rowtable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesHeaderAndRows(t *testing.T) {
	path := writeCSV(t, "keywords,text\nred sneakers,50% off\ncoffee beans,fresh\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	row0, ok := tbl.Row(0)
	require.True(t, ok)
	require.Equal(t, "red sneakers", row0.Get("keywords"))
	require.Equal(t, 0, row0.Index)

	row1, ok := tbl.Row(1)
	require.True(t, ok)
	require.Equal(t, "coffee beans", row1.Get("keywords"))
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeCSV(t, "")
	tbl, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, tbl.Len())
}

func TestRow_OutOfRange(t *testing.T) {
	path := writeCSV(t, "a\n1\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	_, ok := tbl.Row(5)
	require.False(t, ok)
	_, ok = tbl.Row(-1)
	require.False(t, ok)
}

func TestSetField_WritesValueAndExtendsHeader(t *testing.T) {
	path := writeCSV(t, "keywords\nred sneakers\n")
	tbl, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, tbl.SetField(0, "image_path", "ad_0001.jpg"))
	row, ok := tbl.Row(0)
	require.True(t, ok)
	require.Equal(t, "ad_0001.jpg", row.Get("image_path"))
}

func TestSetField_OutOfRangeErrors(t *testing.T) {
	path := writeCSV(t, "keywords\nred sneakers\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	require.Error(t, tbl.SetField(9, "image_path", "x"))
}

func TestFlush_WriteTempThenRename_RoundTrips(t *testing.T) {
	path := writeCSV(t, "keywords,text\nred sneakers,50% off\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, tbl.SetField(0, "image_path", "ad_0001.jpg"))

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, tbl.Flush(out))

	reloaded, err := Load(out)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	row, ok := reloaded.Row(0)
	require.True(t, ok)
	require.Equal(t, "ad_0001.jpg", row.Get("image_path"))
	require.Equal(t, "red sneakers", row.Get("keywords"))
}

func TestFlush_NoTempFileLeftBehind(t *testing.T) {
	path := writeCSV(t, "keywords\nred sneakers\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, tbl.Flush(out))

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "out.csv", entries[0].Name())
}

func TestOutputFilename(t *testing.T) {
	require.Equal(t, "ad_0001.jpg", OutputFilename(0, "jpg"))
	require.Equal(t, "ad_0042.png", OutputFilename(41, "png"))
	require.Equal(t, "ad_9999.jpg", OutputFilename(9998, "jpg"))
}

func TestRow_GetMissingColumn(t *testing.T) {
	r := Row{Fields: map[string]string{"a": "1"}}
	require.Equal(t, "", r.Get("b"))

	var empty Row
	require.Equal(t, "", empty.Get("a"))
}
