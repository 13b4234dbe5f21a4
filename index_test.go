package mediavault

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexEntryIdentity(t *testing.T) {
	a := NewIndexEntry(physicalName('a'), FileTypeImage, "x")
	b := NewIndexEntry(physicalName('a'), FileTypeVideo, "y/z")
	c := NewIndexEntry(physicalName('c'), FileTypeImage, "x")

	assert.True(t, a.Equal(b), "entries are identified by physical name alone")
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.Key(), b.Key())
}

func TestIndexEntryFolderPath(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		isRoot bool
	}{
		{"", "", true},
		{"/", "", true},
		{"a", "a", false},
		{"/a/b/", "a/b", false},
		{"a//b", "a/b", false},
		{`a\b`, "a/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e := NewIndexEntry(physicalName('a'), FileTypeText, tt.in)
			assert.Equal(t, tt.want, e.FolderPath)
			assert.Equal(t, tt.isRoot, e.IsInRootFolder())
		})
	}
}

func TestIndexEntryJSON(t *testing.T) {
	root := NewIndexEntry(physicalName('a'), FileTypeGIF, "")
	data, err := json.Marshal(root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"`+physicalName('a')+`","type":1}`, string(data))
	assert.NotContains(t, string(data), "path")

	nested := NewIndexEntry(physicalName('b'), FileTypeVideo, "a/b")
	data, err = json.Marshal(nested)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"`+physicalName('b')+`","type":2,"path":"a/b"}`, string(data))

	var back IndexEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, nested, back)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"`+physicalName('c')+`","type":3}`), &back))
	assert.True(t, back.IsInRootFolder())
	assert.Equal(t, FileTypeText, back.FileType)
}

func TestIndexEntryJSONErrors(t *testing.T) {
	bad := []string{
		`{"name":"short","type":0}`,
		`{"name":"` + physicalName('a') + `"}`,
		`{"name":"` + physicalName('a') + `","type":9}`,
		`{"name":"` + physicalName('a') + `","type":"IMAGE"}`,
		`[]`,
	}
	for _, doc := range bad {
		var e IndexEntry
		assert.Error(t, json.Unmarshal([]byte(doc), &e), doc)
	}
}

func TestIndexOperations(t *testing.T) {
	x := NewIndex()
	a := NewIndexEntry(physicalName('a'), FileTypeImage, "a/b")
	b := NewIndexEntry(physicalName('b'), FileTypeVideo, "a/b")
	c := NewIndexEntry(physicalName('c'), FileTypeText, "")

	for _, e := range []IndexEntry{b, c, a} {
		require.NoError(t, x.Add(e))
	}
	assert.Equal(t, 3, x.Len())

	err := x.Add(NewIndexEntry(physicalName('a'), FileTypeGIF, "elsewhere"))
	assert.True(t, errors.Is(err, ErrEntryExists))

	assert.Equal(t, []IndexEntry{a, b}, x.ListByFolder("a/b"))
	assert.Equal(t, []IndexEntry{a, b}, x.ListByFolder("/a/b/"))
	assert.Equal(t, []IndexEntry{c}, x.ListByFolder(""))
	assert.Empty(t, x.ListByFolder("a"))
	assert.Equal(t, []string{"a/b"}, x.Folders())

	require.NoError(t, x.Move(c.FileName, "docs"))
	got, ok := x.Lookup(c.FileName)
	require.True(t, ok)
	assert.Equal(t, "docs", got.FolderPath)
	assert.Equal(t, []string{"a/b", "docs"}, x.Folders())

	removed, err := x.Remove(a.FileName)
	require.NoError(t, err)
	assert.Equal(t, a, removed)
	_, err = x.Remove(a.FileName)
	assert.True(t, errors.Is(err, ErrEntryNotFound))
	assert.True(t, errors.Is(x.Move(a.FileName, "x"), ErrEntryNotFound))

	clone := x.Clone()
	require.NoError(t, clone.Add(a))
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, 3, clone.Len())
}

func TestIndexAddValidates(t *testing.T) {
	x := NewIndex()
	tests := []IndexEntry{
		{FileName: "bad", FileType: FileTypeImage},
		{FileName: physicalName('a'), FileType: FileType(7)},
		{FileName: physicalName('a'), FileType: FileTypeImage, FolderPath: "a/\x00"},
	}
	for _, e := range tests {
		assert.True(t, IsValidationError(x.Add(e)), "%+v", e)
	}
	assert.Equal(t, 0, x.Len())
}

func TestIndexJSON(t *testing.T) {
	x := NewIndex()
	require.NoError(t, x.Add(NewIndexEntry(physicalName('b'), FileTypeImage, "a/b")))
	require.NoError(t, x.Add(NewIndexEntry(physicalName('a'), FileTypeText, "")))

	data, err := json.Marshal(x)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"entries":[`+
		`{"name":"`+physicalName('a')+`","type":3},`+
		`{"name":"`+physicalName('b')+`","type":0,"path":"a/b"}]}`, string(data))

	back := NewIndex()
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, x.Entries(), back.Entries())

	empty := NewIndex()
	require.NoError(t, json.Unmarshal([]byte(`{"version":1,"entries":[]}`), empty))
	assert.Equal(t, 0, empty.Len())
}

func TestIndexJSONErrors(t *testing.T) {
	entry := `{"name":"` + physicalName('a') + `","type":0}`
	tests := []struct {
		name string
		doc  string
	}{
		{"version", `{"version":2,"entries":[]}`},
		{"duplicate", `{"version":1,"entries":[` + entry + `,` + entry + `]}`},
		{"not json", `garbage`},
		{"bad entry", `{"version":1,"entries":[{"name":"x","type":0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewIndex()
			assert.Error(t, json.Unmarshal([]byte(tt.doc), x))
		})
	}
}

func TestFileType(t *testing.T) {
	for _, ft := range []FileType{FileTypeImage, FileTypeGIF, FileTypeVideo, FileTypeText} {
		parsed, err := ParseFileType(ft.String())
		require.NoError(t, err)
		assert.Equal(t, ft, parsed)
		assert.True(t, ft.Valid())
	}
	assert.False(t, FileType(4).Valid())

	_, err := ParseFileType("audio")
	assert.True(t, IsValidationError(err))

	tests := []struct {
		name string
		want FileType
		ok   bool
	}{
		{"photo.JPG", FileTypeImage, true},
		{"anim.gif", FileTypeGIF, true},
		{"clip.mp4", FileTypeVideo, true},
		{"notes.txt", FileTypeText, true},
		{"archive.zip", 0, false},
		{"noext", 0, false},
	}
	for _, tt := range tests {
		got, ok := FileTypeFromExtension(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.name)
		}
	}
}
