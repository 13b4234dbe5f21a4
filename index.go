package mediavault

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// FileType is the media kind of a vault entry. The numeric values are the
// persisted codes.
type FileType uint8

const (
	FileTypeImage FileType = iota
	FileTypeGIF
	FileTypeVideo
	FileTypeText
)

func (t FileType) String() string {
	switch t {
	case FileTypeImage:
		return "IMAGE"
	case FileTypeGIF:
		return "GIF"
	case FileTypeVideo:
		return "VIDEO"
	case FileTypeText:
		return "TEXT"
	default:
		return fmt.Sprintf("FileType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known type code.
func (t FileType) Valid() bool {
	return t <= FileTypeText
}

// ParseFileType parses the String form, case-insensitively.
func ParseFileType(s string) (FileType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMAGE":
		return FileTypeImage, nil
	case "GIF":
		return FileTypeGIF, nil
	case "VIDEO":
		return FileTypeVideo, nil
	case "TEXT":
		return FileTypeText, nil
	}
	return 0, NewValidationError("fileType", s, "unknown file type")
}

// FileTypeFromExtension guesses a type from a file name extension. ok is
// false for unknown extensions.
func FileTypeFromExtension(name string) (t FileType, ok bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".heic", ".heif":
		return FileTypeImage, true
	case ".gif":
		return FileTypeGIF, true
	case ".mp4", ".mkv", ".webm", ".mov", ".3gp", ".avi":
		return FileTypeVideo, true
	case ".txt", ".md", ".text":
		return FileTypeText, true
	}
	return 0, false
}

// NormalizeFolderPath returns the canonical form of a virtual folder path:
// slash separated, no leading or trailing slash, "" for the root.
func NormalizeFolderPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// IndexEntry maps one physical file to its logical place in the vault.
// Identity is the FileName alone.
type IndexEntry struct {
	FileName   string
	FileType   FileType
	FolderPath string
}

// NewIndexEntry returns an entry with a normalized folder path.
func NewIndexEntry(fileName string, fileType FileType, folderPath string) IndexEntry {
	return IndexEntry{
		FileName:   fileName,
		FileType:   fileType,
		FolderPath: NormalizeFolderPath(folderPath),
	}
}

// IsInRootFolder reports whether the entry lives at the vault root.
func (e IndexEntry) IsInRootFolder() bool {
	return e.FolderPath == ""
}

// Equal reports whether both entries refer to the same file on disk.
func (e IndexEntry) Equal(other IndexEntry) bool {
	return e.FileName == other.FileName
}

// Key returns the map key of the entry.
func (e IndexEntry) Key() string {
	return e.FileName
}

type entryJSON struct {
	Name string  `json:"name"`
	Type *uint8  `json:"type"`
	Path *string `json:"path,omitempty"`
}

// MarshalJSON writes the compact form; root entries carry no path field.
func (e IndexEntry) MarshalJSON() ([]byte, error) {
	code := uint8(e.FileType)
	out := entryJSON{Name: e.FileName, Type: &code}
	if !e.IsInRootFolder() {
		out.Path = &e.FolderPath
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the compact form. A missing path means root.
func (e *IndexEntry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if err := ValidatePhysicalName(in.Name); err != nil {
		return err
	}
	if in.Type == nil || !FileType(*in.Type).Valid() {
		return NewValidationError("fileType", in.Type, "unknown or missing file type code")
	}
	folder := ""
	if in.Path != nil {
		folder = *in.Path
	}
	*e = NewIndexEntry(in.Name, FileType(*in.Type), folder)
	return nil
}

// IndexVersion is the version of the persisted index document.
const IndexVersion = 1

// Index is the set of entries of one vault, keyed by physical name. It is not
// safe for concurrent use; IndexStore serializes access.
type Index struct {
	entries map[string]IndexEntry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]IndexEntry)}
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.entries)
}

// Lookup returns the entry for a physical name.
func (x *Index) Lookup(fileName string) (IndexEntry, bool) {
	e, ok := x.entries[fileName]
	return e, ok
}

// Add inserts a new entry.
func (x *Index) Add(e IndexEntry) error {
	if err := ValidatePhysicalName(e.FileName); err != nil {
		return err
	}
	if !e.FileType.Valid() {
		return NewValidationError("fileType", e.FileType, "unknown file type")
	}
	e.FolderPath = NormalizeFolderPath(e.FolderPath)
	if err := ValidateFolderPath(e.FolderPath); err != nil {
		return err
	}
	if _, ok := x.entries[e.FileName]; ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, e.FileName)
	}
	x.entries[e.FileName] = e
	return nil
}

// Remove deletes an entry and returns it.
func (x *Index) Remove(fileName string) (IndexEntry, error) {
	e, ok := x.entries[fileName]
	if !ok {
		return IndexEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, fileName)
	}
	delete(x.entries, fileName)
	return e, nil
}

// Move changes the folder of an entry.
func (x *Index) Move(fileName, folderPath string) error {
	e, ok := x.entries[fileName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, fileName)
	}
	folderPath = NormalizeFolderPath(folderPath)
	if err := ValidateFolderPath(folderPath); err != nil {
		return err
	}
	e.FolderPath = folderPath
	x.entries[fileName] = e
	return nil
}

// ListByFolder returns the entries directly in folderPath, sorted by name.
func (x *Index) ListByFolder(folderPath string) []IndexEntry {
	folderPath = NormalizeFolderPath(folderPath)
	var out []IndexEntry
	for _, e := range x.entries {
		if e.FolderPath == folderPath {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Folders returns every distinct non-root folder path, sorted.
func (x *Index) Folders() []string {
	seen := make(map[string]struct{})
	for _, e := range x.entries {
		if !e.IsInRootFolder() {
			seen[e.FolderPath] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Entries returns all entries sorted by name.
func (x *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Clone returns an independent copy.
func (x *Index) Clone() *Index {
	c := &Index{entries: make(map[string]IndexEntry, len(x.entries))}
	for k, v := range x.entries {
		c.entries[k] = v
	}
	return c
}

type indexJSON struct {
	Version int          `json:"version"`
	Entries []IndexEntry `json:"entries"`
}

// MarshalJSON writes the persisted index document.
func (x *Index) MarshalJSON() ([]byte, error) {
	return json.Marshal(indexJSON{Version: IndexVersion, Entries: x.Entries()})
}

// UnmarshalJSON reads a persisted index document. Duplicate names are
// rejected.
func (x *Index) UnmarshalJSON(data []byte) error {
	var doc indexJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version != IndexVersion {
		return fmt.Errorf("%w: index version %d", ErrUnsupportedVersion, doc.Version)
	}
	entries := make(map[string]IndexEntry, len(doc.Entries))
	for _, e := range doc.Entries {
		if _, dup := entries[e.FileName]; dup {
			return fmt.Errorf("duplicate index entry %s", e.FileName)
		}
		entries[e.FileName] = e
	}
	x.entries = entries
	return nil
}

func sortEntries(entries []IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FileName < entries[j].FileName
	})
}
