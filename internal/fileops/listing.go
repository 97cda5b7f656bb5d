package fileops

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"micropython-service/internal/repl"
)

// EntryType tells files and directories apart in a detailed listing.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Stat mode bits reported by uos.ilistdir.
const (
	modeDir  = 0x4000
	modeFile = 0x8000
)

// DirEntry is one row of a detailed listing. Size and Inode are nil when
// the board did not report them.
type DirEntry struct {
	Name  string    `json:"name"`
	Type  EntryType `json:"type"`
	Size  *int64    `json:"size,omitempty"`
	Inode *int64    `json:"inode,omitempty"`
}

// decodeNameList decodes the printed result of uos.listdir.
func decodeNameList(op string, out []byte) ([]string, error) {
	items, err := decodeList(op, out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, repl.NewError(repl.KindDecode, op, out, fmt.Errorf("item %d is %T, not a name", i, item))
		}
		names = append(names, name)
	}
	return names, nil
}

// decodeEntries decodes the printed result of listing uos.ilistdir rows:
// [name, type, inode] or [name, type, inode, size].
func decodeEntries(op string, out []byte) ([]DirEntry, error) {
	items, err := decodeList(op, out)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(items))
	for i, item := range items {
		entry, err := decodeEntry(item)
		if err != nil {
			return nil, repl.NewError(repl.KindDecode, op, out, fmt.Errorf("entry %d: %w", i, err))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(item any) (DirEntry, error) {
	row, ok := item.([]any)
	if !ok || len(row) < 2 {
		return DirEntry{}, fmt.Errorf("expected [name, type, ...], got %v", item)
	}
	name, ok := row[0].(string)
	if !ok {
		return DirEntry{}, fmt.Errorf("name is %T", row[0])
	}
	mode, ok := row[1].(int64)
	if !ok {
		return DirEntry{}, fmt.Errorf("type is %T", row[1])
	}

	entry := DirEntry{Name: name, Type: EntryFile}
	if mode&modeDir != 0 && mode&modeFile == 0 {
		entry.Type = EntryDir
	}
	if len(row) > 2 {
		if inode, ok := row[2].(int64); ok {
			entry.Inode = &inode
		}
	}
	if len(row) > 3 {
		if size, ok := row[3].(int64); ok && size >= 0 {
			entry.Size = &size
		}
	}
	return entry, nil
}

func decodeList(op string, out []byte) ([]any, error) {
	v, err := parsePyLiteral(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, repl.NewError(repl.KindDecode, op, out, err)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, repl.NewError(repl.KindDecode, op, out, fmt.Errorf("expected a list, got %T", v))
	}
	return items, nil
}

// decodeFlag reads the 1/0 answer printed by exists and remove snippets.
func decodeFlag(op string, out []byte) (bool, error) {
	switch strings.TrimSpace(string(out)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, repl.NewError(repl.KindDecode, op, out, errors.New("expected 1 or 0"))
	}
}

// decodeByteValues decodes the comma-separated byte values printed by a
// binary read. The trailing comma is expected.
func decodeByteValues(op string, out []byte) ([]byte, error) {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return []byte{}, nil
	}
	fields := strings.Split(text, ",")
	data := make([]byte, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		n, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return nil, repl.NewError(repl.KindDecode, op, out, err)
		}
		data = append(data, byte(n))
	}
	return data, nil
}
