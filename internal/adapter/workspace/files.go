package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// ListResult is returned by list_directory.
type ListResult struct {
	Path       string  `json:"path"`
	Contents   []Entry `json:"contents"`
	TotalItems int     `json:"total_items"`
}

// ReadResult is returned by read_file.
type ReadResult struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	Lines    int    `json:"lines"`
}

// WriteResult is returned by write_file.
type WriteResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Created      bool   `json:"created"`
}

// EditResult is returned by edit_file.
type EditResult struct {
	Path         string `json:"path"`
	Operation    string `json:"operation"`
	ChangesMade  int    `json:"changes_made"`
	BytesWritten int    `json:"bytes_written"`
}

var listDirectoryDesc = toolexec.Descriptor{
	Name:        "list_directory",
	Description: "List files and directories within the workspace with optional filtering",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "Directory path relative to the workspace root (default: root)"},
		{Name: "include_hidden", Type: "boolean", Description: "Include hidden files and directories"},
		{Name: "recursive", Type: "boolean", Description: "List contents recursively"},
	},
}

func (t *toolset) listDirectory(_ context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	hidden, err := boolParam(params, "include_hidden", false)
	if err != nil {
		return nil, err
	}
	recursive, err := boolParam(params, "recursive", false)
	if err != nil {
		return nil, err
	}

	dir, err := t.dir(p)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if !hidden && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, Entry{Name: d.Name(), Type: entryType(d), Path: t.sb.Rel(path)})
		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list directory %s: %w", p, err)
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if a.Type != b.Type {
			if a.Type == "directory" {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Path), strings.ToLower(b.Path))
	})
	if entries == nil {
		entries = []Entry{}
	}
	return ListResult{Path: t.sb.Rel(dir), Contents: entries, TotalItems: len(entries)}, nil
}

var readFileDesc = toolexec.Descriptor{
	Name:        "read_file",
	Description: "Read complete file contents with automatic encoding detection",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
		{Name: "max_size", Type: "integer", Description: "Maximum file size to read in bytes"},
	},
}

func (t *toolset) readFile(_ context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	maxSize, err := intParam(params, "max_size", int(t.cfg.MaxReadBytes))
	if err != nil {
		return nil, err
	}

	file, info, err := t.file(p)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > int64(maxSize) {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max: %d)", domain.ErrValidation, info.Size(), maxSize)
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", p, err)
	}

	content, enc := decodeText(raw)
	return ReadResult{
		Path:     t.sb.Rel(file),
		Content:  content,
		Encoding: enc,
		Size:     info.Size(),
		Lines:    countLines(content),
	}, nil
}

var writeFileDesc = toolexec.Descriptor{
	Name:        "write_file",
	Description: "Write content to a file atomically to prevent corruption",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
		{Name: "content", Type: "string", Description: "Content to write to the file", Required: true},
		{Name: "create_dirs", Type: "boolean", Description: "Create parent directories if they don't exist (default: true)"},
	},
}

func (t *toolset) writeFile(ctx context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	content, err := stringParam(params, "content", "")
	if err != nil {
		return nil, err
	}
	createDirs, err := boolParam(params, "create_dirs", true)
	if err != nil {
		return nil, err
	}

	target, err := t.sb.Resolve(p)
	if err != nil {
		return nil, err
	}
	if target == t.sb.Root() {
		return nil, fmt.Errorf("%w: path is the workspace root", domain.ErrValidation)
	}
	info, statErr := os.Stat(target)
	created := errors.Is(statErr, fs.ErrNotExist)
	if statErr == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: path is a directory: %s", domain.ErrValidation, p)
	}
	if createDirs {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", p, err)
		}
	}
	if err := writeAtomic(target, []byte(content)); err != nil {
		return nil, err
	}

	mod := memory.ModModified
	if created {
		mod = memory.ModCreated
	}
	t.modified(ctx, target, mod, writeFileDesc.Name, []byte(content))
	return WriteResult{Path: t.sb.Rel(target), BytesWritten: len(content), Created: created}, nil
}

var editFileDesc = toolexec.Descriptor{
	Name:        "edit_file",
	Description: "Perform targeted file edits: find-replace, line insertion and line deletion",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
		{Name: "operation", Type: "string", Description: "One of replace, insert_line, delete_line", Required: true},
		{Name: "find", Type: "string", Description: "Text to find (replace)"},
		{Name: "replace", Type: "string", Description: "Replacement text (replace)"},
		{Name: "line_number", Type: "integer", Description: "1-based line number (insert_line, delete_line)"},
		{Name: "content", Type: "string", Description: "Line to insert (insert_line)"},
	},
}

func (t *toolset) editFile(ctx context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	op, err := stringParam(params, "operation", "")
	if err != nil {
		return nil, err
	}

	file, _, err := t.file(p)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", p, err)
	}

	updated, changes, err := applyEdit(string(raw), op, params)
	if err != nil {
		return nil, err
	}
	res := EditResult{Path: t.sb.Rel(file), Operation: op, ChangesMade: changes}
	if changes == 0 {
		return res, nil
	}
	if err := writeAtomic(file, []byte(updated)); err != nil {
		return nil, err
	}
	res.BytesWritten = len(updated)
	t.modified(ctx, file, memory.ModModified, editFileDesc.Name, []byte(updated))
	return res, nil
}

func applyEdit(content, op string, params map[string]any) (string, int, error) {
	switch op {
	case "replace":
		find, err := stringParam(params, "find", "")
		if err != nil {
			return "", 0, err
		}
		if find == "" {
			return "", 0, fmt.Errorf("%w: find text is required for replace", domain.ErrValidation)
		}
		repl, err := stringParam(params, "replace", "")
		if err != nil {
			return "", 0, err
		}
		n := strings.Count(content, find)
		return strings.ReplaceAll(content, find, repl), n, nil

	case "insert_line", "delete_line":
		line, err := intParam(params, "line_number", 0)
		if err != nil {
			return "", 0, err
		}
		if line < 1 {
			return "", 0, fmt.Errorf("%w: line_number >= 1 is required for %s", domain.ErrValidation, op)
		}
		lines := splitLines(content)
		if op == "delete_line" {
			if line > len(lines) {
				return content, 0, nil
			}
			return strings.Join(slices.Delete(lines, line-1, line), ""), 1, nil
		}
		text, err := stringParam(params, "content", "")
		if err != nil {
			return "", 0, err
		}
		if line <= len(lines) {
			lines = slices.Insert(lines, line-1, text+"\n")
		} else {
			if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
				lines[n-1] += "\n"
			}
			lines = append(lines, text+"\n")
		}
		return strings.Join(lines, ""), 1, nil

	default:
		return "", 0, fmt.Errorf("%w: unknown edit operation %q", domain.ErrValidation, op)
	}
}

// splitLines splits s after each newline, keeping the terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func countLines(s string) int { return len(splitLines(s)) }

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText returns raw as a string and names the encoding it detected.
// Invalid UTF-8 is replaced rather than rejected.
func decodeText(raw []byte) (string, string) {
	switch {
	case bytes.HasPrefix(raw, bomUTF8):
		return strings.ToValidUTF8(string(raw[len(bomUTF8):]), "\uFFFD"), "utf-8-sig"
	case bytes.HasPrefix(raw, bomUTF16LE), bytes.HasPrefix(raw, bomUTF16BE):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err == nil {
			return string(out), "utf-16"
		}
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}
	return strings.ToValidUTF8(string(raw), "\uFFFD"), "utf-8"
}

// writeAtomic writes data to a temp file beside path and renames it over
// path, keeping the existing file mode.
func writeAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

func entryType(d fs.DirEntry) string {
	if d.IsDir() {
		return "directory"
	}
	return "file"
}
