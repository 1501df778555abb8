package workspace

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

const (
	defaultContextLines  = 2
	defaultMaxMatches    = 100
	binarySniffBytes     = 1024
	largestFilesListed   = 20
	defaultAnalysisDepth = 3
)

// Span locates one match within a line. Offsets are in bytes.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"matched_text"`
}

// ContextLine is a line shown around a match.
type ContextLine struct {
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
	IsMatch    bool   `json:"is_match"`
}

// Match is one matching line.
type Match struct {
	File        string        `json:"file"`
	LineNumber  int           `json:"line_number"`
	LineContent string        `json:"line_content"`
	Spans       []Span        `json:"matches"`
	Context     []ContextLine `json:"context"`
}

// SearchResult is returned by search_files.
type SearchResult struct {
	Pattern       string  `json:"pattern"`
	SearchPath    string  `json:"search_path"`
	UseRegex      bool    `json:"use_regex"`
	CaseSensitive bool    `json:"case_sensitive"`
	FilesSearched int     `json:"files_searched"`
	TotalMatches  int     `json:"total_matches"`
	Truncated     bool    `json:"truncated"`
	Matches       []Match `json:"matches"`
}

var searchFilesDesc = toolexec.Descriptor{
	Name:        "search_files",
	Description: "Search for text patterns across files using regex or plain text, with context and line numbers",
	Params: []toolexec.Param{
		{Name: "pattern", Type: "string", Description: "Search pattern (regex or plain text)", Required: true},
		{Name: "path", Type: "string", Description: "Directory or file to search, relative to the workspace root"},
		{Name: "use_regex", Type: "boolean", Description: "Treat pattern as a regular expression"},
		{Name: "case_sensitive", Type: "boolean", Description: "Match case (default: false)"},
		{Name: "context_lines", Type: "integer", Description: "Context lines around each match, 0-10 (default: 2)"},
		{Name: "max_matches", Type: "integer", Description: "Maximum matches to return, 1-1000 (default: 100)"},
		{Name: "file_extensions", Type: "array", Description: "Only search files with these extensions, e.g. [\".go\", \".md\"]"},
		{Name: "exclude_patterns", Type: "array", Description: "Glob patterns of files to skip, e.g. [\"*.log\"]"},
	},
}

// lineMatcher returns the spans of all matches in line.
type lineMatcher func(line string) []Span

func (t *toolset) searchFiles(ctx context.Context, params map[string]any) (any, error) {
	pattern, err := stringParam(params, "pattern", "")
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty search pattern", domain.ErrValidation)
	}
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	useRegex, err := boolParam(params, "use_regex", false)
	if err != nil {
		return nil, err
	}
	caseSensitive, err := boolParam(params, "case_sensitive", false)
	if err != nil {
		return nil, err
	}
	contextLines, err := intParam(params, "context_lines", defaultContextLines)
	if err != nil {
		return nil, err
	}
	maxMatches, err := intParam(params, "max_matches", defaultMaxMatches)
	if err != nil {
		return nil, err
	}
	exts, err := stringsParam(params, "file_extensions")
	if err != nil {
		return nil, err
	}
	excludes, err := stringsParam(params, "exclude_patterns")
	if err != nil {
		return nil, err
	}
	contextLines = clamp(contextLines, 0, 10)
	maxMatches = clamp(maxMatches, 1, 1000)

	match, err := newLineMatcher(pattern, useRegex, caseSensitive)
	if err != nil {
		return nil, err
	}

	target, err := t.sb.Resolve(p)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("%w: path does not exist: %s", domain.ErrNotFound, p)
	}

	res := SearchResult{
		Pattern:       pattern,
		SearchPath:    t.sb.Rel(target),
		UseRegex:      useRegex,
		CaseSensitive: caseSensitive,
		Matches:       []Match{},
	}
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !includeFile(t.sb.Rel(path), exts, excludes) {
			return nil
		}
		found, ok := t.searchFile(path, match, contextLines)
		if !ok {
			return nil
		}
		res.FilesSearched++
		for _, m := range found {
			if len(res.Matches) >= maxMatches {
				res.Truncated = true
				return filepath.SkipAll
			}
			res.Matches = append(res.Matches, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p, err)
	}
	res.TotalMatches = len(res.Matches)
	return res, nil
}

func newLineMatcher(pattern string, useRegex, caseSensitive bool) (lineMatcher, error) {
	if useRegex {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid regex pattern: %v", domain.ErrValidation, err)
		}
		return func(line string) []Span {
			var spans []Span
			for _, loc := range re.FindAllStringIndex(line, -1) {
				spans = append(spans, Span{Start: loc[0], End: loc[1], Text: line[loc[0]:loc[1]]})
			}
			return spans
		}, nil
	}

	needle := pattern
	if !caseSensitive {
		needle = strings.ToLower(pattern)
	}
	return func(line string) []Span {
		hay := line
		if !caseSensitive {
			hay = strings.ToLower(line)
		}
		var spans []Span
		for start := 0; start < len(hay); {
			i := strings.Index(hay[start:], needle)
			if i < 0 {
				break
			}
			from := start + i
			to := min(from+len(needle), len(line))
			spans = append(spans, Span{Start: from, End: to, Text: line[min(from, len(line)):to]})
			start = from + 1
		}
		return spans
	}, nil
}

// searchFile scans one text file. ok is false for binary, oversized or
// unreadable files.
func (t *toolset) searchFile(path string, match lineMatcher, contextLines int) ([]Match, bool) {
	info, err := os.Stat(path)
	if err != nil || (t.cfg.MaxReadBytes > 0 && info.Size() > t.cfg.MaxReadBytes) {
		return nil, false
	}
	raw, err := os.ReadFile(path)
	if err != nil || isBinary(raw) {
		return nil, false
	}

	lines := strings.Split(strings.ToValidUTF8(string(raw), "\uFFFD"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	var out []Match
	for i, line := range lines {
		spans := match(line)
		if len(spans) == 0 {
			continue
		}
		from, to := max(0, i-contextLines), min(len(lines), i+contextLines+1)
		ctxLines := make([]ContextLine, 0, to-from)
		for j := from; j < to; j++ {
			ctxLines = append(ctxLines, ContextLine{LineNumber: j + 1, Content: lines[j], IsMatch: j == i})
		}
		out = append(out, Match{
			File:        t.sb.Rel(path),
			LineNumber:  i + 1,
			LineContent: line,
			Spans:       spans,
			Context:     ctxLines,
		})
	}
	return out, true
}

// includeFile applies the extension and exclusion filters to a
// workspace-relative path.
func includeFile(rel string, exts, excludes []string) bool {
	if len(exts) > 0 {
		ext := strings.ToLower(filepath.Ext(rel))
		if !slices.ContainsFunc(exts, func(e string) bool { return strings.EqualFold(e, ext) }) {
			return false
		}
	}
	base := filepath.Base(rel)
	for _, pat := range excludes {
		if ok, _ := filepath.Match(pat, base); ok {
			return false
		}
		if ok, _ := filepath.Match(pat, rel); ok {
			return false
		}
		if slices.Contains(strings.Split(rel, "/"), pat) {
			return false
		}
	}
	return true
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binarySniffBytes)], 0) >= 0
}

// isText reports whether the head of a file looks like text: no NUL bytes
// and mostly printable ASCII.
func isText(head []byte) bool {
	if len(head) == 0 {
		return true
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	printable := 0
	for _, b := range head {
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(head)) > 0.7
}

// FileInfo is the metadata of a single file.
type FileInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"size_human"`
	Modified    time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
	Mode        string    `json:"mode"`
	Executable  bool      `json:"is_executable"`
	MimeType    string    `json:"mime_type,omitempty"`
	Extension   string    `json:"extension"`
	IsText      bool      `json:"is_text"`
	LineCount   *int      `json:"line_count,omitempty"`
}

// DirInfo is the metadata of a directory.
type DirInfo struct {
	Name           string    `json:"name"`
	Modified       time.Time `json:"modified"`
	Permissions    string    `json:"permissions"`
	FileCount      int       `json:"file_count"`
	DirectoryCount int       `json:"directory_count"`
	TotalSize      int64     `json:"total_size"`
	TotalSizeHuman string    `json:"total_size_human"`
	Recursive      bool      `json:"recursive"`
}

// MetadataResult is returned by file_metadata. Metadata holds a FileInfo
// or a DirInfo depending on Type.
type MetadataResult struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Metadata any    `json:"metadata"`
}

var fileMetadataDesc = toolexec.Descriptor{
	Name:        "file_metadata",
	Description: "Retrieve metadata for a file or directory: size, modification time, permissions and type",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "File or directory path relative to the workspace root", Required: true},
		{Name: "include_hidden", Type: "boolean", Description: "Count hidden entries in directories"},
		{Name: "recursive", Type: "boolean", Description: "Count directory contents recursively"},
	},
}

func (t *toolset) fileMetadata(_ context.Context, params map[string]any) (any, error) {
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

	target, err := t.sb.Resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("%w: path does not exist: %s", domain.ErrNotFound, p)
	}
	if !info.IsDir() {
		return MetadataResult{Path: t.sb.Rel(target), Type: "file", Metadata: fileInfo(target, info)}, nil
	}

	d := DirInfo{
		Name:        info.Name(),
		Modified:    info.ModTime().UTC(),
		Permissions: fmt.Sprintf("%03o", info.Mode().Perm()),
		Recursive:   recursive,
	}
	err = filepath.WalkDir(target, func(path string, e fs.DirEntry, err error) error {
		if err != nil || path == target {
			return err
		}
		if !hidden && isHidden(e.Name()) {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.IsDir() {
			d.DirectoryCount++
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		d.FileCount++
		if fi, err := e.Info(); err == nil {
			d.TotalSize += fi.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan directory %s: %w", p, err)
	}
	d.TotalSizeHuman = humanize.IBytes(uint64(d.TotalSize))
	return MetadataResult{Path: t.sb.Rel(target), Type: "directory", Metadata: d}, nil
}

func fileInfo(path string, info fs.FileInfo) FileInfo {
	ext := strings.ToLower(filepath.Ext(path))
	fi := FileInfo{
		Name:        info.Name(),
		Size:        info.Size(),
		SizeHuman:   humanize.IBytes(uint64(info.Size())),
		Modified:    info.ModTime().UTC(),
		Permissions: fmt.Sprintf("%03o", info.Mode().Perm()),
		Mode:        info.Mode().String(),
		Executable:  info.Mode().Perm()&0o111 != 0,
		MimeType:    mime.TypeByExtension(ext),
		Extension:   ext,
	}

	f, err := os.Open(path)
	if err != nil {
		return fi
	}
	defer f.Close()
	head := make([]byte, binarySniffBytes)
	n, _ := io.ReadFull(f, head)
	fi.IsText = isText(head[:n])
	if !fi.IsText {
		return fi
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fi
	}
	if lines, err := countReaderLines(f); err == nil {
		fi.LineCount = &lines
	}
	return fi
}

func countReaderLines(r io.Reader) (int, error) {
	buf := make([]byte, 32*1024)
	count, last := 0, byte('\n')
	for {
		n, err := r.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if n > 0 {
			last = buf[n-1]
		}
		if err == io.EOF {
			if last != '\n' {
				count++
			}
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// TreeNode is one node of a directory_analysis tree.
type TreeNode struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Path      string     `json:"path"`
	Size      int64      `json:"size,omitempty"`
	Children  []TreeNode `json:"children,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

// SizeBucket aggregates files in one size range.
type SizeBucket struct {
	Count          int    `json:"count"`
	TotalSize      int64  `json:"total_size"`
	TotalSizeHuman string `json:"total_size_human"`
}

// FileSize names a file and its size.
type FileSize struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

// DirStats summarises a directory tree.
type DirStats struct {
	TotalFiles       int    `json:"total_files"`
	TotalDirectories int    `json:"total_directories"`
	TotalSize        int64  `json:"total_size"`
	TotalSizeHuman   string `json:"total_size_human"`
	Depth            int    `json:"depth"`
}

// Analysis is returned by directory_analysis.
type Analysis struct {
	Path         string                 `json:"path"`
	Tree         TreeNode               `json:"tree"`
	Statistics   DirStats               `json:"statistics"`
	ByExtension  map[string]*SizeBucket `json:"by_extension,omitempty"`
	ByMimeType   map[string]*SizeBucket `json:"by_mime_type,omitempty"`
	LargestFiles []FileSize             `json:"largest_files,omitempty"`
	SizeRanges   map[string]*SizeBucket `json:"size_distribution,omitempty"`
}

var directoryAnalysisDesc = toolexec.Descriptor{
	Name:        "directory_analysis",
	Description: "Analyse a directory tree: structure, file type statistics and size distribution",
	Params: []toolexec.Param{
		{Name: "path", Type: "string", Description: "Directory path relative to the workspace root (default: root)"},
		{Name: "max_depth", Type: "integer", Description: "Maximum tree depth, 1-10 (default: 3)"},
		{Name: "include_hidden", Type: "boolean", Description: "Include hidden files and directories"},
		{Name: "show_file_types", Type: "boolean", Description: "Include file type statistics (default: true)"},
		{Name: "show_size_analysis", Type: "boolean", Description: "Include size analysis (default: true)"},
	},
}

// sizeRanges are upper bounds, exclusive, in ascending order.
var sizeRanges = []struct {
	name  string
	limit int64
}{
	{"tiny", 1 << 10},
	{"small", 1 << 20},
	{"medium", 10 << 20},
	{"large", 1<<63 - 1},
}

func (t *toolset) directoryAnalysis(_ context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", "")
	if err != nil {
		return nil, err
	}
	depth, err := intParam(params, "max_depth", defaultAnalysisDepth)
	if err != nil {
		return nil, err
	}
	hidden, err := boolParam(params, "include_hidden", false)
	if err != nil {
		return nil, err
	}
	showTypes, err := boolParam(params, "show_file_types", true)
	if err != nil {
		return nil, err
	}
	showSizes, err := boolParam(params, "show_size_analysis", true)
	if err != nil {
		return nil, err
	}
	depth = clamp(depth, 1, 10)

	dir, err := t.dir(p)
	if err != nil {
		return nil, err
	}

	var files []FileSize
	var stats DirStats
	a := Analysis{Path: t.sb.Rel(dir)}
	if showTypes {
		a.ByExtension = map[string]*SizeBucket{}
		a.ByMimeType = map[string]*SizeBucket{}
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return err
		}
		if !hidden && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		stats.Depth = max(stats.Depth, len(strings.Split(filepath.ToSlash(rel), "/")))
		if d.IsDir() {
			stats.TotalDirectories++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalFiles++
		stats.TotalSize += info.Size()
		files = append(files, FileSize{Path: t.sb.Rel(path), Size: info.Size(), SizeHuman: humanize.IBytes(uint64(info.Size()))})

		if showTypes {
			ext := strings.ToLower(filepath.Ext(path))
			if ext == "" {
				ext = "no_extension"
			}
			addTo(a.ByExtension, ext, info.Size())
			if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
				category, _, _ := strings.Cut(mt, "/")
				addTo(a.ByMimeType, category, info.Size())
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyse directory %s: %w", p, err)
	}
	stats.TotalSizeHuman = humanize.IBytes(uint64(stats.TotalSize))
	a.Statistics = stats

	if showSizes {
		a.SizeRanges = map[string]*SizeBucket{}
		for _, r := range sizeRanges {
			a.SizeRanges[r.name] = &SizeBucket{}
		}
		for _, f := range files {
			for _, r := range sizeRanges {
				if f.Size < r.limit {
					addTo(a.SizeRanges, r.name, f.Size)
					break
				}
			}
		}
		slices.SortFunc(files, func(x, y FileSize) int { return cmp.Compare(y.Size, x.Size) })
		a.LargestFiles = files[:min(len(files), largestFilesListed)]
	}
	for _, m := range []map[string]*SizeBucket{a.ByExtension, a.ByMimeType, a.SizeRanges} {
		for _, b := range m {
			b.TotalSizeHuman = humanize.IBytes(uint64(b.TotalSize))
		}
	}

	a.Tree = t.tree(dir, depth, hidden, 0)
	return a, nil
}

func addTo(m map[string]*SizeBucket, key string, size int64) {
	b, ok := m[key]
	if !ok {
		b = &SizeBucket{}
		m[key] = b
	}
	b.Count++
	b.TotalSize += size
}

func (t *toolset) tree(dir string, maxDepth int, hidden bool, depth int) TreeNode {
	node := TreeNode{Name: filepath.Base(dir), Type: "directory", Path: t.sb.Rel(dir)}
	if depth >= maxDepth {
		node.Truncated = true
		return node
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return node
	}
	slices.SortStableFunc(entries, func(a, b fs.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
	for _, e := range entries {
		if !hidden && isHidden(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			node.Children = append(node.Children, t.tree(path, maxDepth, hidden, depth+1))
			continue
		}
		child := TreeNode{Name: e.Name(), Type: "file", Path: t.sb.Rel(path)}
		if info, err := e.Info(); err == nil {
			child.Size = info.Size()
		}
		node.Children = append(node.Children, child)
	}
	return node
}
