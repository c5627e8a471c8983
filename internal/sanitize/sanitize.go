// Package sanitize filters arXiv source bundles down to an allow-listed set
// of file types. It operates entirely on in-memory bytes: decompress, drop
// everything whose extension is not in the keep-set, and force any retained
// bibliography file onto a canonical name.
package sanitize

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/DinhLiu/arXiv-Crawler/internal/metrics"
)

var (
	// ErrCorruptArchive reports that the input could not be decompressed or
	// decoded as a tar stream.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrUnsafeEntry reports an entry that would escape the archive root or
	// exceed the decompressed size limit.
	ErrUnsafeEntry = errors.New("unsafe archive entry")
)

const (
	// CanonicalBibName is the forced filename for a retained bibliography
	// entry, placed at the archive's top level.
	CanonicalBibName = "references.bib"

	bibExtension = ".bib"

	// maxEntryBytes caps a single decompressed entry. Source bundles are
	// text; anything larger is a decompression bomb.
	maxEntryBytes = 64 << 20
)

// Entry is one retained file from a sanitized bundle.
type Entry struct {
	Path string
	Data []byte
}

// DefaultKeepExtensions returns the source/text/metadata extensions retained
// when no keep-set is configured.
func DefaultKeepExtensions() []string {
	return []string{".tex", ".bib", ".bbl", ".sty", ".cls", ".clo", ".txt", ".md"}
}

// Sanitizer applies the keep-set filter. It is stateless and safe for
// concurrent use.
type Sanitizer struct {
	keep map[string]struct{}
}

// New builds a Sanitizer for the given extensions. Extensions are matched
// case-insensitively; a missing leading dot is tolerated. An empty slice
// selects the defaults.
func New(keepExtensions []string) *Sanitizer {
	if len(keepExtensions) == 0 {
		keepExtensions = DefaultKeepExtensions()
	}
	keep := make(map[string]struct{}, len(keepExtensions))
	for _, ext := range keepExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		keep[ext] = struct{}{}
	}
	return &Sanitizer{keep: keep}
}

// Sanitize decompresses a gzipped tar bundle and returns the retained
// entries. Among retained bibliography entries the lexicographically-first
// path wins and is renamed to CanonicalBibName; the rest are dropped since
// they would collide on the canonical name. An archive with no bibliography
// entry is valid.
func (s *Sanitizer) Sanitize(archive []byte) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCorruptArchive, err)
	}
	defer func() {
		_ = gz.Close()
	}()

	var (
		kept []Entry
		bibs []Entry
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar: %w", ErrCorruptArchive, err)
		}

		// Directory, symlink, and device entries are never extracted.
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := normalizeEntryPath(hdr.Name)
		if err != nil {
			return nil, err
		}
		ext := strings.ToLower(path.Ext(name))
		if _, ok := s.keep[ext]; !ok {
			continue
		}
		if hdr.Size > maxEntryBytes {
			return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrUnsafeEntry, name, int64(maxEntryBytes))
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxEntryBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read entry %s: %w", ErrCorruptArchive, name, err)
		}
		if len(data) > maxEntryBytes {
			return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrUnsafeEntry, name, int64(maxEntryBytes))
		}

		if ext == bibExtension {
			bibs = append(bibs, Entry{Path: name, Data: data})
			continue
		}
		kept = append(kept, Entry{Path: name, Data: data})
	}

	if len(bibs) > 0 {
		sort.Slice(bibs, func(i, j int) bool { return bibs[i].Path < bibs[j].Path })
		kept = append(kept, Entry{Path: CanonicalBibName, Data: bibs[0].Data})
	}

	var total int64
	for _, e := range kept {
		total += int64(len(e.Data))
	}
	metrics.ArchiveBytesKept.Add(float64(total))
	return kept, nil
}

// normalizeEntryPath cleans an archive member path and rejects anything that
// resolves outside the archive root.
func normalizeEntryPath(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "." {
		return "", fmt.Errorf("%w: empty entry path %q", ErrUnsafeEntry, name)
	}
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path %q escapes archive root", ErrUnsafeEntry, name)
	}
	return cleaned, nil
}
