package sanitize

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

type archiveFile struct {
	name string
	data string
	dir  bool
}

func buildArchive(t *testing.T, files []archiveFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644}
		if f.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(f.data))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !f.dir {
			_, err := tw.Write([]byte(f.data))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func entriesToArchive(t *testing.T, entries []Entry) []byte {
	t.Helper()
	files := make([]archiveFile, 0, len(entries))
	for _, e := range entries {
		files = append(files, archiveFile{name: e.Path, data: string(e.Data)})
	}
	return buildArchive(t, files)
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestSanitize_KeepSetFilter(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "paper.tex", data: "\\documentclass{article}"},
		{name: "figs", dir: true},
		{name: "figs/plot.png", data: "PNG"},
		{name: "figs/diagram.eps", data: "EPS"},
		{name: "macros.sty", data: "% macros"},
		{name: "paper.pdf", data: "%PDF"},
	})

	entries, err := New(nil).Sanitize(archive)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"paper.tex", "macros.sty"}, paths(entries))
}

func TestSanitize_SingleBibliographyRenamed(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "paper.tex", data: "tex"},
		{name: "notes/refs.bib", data: "@article{a}"},
	})

	entries, err := New(nil).Sanitize(archive)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"paper.tex", CanonicalBibName}, paths(entries))
	for _, e := range entries {
		if e.Path == CanonicalBibName {
			require.Equal(t, "@article{a}", string(e.Data))
		}
	}
}

func TestSanitize_NoBibliographyIsValid(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{{name: "paper.tex", data: "tex"}})

	entries, err := New(nil).Sanitize(archive)
	require.NoError(t, err)
	require.Equal(t, []string{"paper.tex"}, paths(entries))
}

func TestSanitize_MultipleBibliographiesFirstPathWins(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "z/refs.bib", data: "@z"},
		{name: "a/refs.bib", data: "@a"},
		{name: "paper.tex", data: "tex"},
	})

	entries, err := New(nil).Sanitize(archive)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"paper.tex", CanonicalBibName}, paths(entries))
	for _, e := range entries {
		if e.Path == CanonicalBibName {
			require.Equal(t, "@a", string(e.Data))
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	t.Parallel()
	s := New(nil)
	archive := buildArchive(t, []archiveFile{
		{name: "paper.tex", data: "tex"},
		{name: "img.png", data: "PNG"},
		{name: "refs.bib", data: "@a"},
	})

	once, err := s.Sanitize(archive)
	require.NoError(t, err)
	twice, err := s.Sanitize(entriesToArchive(t, once))
	require.NoError(t, err)
	require.ElementsMatch(t, paths(once), paths(twice))
}

func TestSanitize_CaseInsensitiveExtensions(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "PAPER.TEX", data: "tex"},
		{name: "IMG.PNG", data: "PNG"},
	})

	entries, err := New(nil).Sanitize(archive)
	require.NoError(t, err)
	require.Equal(t, []string{"PAPER.TEX"}, paths(entries))
}

func TestSanitize_CorruptArchive(t *testing.T) {
	t.Parallel()
	_, err := New(nil).Sanitize([]byte("definitely not gzip"))
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestSanitize_TruncatedTar(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("short and not a tar stream"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	_, err = New(nil).Sanitize(buf.Bytes())
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestSanitize_PathTraversalRejected(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "../evil.tex", data: "tex"},
	})

	_, err := New(nil).Sanitize(archive)
	require.ErrorIs(t, err, ErrUnsafeEntry)
}

func TestSanitize_CustomKeepSet(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t, []archiveFile{
		{name: "paper.tex", data: "tex"},
		{name: "data.csv", data: "a,b"},
	})

	entries, err := New([]string{"csv"}).Sanitize(archive)
	require.NoError(t, err)
	require.Equal(t, []string{"data.csv"}, paths(entries))
}
