package harvest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DinhLiu/arXiv-Crawler/internal/apiclient"
	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
	"github.com/DinhLiu/arXiv-Crawler/internal/output"
	"github.com/DinhLiu/arXiv-Crawler/internal/sanitize"
	"github.com/DinhLiu/arXiv-Crawler/internal/scholar"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(data)),
		}))
		_, err := tw.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// TestJob_EndToEndLayout drives one job through the real sanitizer and the
// real filesystem output manager and asserts the persisted tree.
func TestJob_EndToEndLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	store, err := output.NewFSStore(root)
	require.NoError(t, err)

	id, err := ident.New("2411", 222)
	require.NoError(t, err)

	meta := &fakeMeta{
		latest: 2,
		archives: map[int][]byte{
			1: tarGz(t, map[string]string{
				"paper.tex": "v1 tex",
				"notes.png": "binary",
				"refs.bib":  "@article{a}",
			}),
			2: tarGz(t, map[string]string{"paper.tex": "v2 tex"}),
		},
	}
	refs := &fakeRefs{refs: map[string]scholar.Reference{"1901-01234": {Title: "Foundations"}}}

	job := &Job{
		ID:     id,
		Meta:   meta,
		Refs:   refs,
		San:    sanitize.New(nil),
		Output: output.NewManager(store, nil),
	}
	outcome := job.Run(context.Background())
	require.Equal(t, StatusSuccess, outcome.Status)

	paperDir := filepath.Join(root, "2411-00222")
	for _, p := range []string{
		"metadata.json",
		"references.json",
		filepath.Join("tex", "2411-00222v1", "paper.tex"),
		filepath.Join("tex", "2411-00222v1", "references.bib"),
		filepath.Join("tex", "2411-00222v2", "paper.tex"),
	} {
		_, statErr := os.Stat(filepath.Join(paperDir, p))
		require.NoError(t, statErr, p)
	}

	// the non-keep entry never lands on disk
	_, statErr := os.Stat(filepath.Join(paperDir, "tex", "2411-00222v1", "notes.png"))
	require.True(t, os.IsNotExist(statErr))

	bib, err := os.ReadFile(filepath.Join(paperDir, "tex", "2411-00222v1", "references.bib"))
	require.NoError(t, err)
	require.Equal(t, "@article{a}", string(bib))
}

// TestJob_VersionExhaustionLeavesSurvivorsOnDisk covers the partial-failure
// scenario: version 2's download exhausts retries while version 1 persists.
func TestJob_VersionExhaustionLeavesSurvivorsOnDisk(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	store, err := output.NewFSStore(root)
	require.NoError(t, err)

	id, err := ident.New("2411", 222)
	require.NoError(t, err)

	meta := &fakeMeta{
		latest:      2,
		archives:    map[int][]byte{1: tarGz(t, map[string]string{"paper.tex": "v1 tex"})},
		downloadErr: map[int]error{2: fmt.Errorf("download: %w", apiclient.ErrExhausted)},
	}

	job := &Job{
		ID:     id,
		Meta:   meta,
		Refs:   &fakeRefs{refs: map[string]scholar.Reference{}},
		San:    sanitize.New(nil),
		Output: output.NewManager(store, nil),
	}
	outcome := job.Run(context.Background())
	require.Equal(t, StatusPartialFailure, outcome.Status)
	require.Len(t, outcome.Failures, 1)
	require.True(t, errors.Is(outcome.Failures[0].Err, apiclient.ErrExhausted))

	_, statErr := os.Stat(filepath.Join(root, "2411-00222", "tex", "2411-00222v1", "paper.tex"))
	require.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(root, "2411-00222", "tex", "2411-00222v2"))
	require.True(t, os.IsNotExist(statErr))
}

// TestJob_ReferenceCooldownRecovers runs the real citation client against a
// fake upstream that rate-limits once; the job still ends in Success.
func TestJob_ReferenceCooldownRecovers(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"references": [{"paperId": "ref-one", "title": "Foundations", "authors": []}]}`)
	}))
	defer srv.Close()

	api := apiclient.New(apiclient.Config{
		MaxAttempts:       3,
		RateLimitCooldown: 5 * time.Millisecond,
	})
	refClient := scholar.New(api, scholar.WithBaseURL(srv.URL))

	id, err := ident.New("2411", 222)
	require.NoError(t, err)

	out := newFakeOutput()
	job := &Job{
		ID:     id,
		Meta:   &fakeMeta{latest: 1, archives: map[int][]byte{1: []byte("v1")}},
		Refs:   refClient,
		San:    &fakeSanitizer{},
		Output: out,
	}
	outcome := job.Run(context.Background())

	require.Equal(t, StatusSuccess, outcome.Status)
	require.Equal(t, int32(2), calls.Load())
	require.Len(t, out.references, 1)

	refs, ok := out.references[0].(map[string]scholar.Reference)
	require.True(t, ok)
	require.Equal(t, "Foundations", refs["ref-one"].Title)
}
