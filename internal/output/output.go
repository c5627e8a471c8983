// Package output persists harvested artifacts into the per-paper layout:
// metadata.json and references.json at the paper directory root, and one
// tex/<id>v<N>/ directory per sanitized source version.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
	"github.com/DinhLiu/arXiv-Crawler/internal/sanitize"
)

const (
	metadataFile   = "metadata.json"
	referencesFile = "references.json"
	texDir         = "tex"
)

// BlobStore abstracts the artifact destination. Put writes data at the given
// slash-separated path under the store's root and returns the stored URI.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}

// Manager writes the per-paper artifact layout through a BlobStore.
type Manager struct {
	store  BlobStore
	logger *zap.Logger
}

// NewManager builds a Manager over the given store.
func NewManager(store BlobStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// WriteMetadata persists the paper's metadata record.
func (m *Manager) WriteMetadata(ctx context.Context, id ident.ID, metadata any) error {
	return m.writeJSON(ctx, path.Join(id.DirName(), metadataFile), metadata)
}

// WriteReferences persists the paper's reference record.
func (m *Manager) WriteReferences(ctx context.Context, id ident.ID, references any) error {
	return m.writeJSON(ctx, path.Join(id.DirName(), referencesFile), references)
}

// WriteVersionFiles persists one sanitized source version and returns the
// total bytes written.
func (m *Manager) WriteVersionFiles(ctx context.Context, id ident.ID, version int, entries []sanitize.Entry) (int64, error) {
	base := path.Join(id.DirName(), texDir, id.VersionDir(version))
	var total int64
	for _, e := range entries {
		uri, err := m.store.Put(ctx, path.Join(base, e.Path), e.Data)
		if err != nil {
			return total, fmt.Errorf("write version file %s: %w", e.Path, err)
		}
		total += int64(len(e.Data))
		m.logger.Debug("version file written", zap.String("uri", uri))
	}
	return total, nil
}

func (m *Manager) writeJSON(ctx context.Context, p string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	if _, err := m.store.Put(ctx, p, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}
