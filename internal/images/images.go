// Package images implements C4, the content-addressed Image Reference
// Manager: an in-memory ImageHash -> refcount map backed by a pending
// delete list, with the on-disk blob tree living on an afero.Fs so tests
// can swap in an in-memory filesystem.
package images

import (
	"context"
	"encoding/hex"
	"io/fs"
	"path"
	"sync"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Hash is a raw SHA256 image hash, used as both the refcount map key and
// the on-disk blob identity.
type Hash [32]byte

func (h Hash) hex() string { return hex.EncodeToString(h[:]) }

// HashFromBytes validates and wraps a raw 32-byte hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != len(h) {
		return h, errors.Errorf("images: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// blobPath implements the <root>/<H[0] hex upper>/<H[1] hex upper>/<H hex
// lower> layout from spec.md §4.4.
func blobPath(h Hash) string {
	upper := func(b byte) string {
		const digits = "0123456789ABCDEF"
		return string([]byte{digits[b>>4], digits[b&0x0f]})
	}
	return path.Join(upper(h[0]), upper(h[1]), h.hex())
}

const defaultGCBatch = 50

// Manager is the C4 component.
type Manager struct {
	fs     afero.Fs
	logger *zap.Logger

	refMu    sync.Mutex
	refcount map[Hash]int

	pendingMu sync.Mutex
	pending   []Hash

	maxThumbnailBytes int
}

// NewManager constructs a Manager rooted at fs (typically an
// afero.NewBasePathFs over the configured image_data_folder).
func NewManager(fs afero.Fs, maxThumbnailBytes int, logger *zap.Logger) *Manager {
	return &Manager{
		fs:                fs,
		logger:            logger.Named("images"),
		refcount:          make(map[Hash]int),
		maxThumbnailBytes: maxThumbnailBytes,
	}
}

// IdentityImageRefs is the minimal view of a hosted/neighbor identity's
// image references the startup scan needs; it decouples this package from
// internal/store.
type IdentityImageRefs struct {
	ProfileImage   []byte
	ThumbnailImage []byte
}

// Bootstrap performs the startup scan from spec.md §4.4: increment the
// refcount once per reference across every identity, then walk the on-disk
// tree and delete any blob absent from the map.
func (m *Manager) Bootstrap(ctx context.Context, identities []IdentityImageRefs) error {
	for _, id := range identities {
		for _, raw := range [][]byte{id.ProfileImage, id.ThumbnailImage} {
			if len(raw) == 0 {
				continue
			}
			h, err := HashFromBytes(raw)
			if err != nil {
				return err
			}
			m.AddReference(h)
		}
	}
	return m.pruneUnreferenced(ctx)
}

// AddReference increments H's refcount and returns the new value.
func (m *Manager) AddReference(h Hash) int {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.refcount[h]++
	return m.refcount[h]
}

// Save atomically increments H's refcount; if the new count is exactly 1
// it writes bytes to disk (creating parent directories as needed). If the
// write fails the refcount is rolled back and false is returned. If the
// count was already > 0 the file is assumed to exist and only the
// refcount advances — so saving the same bytes twice writes the file
// exactly once while the refcount still reflects both references.
func (m *Manager) Save(h Hash, data []byte) (bool, error) {
	m.refMu.Lock()
	m.refcount[h]++
	count := m.refcount[h]
	m.refMu.Unlock()

	if count != 1 {
		return true, nil
	}

	if err := m.writeBlob(h, data); err != nil {
		m.refMu.Lock()
		m.refcount[h]--
		if m.refcount[h] <= 0 {
			delete(m.refcount, h)
		}
		m.refMu.Unlock()
		return false, err
	}
	return true, nil
}

func (m *Manager) writeBlob(h Hash, data []byte) error {
	p := blobPath(h)
	if err := m.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "images: create blob directory")
	}
	if err := afero.WriteFile(m.fs, p, data, 0o644); err != nil {
		return errors.Wrap(err, "images: write blob")
	}
	return nil
}

// RemoveReference decrements H's refcount. If it reaches zero the mapping
// is dropped and H is enqueued on the pending-delete list; the file itself
// is not removed until gc runs.
func (m *Manager) RemoveReference(h Hash) int {
	m.refMu.Lock()
	m.refcount[h]--
	count := m.refcount[h]
	if count <= 0 {
		delete(m.refcount, h)
	}
	m.refMu.Unlock()

	if count <= 0 {
		m.pendingMu.Lock()
		m.pending = append(m.pending, h)
		m.pendingMu.Unlock()
	}
	return count
}

// RefCount returns H's current refcount (0 if absent), for tests and
// invariant checks.
func (m *Manager) RefCount(h Hash) int {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	return m.refcount[h]
}

// MaxThumbnailBytes returns the configured thumbnail byte ceiling, so
// callers producing a thumbnail via MakeThumbnail size it to the same
// budget the Manager was constructed with.
func (m *Manager) MaxThumbnailBytes() int {
	return m.maxThumbnailBytes
}

// Load reads back the blob stored under h, for serving the actual image
// bytes a hash identifies rather than the hash itself.
func (m *Manager) Load(h Hash) ([]byte, error) {
	return afero.ReadFile(m.fs, blobPath(h))
}

// PendingDeleteCount reports the current pending-delete list length, for
// tests and status reporting.
func (m *Manager) PendingDeleteCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// GC drains up to defaultGCBatch entries from the pending-delete list,
// deleting the backing file for each entry whose refcount is still zero
// (a concurrent Save/AddReference may have resurrected it in the
// meantime, in which case it is skipped rather than deleted). Errors
// deleting an individual file are logged and the entry is discarded
// either way, matching spec.md §4.4.
func (m *Manager) GC(ctx context.Context) int {
	m.pendingMu.Lock()
	n := len(m.pending)
	if n > defaultGCBatch {
		n = defaultGCBatch
	}
	batch := m.pending[:n]
	m.pending = m.pending[n:]
	m.pendingMu.Unlock()

	deleted := 0
	for _, h := range batch {
		m.refMu.Lock()
		stillZero := m.refcount[h] <= 0
		m.refMu.Unlock()
		if !stillZero {
			continue
		}
		if err := m.fs.Remove(blobPath(h)); err != nil {
			m.logger.Warn("gc: failed to remove blob", zap.String("hash", h.hex()), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted
}

// pruneUnreferenced walks the blob tree and deletes any file whose hash is
// not present in the refcount map, run once at startup.
func (m *Manager) pruneUnreferenced(ctx context.Context) error {
	exists, err := afero.DirExists(m.fs, ".")
	if err != nil {
		return errors.Wrap(err, "images: stat blob root")
	}
	if !exists {
		return nil
	}

	var toRemove []string
	err = afero.Walk(m.fs, ".", func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		h, parseErr := hashFromHex(info.Name())
		if parseErr != nil {
			// not a blob file (unexpected name) - leave it alone.
			return nil
		}
		m.refMu.Lock()
		referenced := m.refcount[h] > 0
		m.refMu.Unlock()
		if !referenced {
			toRemove = append(toRemove, p)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "images: walk blob tree")
	}

	for _, p := range toRemove {
		if err := m.fs.Remove(p); err != nil {
			m.logger.Warn("bootstrap: failed to remove unreferenced blob", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

func hashFromHex(name string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(name)
	if err != nil {
		return h, err
	}
	return HashFromBytes(b)
}

// Validate checks that data is a well-formed PNG or JPEG image, per
// spec.md §4.4's "image accepted via profile update must validate as PNG
// or JPEG".
func Validate(data []byte) error {
	kind, err := filetype.Match(data)
	if err != nil {
		return errors.Wrap(err, "images: detect file type")
	}
	if kind == filetype.Unknown {
		return errors.New("images: unrecognized image format")
	}
	if kind.MIME.Value != "image/png" && kind.MIME.Value != "image/jpeg" {
		return errors.Errorf("images: unsupported format %s, only PNG and JPEG are accepted", kind.MIME.Value)
	}
	return nil
}
