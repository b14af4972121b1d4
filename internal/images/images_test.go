package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(afero.NewMemMapFs(), 2048, zap.NewNop())
}

func sampleHash(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestSaveTwiceWritesFileOnceButIncrementsRefcountTwice(t *testing.T) {
	m := testManager(t)
	h := sampleHash(0xAB)

	ok, err := m.Save(h, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Save(h, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, m.RefCount(h))

	data, err := afero.ReadFile(m.fs, blobPath(h))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestRemoveReferenceTwiceReachesZeroAndQueuesDelete(t *testing.T) {
	m := testManager(t)
	h := sampleHash(0xCD)
	_, _ = m.Save(h, []byte("x"))
	_, _ = m.Save(h, []byte("x"))

	assert.Equal(t, 1, m.RemoveReference(h))
	assert.Equal(t, 0, m.PendingDeleteCount())

	assert.Equal(t, 0, m.RemoveReference(h))
	assert.Equal(t, 1, m.PendingDeleteCount())
	assert.Equal(t, 0, m.RefCount(h))
}

func TestGCDeletesBlobAfterReferencesDrop(t *testing.T) {
	m := testManager(t)
	h := sampleHash(0xEF)
	_, _ = m.Save(h, []byte("data"))
	m.RemoveReference(h)

	deleted := m.GC(nil)
	assert.Equal(t, 1, deleted)

	exists, err := afero.Exists(m.fs, blobPath(h))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReinsertBeforeGCKeepsBlobAlive(t *testing.T) {
	m := testManager(t)
	h := sampleHash(0x01)
	_, _ = m.Save(h, []byte("data"))
	m.RemoveReference(h)

	// re-insert before gc runs
	m.AddReference(h)

	deleted := m.GC(nil)
	assert.Equal(t, 0, deleted)

	exists, err := afero.Exists(m.fs, blobPath(h))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestValidateRejectsNonImage(t *testing.T) {
	err := Validate([]byte("not an image"))
	assert.Error(t, err)
}

func TestValidateAcceptsPNG(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, png.Encode(&buf, img))
	assert.NoError(t, Validate(buf.Bytes()))
}

func TestMakeThumbnailShrinksToBudget(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	thumb, err := MakeThumbnail(img, 4096)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(thumb), 4096+512, "should converge close to the byte budget")
}

func TestBootstrapPrunesUnreferencedBlobs(t *testing.T) {
	m := testManager(t)
	referenced := sampleHash(0x10)
	orphan := sampleHash(0x20)

	require.NoError(t, afero.WriteFile(m.fs, blobPath(orphan), []byte("orphan"), 0o644))
	require.NoError(t, afero.WriteFile(m.fs, blobPath(referenced), []byte("kept"), 0o644))

	err := m.Bootstrap(nil, []IdentityImageRefs{{ProfileImage: referenced[:]}})
	require.NoError(t, err)

	existsOrphan, _ := afero.Exists(m.fs, blobPath(orphan))
	existsReferenced, _ := afero.Exists(m.fs, blobPath(referenced))
	assert.False(t, existsOrphan)
	assert.True(t, existsReferenced)
	assert.Equal(t, 1, m.RefCount(referenced))
}
