package uploads

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-trade-analyzer/internal/trade"
)

var png = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 24)...)

func newStore(t *testing.T, mutate func(*Config)) *LocalStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewLocalStore(cfg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSaveAndRead(t *testing.T) {
	s := newStore(t, nil)
	b, err := s.NewBatch()
	require.NoError(t, err)

	ref, err := b.Save("15 Min", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "15 Min", ref.Timeframe)
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, int64(len(png)), ref.Size)
	assert.Equal(t, "00_15_min.png", filepath.Base(ref.Path))

	data, err := s.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, png, data)

	ref2, err := b.Save("../../etc", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, b.Dir, filepath.Dir(ref2.Path))
	assert.Len(t, b.Files(), 2)
}

func TestSaveRejectsBadFiles(t *testing.T) {
	s := newStore(t, func(c *Config) { c.MaxFileSize = 16 })
	b, err := s.NewBatch()
	require.NoError(t, err)

	_, err = b.Save("big", bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = b.Save("text", strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = b.Save("empty", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmptyFile)

	assert.Empty(t, b.Files())
}

func TestRemoveCleansBatchDir(t *testing.T) {
	s := newStore(t, nil)
	b, err := s.NewBatch()
	require.NoError(t, err)
	r1, err := b.Save("1m", bytes.NewReader(png))
	require.NoError(t, err)
	r2, err := b.Save("5m", bytes.NewReader(png))
	require.NoError(t, err)

	require.NoError(t, s.Remove(r1, r2))

	if _, err := os.Stat(b.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected batch dir to be removed, got %v", err)
	}

	// already gone is not an error
	assert.NoError(t, s.Remove(r1))
}

func TestRemoveRejectsOutsidePaths(t *testing.T) {
	s := newStore(t, nil)
	outside := filepath.Join(t.TempDir(), "keep.png")
	require.NoError(t, os.WriteFile(outside, png, 0o600))

	err := s.Remove(trade.FileRef{Path: outside})
	assert.ErrorIs(t, err, ErrOutsideBase)
	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)

	_, err = s.ReadFile(s.BaseDir())
	assert.ErrorIs(t, err, ErrOutsideBase)
}

func TestSweepRemovesOnlyOldUncommitted(t *testing.T) {
	s := newStore(t, func(c *Config) { c.OrphanAge = time.Minute })

	orphan, err := s.NewBatch()
	require.NoError(t, err)
	_, err = orphan.Save("1m", bytes.NewReader(png))
	require.NoError(t, err)

	kept, err := s.NewBatch()
	require.NoError(t, err)
	_, err = kept.Save("1m", bytes.NewReader(png))
	require.NoError(t, err)
	require.NoError(t, kept.Commit())

	require.NoError(t, os.Mkdir(filepath.Join(s.BaseDir(), "not-a-batch"), 0o750))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh batches are kept")

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(orphan.Dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(kept.Dir)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.BaseDir(), "not-a-batch"))
	assert.NoError(t, err)
}

func TestDiscard(t *testing.T) {
	s := newStore(t, nil)
	b, err := s.NewBatch()
	require.NoError(t, err)
	_, err = b.Save("1m", bytes.NewReader(png))
	require.NoError(t, err)

	require.NoError(t, b.Discard())
	_, err = os.Stat(b.Dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
