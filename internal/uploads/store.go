// Package uploads stores chart screenshots on local disk, one directory per
// upload batch.
package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/trade"
)

const committedMarker = ".committed"

var (
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("file is empty")
	ErrOutsideBase     = errors.New("path outside upload directory")
)

// Config holds upload limits
type Config struct {
	BaseDir      string        `json:"base_dir" yaml:"base_dir"`
	MaxFileSize  int64         `json:"max_file_size" yaml:"max_file_size"`
	AllowedTypes []string      `json:"allowed_types" yaml:"allowed_types"`
	OrphanAge    time.Duration `json:"orphan_age" yaml:"orphan_age"`
}

// DefaultConfig returns 10 MB PNG/JPEG/WebP/GIF uploads under ./uploads
func DefaultConfig() Config {
	return Config{
		BaseDir:      "uploads",
		MaxFileSize:  10 << 20,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
		OrphanAge:    time.Hour,
	}
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// LocalStore writes uploads below BaseDir
type LocalStore struct {
	config Config
	base   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(cfg Config, logger zerolog.Logger) (*LocalStore, error) {
	def := DefaultConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = def.AllowedTypes
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = def.OrphanAge
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{
		config: cfg,
		base:   base,
		logger: logger.With().Str("component", "uploads").Logger(),
		now:    time.Now,
	}, nil
}

// BaseDir returns the absolute upload root
func (s *LocalStore) BaseDir() string {
	return s.base
}

// Batch is one request's set of files
type Batch struct {
	ID    string
	Dir   string
	store *LocalStore

	mu    sync.Mutex
	files []trade.FileRef
}

// NewBatch creates an empty batch directory
func (s *LocalStore) NewBatch() (*Batch, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.base, id)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}
	return &Batch{ID: id, Dir: dir, store: s}, nil
}

// Save writes one file after checking its size and sniffed content type
func (b *Batch) Save(label string, r io.Reader) (trade.FileRef, error) {
	limit := b.store.config.MaxFileSize
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return trade.FileRef{}, fmt.Errorf("read upload %q: %w", label, err)
	}
	if len(data) == 0 {
		return trade.FileRef{}, fmt.Errorf("%w: %q", ErrEmptyFile, label)
	}
	if int64(len(data)) > limit {
		return trade.FileRef{}, fmt.Errorf("%w: %q is over %d bytes", ErrTooLarge, label, limit)
	}

	contentType := http.DetectContentType(data)
	if !b.store.allowed(contentType) {
		return trade.FileRef{}, fmt.Errorf("%w: %q is %s", ErrUnsupportedType, label, contentType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	name := fmt.Sprintf("%02d_%s%s", len(b.files), safeName(label), extensions[contentType])
	path := filepath.Join(b.Dir, name)
	if err := writeFile(path, data); err != nil {
		return trade.FileRef{}, err
	}

	ref := trade.FileRef{
		Timeframe:   label,
		Path:        path,
		Size:        int64(len(data)),
		ContentType: contentType,
	}
	b.files = append(b.files, ref)
	return ref, nil
}

// Files returns the refs saved so far
func (b *Batch) Files() []trade.FileRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]trade.FileRef(nil), b.files...)
}

// Commit marks the batch as referenced by a stored record. Uncommitted
// batches are removed by Sweep once they are old enough.
func (b *Batch) Commit() error {
	return writeFile(filepath.Join(b.Dir, committedMarker), []byte(b.store.now().UTC().Format(time.RFC3339)))
}

// Discard removes the batch directory and everything in it
func (b *Batch) Discard() error {
	return os.RemoveAll(b.Dir)
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func (s *LocalStore) allowed(contentType string) bool {
	for _, t := range s.config.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

func safeName(label string) string {
	name := unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "chart"
	}
	if len(name) > 32 {
		name = name[:32]
	}
	return name
}

// resolve checks that path is inside the upload root
func (s *LocalStore) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.base, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, path)
	}
	return abs, nil
}

// ReadFile reads a stored upload
func (s *LocalStore) ReadFile(path string) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Remove deletes the given files and any batch directory left empty
func (s *LocalStore) Remove(refs ...trade.FileRef) error {
	var errs []error
	dirs := make(map[string]struct{})
	for _, ref := range refs {
		abs, err := s.resolve(ref.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if dir == s.base {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 || (len(entries) == 1 && entries[0].Name() == committedMarker) {
			os.RemoveAll(dir)
		}
	}
	if len(errs) > 0 {
		s.logger.Warn().Int("failed", len(errs)).Msg("Some uploads could not be removed")
	}
	return errors.Join(errs...)
}

// Sweep removes uncommitted batches older than OrphanAge and returns how
// many were removed
func (s *LocalStore) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return 0, fmt.Errorf("list upload dir: %w", err)
	}
	cutoff := s.now().Add(-s.config.OrphanAge)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(s.base, e.Name())
		if _, err := os.Stat(filepath.Join(dir, committedMarker)); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("batch", e.Name()).Msg("Failed to remove orphaned batch")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("batches", removed).Msg("Orphaned uploads swept")
	}
	return removed, nil
}
