package archive

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/stablestate/blobstore"
	"github.com/hupe1980/stablestate/internal/hash"
	"github.com/hupe1980/stablestate/internal/resource"
	"github.com/hupe1980/stablestate/memory"
)

// DefaultChunkSize is the raw size of an archive chunk.
const DefaultChunkSize = 1 << 20

var (
	// ErrNoArchive is returned when the store holds no archive.
	ErrNoArchive = errors.New("archive: no archive")
	// ErrCorrupt marks manifests and chunks that fail to decode or verify.
	ErrCorrupt = errors.New("archive: corrupt")
)

// Archiver saves memory images to a blob store and restores them.
type Archiver struct {
	store       blobstore.BlobStore
	compression Compression
	chunkSize   int
	rc          *resource.Controller
	logger      *slog.Logger
	now         func() time.Time

	mu sync.Mutex
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCompression sets the chunk codec. Defaults to CompressionNone.
func WithCompression(c Compression) Option {
	return func(a *Archiver) { a.compression = c }
}

// WithChunkSize sets the raw chunk size. It is rounded up to whole pages.
func WithChunkSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.chunkSize = (n + memory.PageSize - 1) / memory.PageSize * memory.PageSize
		}
	}
}

// WithResourceController bounds concurrent transfers and throughput.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Archiver) { a.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the manifest timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New creates an Archiver writing to store.
func New(store blobstore.BlobStore, opts ...Option) *Archiver {
	a := &Archiver{
		store:     store,
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Save uploads the current image of mem as a new archive and points CURRENT at it.
func (a *Archiver) Save(ctx context.Context, mem memory.Memory) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	img, err := memory.Image(mem)
	if err != nil {
		return nil, err
	}

	ids, err := a.ids(ctx)
	if err != nil {
		return nil, err
	}
	var id uint64 = 1
	if len(ids) > 0 {
		id = ids[len(ids)-1] + 1
	}

	m := &Manifest{
		ID:          id,
		CreatedAt:   a.now(),
		ImageSize:   uint64(len(img)),
		ChunkSize:   uint32(a.chunkSize),
		Compression: a.compression,
		Checksum:    hash.CRC32C(img),
	}
	for off := 0; off < len(img); off += a.chunkSize {
		end := min(off+a.chunkSize, len(img))
		m.Chunks = append(m.Chunks, Chunk{Offset: uint64(off), RawSize: uint32(end - off)})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.rc.MaxTransfers())
	for i := range m.Chunks {
		c := &m.Chunks[i]
		raw := img[c.Offset : c.Offset+uint64(c.RawSize)]
		c.Checksum = hash.CRC32C(raw)
		if allZero(raw) {
			continue
		}
		c.Name = chunkName(id, i)
		g.Go(func() error {
			return a.putChunk(gctx, c, raw)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "archive %d", id)
	}

	data, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, ManifestName(id), data); err != nil {
		return nil, errors.Wrapf(err, "write manifest %d", id)
	}
	if err := a.store.Put(ctx, CurrentName, []byte(ManifestName(id))); err != nil {
		return nil, errors.Wrap(err, "update CURRENT")
	}

	a.logger.InfoContext(ctx, "archive saved",
		slog.Uint64("id", id),
		slog.Uint64("image_bytes", m.ImageSize),
		slog.Uint64("stored_bytes", m.StoredBytes()),
		slog.Int("chunks", len(m.Chunks)),
		slog.String("compression", m.Compression.String()),
	)
	return m, nil
}

func (a *Archiver) putChunk(ctx context.Context, c *Chunk, raw []byte) error {
	if err := a.rc.AcquireTransfer(ctx); err != nil {
		return err
	}
	defer a.rc.ReleaseTransfer()

	stored, codec, err := compress(raw, a.compression)
	if err != nil {
		return err
	}
	c.StoredSize = uint32(len(stored))
	c.Compression = codec

	if err := a.rc.AcquireIO(ctx, len(stored)); err != nil {
		return err
	}
	if err := a.store.Put(ctx, c.Name, stored); err != nil {
		return errors.Wrapf(err, "put chunk %s", c.Name)
	}
	return nil
}

// Load reads the manifest of archive id, or of the latest archive when id is 0.
func (a *Archiver) Load(ctx context.Context, id uint64) (*Manifest, error) {
	name := ManifestName(id)
	if id == 0 {
		current, err := blobstore.Get(ctx, a.store, CurrentName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNoArchive
			}
			return nil, errors.Wrap(err, "read CURRENT")
		}
		name = string(current)
	}

	data, err := blobstore.Get(ctx, a.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, errors.Wrapf(ErrNoArchive, "%s", name)
		}
		return nil, errors.Wrapf(err, "read %s", name)
	}
	m, err := UnmarshalManifest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return m, nil
}

// Restore replaces the contents of mem with archive id (0 means latest).
// mem is only written once every chunk has been fetched and verified.
func (a *Archiver) Restore(ctx context.Context, mem memory.Memory, id uint64) (*Manifest, error) {
	m, err := a.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	img := make([]byte, m.ImageSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.rc.MaxTransfers())
	for i := range m.Chunks {
		c := m.Chunks[i]
		if c.Zero() {
			continue
		}
		g.Go(func() error {
			return a.getChunk(gctx, c, img[c.Offset:c.Offset+uint64(c.RawSize)])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "restore archive %d", m.ID)
	}

	if sum := hash.CRC32C(img); sum != m.Checksum {
		return nil, errors.Wrapf(ErrCorrupt, "image checksum %08x, want %08x", sum, m.Checksum)
	}

	if err := memory.Restore(mem, img); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "archive restored",
		slog.Uint64("id", m.ID),
		slog.Uint64("image_bytes", m.ImageSize),
	)
	return m, nil
}

func (a *Archiver) getChunk(ctx context.Context, c Chunk, dst []byte) error {
	if err := a.rc.AcquireTransfer(ctx); err != nil {
		return err
	}
	defer a.rc.ReleaseTransfer()

	if err := a.rc.AcquireIO(ctx, int(c.StoredSize)); err != nil {
		return err
	}
	stored, err := blobstore.Get(ctx, a.store, c.Name)
	if err != nil {
		return errors.Wrapf(err, "get chunk %s", c.Name)
	}
	if len(stored) != int(c.StoredSize) {
		return errors.Wrapf(ErrCorrupt, "chunk %s has %d bytes, want %d", c.Name, len(stored), c.StoredSize)
	}
	raw, err := decompress(stored, c.Compression, int(c.RawSize))
	if err != nil {
		return errors.Wrapf(err, "chunk %s", c.Name)
	}
	if sum := hash.CRC32C(raw); sum != c.Checksum {
		return errors.Wrapf(ErrCorrupt, "chunk %s checksum %08x, want %08x", c.Name, sum, c.Checksum)
	}
	copy(dst, raw)
	return nil
}

// List returns the readable archives ordered by id. Unreadable manifests are
// skipped and logged.
func (a *Archiver) List(ctx context.Context) ([]*Manifest, error) {
	ids, err := a.ids(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := a.Load(ctx, id)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping unreadable archive",
				slog.Uint64("id", id), slog.Any("error", err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Prune deletes all but the newest keep archives and returns the deleted ids.
// The archive CURRENT points at is never deleted.
func (a *Archiver) Prune(ctx context.Context, keep int) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if keep < 1 {
		keep = 1
	}
	ids, err := a.ids(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) <= keep {
		return nil, nil
	}

	var current uint64
	if data, err := blobstore.Get(ctx, a.store, CurrentName); err == nil {
		current, _ = parseManifestName(string(data))
	}

	var deleted []uint64
	for _, id := range ids[:len(ids)-keep] {
		if id == current {
			continue
		}
		chunks, err := a.store.List(ctx, chunkPrefix(id))
		if err != nil {
			return deleted, err
		}
		// The manifest goes first so a partial prune never leaves a manifest
		// whose chunks are missing.
		if err := a.store.Delete(ctx, ManifestName(id)); err != nil {
			return deleted, errors.Wrapf(err, "delete manifest %d", id)
		}
		for _, name := range chunks {
			if err := a.store.Delete(ctx, name); err != nil {
				return deleted, errors.Wrapf(err, "delete chunk %s", name)
			}
		}
		deleted = append(deleted, id)
	}
	if len(deleted) > 0 {
		a.logger.InfoContext(ctx, "archives pruned", slog.Int("deleted", len(deleted)), slog.Int("kept", keep))
	}
	return deleted, nil
}

// ids lists the archive ids present in the store in ascending order.
func (a *Archiver) ids(ctx context.Context) ([]uint64, error) {
	names, err := a.store.List(ctx, manifestPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list archives")
	}
	ids := make([]uint64, 0, len(names))
	for _, n := range names {
		if id, ok := parseManifestName(n); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
