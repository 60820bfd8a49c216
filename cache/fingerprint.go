package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/autoglean/types"
)

const (
	FingerprintContent = "content"
	FingerprintProxy   = "proxy"

	keyPrefix = "ag1:"
)

// FileSource is the file being fingerprinted. Open may be called more than
// once; each call returns a fresh reader from the start of the file.
type FileSource interface {
	Name() string
	Size() int64
	ModTime() time.Time
	Open() (io.ReadCloser, error)
}

// Fingerprinter derives cache keys from a file, an extractor UUID and the
// extractor's version token.
//
// In content mode the file bytes are hashed. In proxy mode only name, size and
// modification time are used: no file read is needed, but two distinct files
// sharing those three attributes map to the same key and produce a false hit.
type Fingerprinter struct {
	mode string
}

func NewFingerprinter(mode string) (*Fingerprinter, error) {
	switch mode {
	case "", FingerprintContent:
		return &Fingerprinter{mode: FingerprintContent}, nil
	case FingerprintProxy:
		return &Fingerprinter{mode: FingerprintProxy}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidParameter, "fingerprint mode: %s", mode)
	}
}

func (f *Fingerprinter) Mode() string {
	return f.mode
}

func (f *Fingerprinter) Fingerprint(ctx context.Context, file FileSource, extractorID, version string) (string, error) {
	if file == nil {
		return "", types.Errorf(types.ErrInvalidParameter, "file source is nil")
	}

	id, err := uuid.Parse(extractorID)
	if err != nil {
		return "", types.Errorf(types.ErrInvalidParameter, "extractor id %q is not a uuid", extractorID)
	}

	h := newHash()
	writeField(h, []byte(f.mode))

	switch f.mode {
	case FingerprintProxy:
		writeField(h, []byte(file.Name()))
		writeField(h, []byte(strconv.FormatInt(file.Size(), 10)))
		writeField(h, []byte(strconv.FormatInt(file.ModTime().UnixNano(), 10)))
	default:
		digest, err := contentDigest(ctx, file)
		if err != nil {
			return "", err
		}
		writeField(h, digest)
	}

	writeField(h, []byte(id.String()))
	writeField(h, []byte(version))

	return keyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

func contentDigest(ctx context.Context, file FileSource) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, types.Wrap(types.ErrFileRead, err)
	}
	defer rc.Close()

	h := newHash()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: rc}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.Wrap(types.ErrFileRead, err)
	}

	return h.Sum(nil), nil
}

func newHash() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

func writeField(h hash.Hash, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	_, _ = h.Write(length[:])
	_, _ = h.Write(field)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// LocalFile is a FileSource backed by a path on disk.
type LocalFile struct {
	path string
	info os.FileInfo
}

func OpenLocalFile(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.Wrap(types.ErrFileRead, err)
	}
	if info.IsDir() {
		return nil, types.Errorf(types.ErrFileRead, "%s is a directory", path)
	}
	return &LocalFile{path: path, info: info}, nil
}

func (l *LocalFile) Name() string       { return filepath.Base(l.path) }
func (l *LocalFile) Path() string       { return l.path }
func (l *LocalFile) Size() int64        { return l.info.Size() }
func (l *LocalFile) ModTime() time.Time { return l.info.ModTime() }

func (l *LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(l.path)
}

// MemoryFile is an in-memory FileSource.
type MemoryFile struct {
	FileName string
	Data     []byte
	Modified time.Time
}

func (m *MemoryFile) Name() string       { return m.FileName }
func (m *MemoryFile) Size() int64        { return int64(len(m.Data)) }
func (m *MemoryFile) ModTime() time.Time { return m.Modified }

func (m *MemoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}
