package cache

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

const (
	codecPlain  byte = 'j'
	codecBrotli byte = 'b'
)

// EntryCodec serialises cache entries. Every payload starts with one byte
// naming its encoding so a store written with compression on stays readable
// after it is turned off.
type EntryCodec struct {
	compress bool
	level    int
}

func NewEntryCodec(compress bool) *EntryCodec {
	return &EntryCodec{compress: compress, level: brotli.DefaultCompression}
}

func (c *EntryCodec) Encode(entry *types.CacheEntry) ([]byte, error) {
	raw, err := utils.Marshal(entry)
	if err != nil {
		return nil, types.Wrap(types.ErrCacheReadWrite, err)
	}

	if !c.compress {
		return append([]byte{codecPlain}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(codecBrotli)

	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(raw); err != nil {
		return nil, types.Wrap(types.ErrCacheReadWrite, err)
	}
	if err := w.Close(); err != nil {
		return nil, types.Wrap(types.ErrCacheReadWrite, err)
	}

	return buf.Bytes(), nil
}

func (c *EntryCodec) Decode(data []byte) (*types.CacheEntry, error) {
	if len(data) < 2 {
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "payload too short")
	}

	var raw []byte
	switch data[0] {
	case codecPlain:
		raw = data[1:]
	case codecBrotli:
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data[1:])))
		if err != nil {
			return nil, types.Wrap(types.ErrCacheEntryCorrupted, err)
		}
		raw = decoded
	default:
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "unknown codec %q", data[0])
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal(raw, &entry); err != nil {
		return nil, types.Wrap(types.ErrCacheEntryCorrupted, err)
	}

	if entry.Key == "" {
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "entry without key")
	}

	return &entry, nil
}
