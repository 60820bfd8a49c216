package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/saiset-co/autoglean/types"
)

const maxPooledBuffer = 64 << 10

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Marshal encodes data with sonic. The returned slice is owned by the caller.
func Marshal(data interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	return bytes.Clone(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig converts a free-form backend config block, as decoded from
// YAML, into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	raw, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return types.Wrap(types.ErrConfigParseFailed, err)
	}

	if err := sonic.ConfigDefault.Unmarshal(raw, target); err != nil {
		return types.Wrap(types.ErrConfigParseFailed, err)
	}

	return nil
}
