package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

var bufferPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

var ErrChainBroken = errors.New("snapshot hash chain broken")

// --- Compression ---

func Compress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(buf)
	buf.Reset()

	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Return strictly sized slice
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func Decompress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(buf)
	buf.Reset()

	r := lz4.NewReader(bytes.NewReader(src))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// --- Hashing ---

func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ChainHash links a compressed blob to the hash of the snapshot before it.
func ChainHash(blob []byte, prevHash string) string {
	h := blake3.New(32, nil)
	h.Write(blob)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks a blob against the hash recorded for it.
func VerifyChain(blob []byte, prevHash, finalHash string) error {
	if ChainHash(blob, prevHash) != finalHash {
		return ErrChainBroken
	}
	return nil
}
