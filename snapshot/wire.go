package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/chazu/cellcore/vm"
)

const (
	magic = "cellcore-snapshot"

	// Version is the envelope format written by Marshal.
	Version = 1

	// maxDecodedPayload bounds the memory a decompressed payload may use.
	maxDecodedPayload = 1 << 30
)

var (
	ErrBadMagic = errors.New("snapshot: not a cellcore snapshot")
	ErrVersion  = errors.New("snapshot: unsupported version")
	ErrChecksum = errors.New("snapshot: checksum mismatch")
)

// Options control Marshal.
type Options struct {
	Compress bool // zstd-compress the graph payload
}

// envelope is the outer record. Payload holds the CBOR graph, compressed
// when Compressed is set; Checksum covers Payload as stored.
type envelope struct {
	Magic      string `cbor:"1,keyasint"`
	Version    int    `cbor:"2,keyasint"`
	ID         []byte `cbor:"3,keyasint"`
	Created    int64  `cbor:"4,keyasint"`
	Compressed bool   `cbor:"5,keyasint,omitempty"`
	Checksum   uint64 `cbor:"6,keyasint"`
	Payload    []byte `cbor:"7,keyasint"`
}

// cborEncMode uses canonical mode for deterministic encoding.
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// Vectors are encoded as CBOR arrays and may be far longer than the
	// decoder's default limit.
	dm, err := cbor.DecOptions{MaxArrayElements: 2147483647}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm

	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedPayload))
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create zstd decoder: %v", err))
	}
}

// Marshal serializes s and records the payload checksum in s.Checksum.
func Marshal(s *Snapshot, opts Options) ([]byte, error) {
	payload, err := cborEncMode.Marshal(s.Graph)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal graph: %w", err)
	}
	raw := len(payload)
	if opts.Compress {
		payload = zstdEncoder.EncodeAll(payload, nil)
	}
	s.Checksum = xxh3.Hash(payload)

	env := envelope{
		Magic:      magic,
		Version:    Version,
		ID:         s.ID[:],
		Created:    s.Created.UnixNano(),
		Compressed: opts.Compress,
		Checksum:   s.Checksum,
		Payload:    payload,
	}
	data, err := cborEncMode.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal envelope: %w", err)
	}
	log.Debugf("snapshot %s: %d cells, payload %d bytes (%d stored)", s.ID, s.Cells(), raw, len(payload))
	return data, nil
}

// Unmarshal deserializes and verifies a snapshot. It does not touch any
// heap; call Restore to rebuild the cells.
func Unmarshal(data []byte) (*Snapshot, error) {
	var env envelope
	if err := cborDecMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal envelope: %w", err)
	}
	if env.Magic != magic {
		return nil, ErrBadMagic
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	if sum := xxh3.Hash(env.Payload); sum != env.Checksum {
		return nil, fmt.Errorf("%w: stored %016x, computed %016x", ErrChecksum, env.Checksum, sum)
	}
	id, err := uuid.FromBytes(env.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: bad id: %w", err)
	}

	payload := env.Payload
	if env.Compressed {
		if payload, err = zstdDecoder.DecodeAll(payload, nil); err != nil {
			return nil, fmt.Errorf("snapshot: decompress: %w", err)
		}
	}

	var g vm.Graph
	if err := cborDecMode.Unmarshal(payload, &g); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal graph: %w", err)
	}
	return &Snapshot{
		ID:       id,
		Created:  time.Unix(0, env.Created).UTC(),
		Checksum: env.Checksum,
		Graph:    &g,
	}, nil
}
