package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatV1 identifies the artifact envelope schema.
const FormatV1 = "citycast.artifact/v1"

// maxArtifactSize bounds how much of an artifact object is read (64 MiB).
const maxArtifactSize = 64 << 20

// zstdMagic is the zstd frame magic number. Envelopes starting with it are
// decompressed before decoding.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Kind selects the concrete artifact implementation inside an envelope.
type Kind string

const (
	KindLinear   Kind = "linear"
	KindKNN      Kind = "knn"
	KindMinMax   Kind = "minmax"
	KindStandard Kind = "standard"
)

// Artifact is implemented by every concrete regressor and scaler.
type Artifact interface {
	Kind() Kind
	validate() error
}

// envelope is the serialized form of an artifact.
type envelope struct {
	Format    string          `json:"format"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
	Params    json.RawMessage `json:"params"`
}

// decoderPool provides reusable zstd decoders to avoid repeated allocations.
var decoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			// This should never fail with nil input and default options.
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	},
}

// Encode writes a as an envelope. When compress is true the JSON is wrapped
// in a zstd frame.
func Encode(w io.Writer, a Artifact, compress bool) error {
	if err := a.validate(); err != nil {
		return fmt.Errorf("invalid %s artifact: %w", a.Kind(), err)
	}
	params, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling %s params: %w", a.Kind(), err)
	}
	body, err := json.Marshal(envelope{
		Format:    FormatV1,
		Kind:      a.Kind(),
		CreatedAt: time.Now().UTC(),
		Params:    params,
	})
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	if !compress {
		_, err = w.Write(body)
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := enc.Write(body); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compressing envelope: %w", err)
	}
	return enc.Close()
}

// DecodeRegressor reads a regressor envelope.
func DecodeRegressor(r io.Reader) (Regressor, error) {
	env, err := readEnvelope(r)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindLinear:
		var m LinearRegressor
		if err := decodeParams(env, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case KindKNN:
		var m KNNRegressor
		if err := decodeParams(env, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: kind %q is not a regressor", ErrCorrupt, env.Kind)
	}
}

// DecodeScaler reads a scaler envelope.
func DecodeScaler(r io.Reader) (Scaler, error) {
	env, err := readEnvelope(r)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindMinMax:
		var s MinMaxScaler
		if err := decodeParams(env, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case KindStandard:
		var s StandardScaler
		if err := decodeParams(env, &s); err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: kind %q is not a scaler", ErrCorrupt, env.Kind)
	}
}

func readEnvelope(r io.Reader) (*envelope, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	if len(raw) > maxArtifactSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrCorrupt, maxArtifactSize)
	}

	if bytes.HasPrefix(raw, zstdMagic) {
		dec := decoderPool.Get().(*zstd.Decoder)
		raw, err = dec.DecodeAll(raw, nil)
		decoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Format != FormatV1 {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrCorrupt, env.Format)
	}
	return &env, nil
}

func decodeParams(env *envelope, dst Artifact) error {
	if len(env.Params) == 0 {
		return fmt.Errorf("%w: %s artifact has no params", ErrCorrupt, env.Kind)
	}
	if err := json.Unmarshal(env.Params, dst); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrCorrupt, env.Kind, err)
	}
	if err := dst.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, env.Kind, err)
	}
	return nil
}
