package biometric

import (
	"context"
	"encoding/binary"
	"math/rand"

	"golang.org/x/crypto/sha3"

	"anchorid/internal/biometric/hashing"
	"anchorid/pkg/domainerrors"
)

// Embedder turns a raw biometric sample into a feature vector plus a liveness
// score in [0,1]. Production deployments back this with the external capture
// pipeline; the engine never interprets sample bytes itself.
type Embedder interface {
	Embed(ctx context.Context, sample []byte) (hashing.FeatureVector, float64, error)
}

const embeddingDims = 128

// DigestEmbedder is a deterministic stand-in for the external embedding
// service. The vector is derived from a digest of the sample, so the same
// bytes always embed identically and different bytes embed to unrelated
// vectors. Liveness is reported as 1.0 because no capture pipeline is present
// to assess it.
type DigestEmbedder struct{}

// NewDigestEmbedder creates the deterministic embedder.
func NewDigestEmbedder() *DigestEmbedder {
	return &DigestEmbedder{}
}

func (e *DigestEmbedder) Embed(_ context.Context, sample []byte) (hashing.FeatureVector, float64, error) {
	if len(sample) == 0 {
		return nil, 0, domainerrors.New(domainerrors.CodeInvalidArgument, "empty biometric sample")
	}

	sum := sha3.Sum256(sample)
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	vec := make(hashing.FeatureVector, embeddingDims)
	for i := range vec {
		vec[i] = rng.NormFloat64()
	}
	return vec, 1.0, nil
}
