// Package hashing turns biometric feature vectors into one-way template
// hashes that still support similarity comparison.
//
// A vector is reduced to 256 sign bits via deterministic random projections,
// the bits are split into 32 bands, and each band is digested independently
// with SHA3. The concatenated band digests form the template hash. Band
// digests are one-way, so the hash is not reversible to the feature vector,
// but two hashes of similar vectors agree on many bands, which yields a
// similarity score in [0,1].
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"
	"strings"

	"golang.org/x/crypto/sha3"
)

// FeatureVector is an opaque embedding produced by the external AI layer.
type FeatureVector []float64

const (
	signatureBits = 256
	bandCount     = 32
	bandBits      = signatureBits / bandCount
	bandDigestLen = 8 // hex chars per band
)

// TemplateHash derives the anchored template digest for a feature vector.
// The same vector always produces the same hash; the raw vector cannot be
// recovered from it.
func TemplateHash(vec FeatureVector) string {
	bits := projectBits(vec)

	var sb strings.Builder
	sb.Grow(bandCount * bandDigestLen)
	for band := 0; band < bandCount; band++ {
		sb.WriteString(bandDigest(band, bits[band*bandBits:(band+1)*bandBits]))
	}
	return sb.String()
}

// Similarity scores two template hashes as the fraction of agreeing bands.
// Identical vectors score 1.0; unrelated vectors score near 0. Malformed or
// differently sized hashes score 0.
func Similarity(a, b string) float64 {
	if len(a) != bandCount*bandDigestLen || len(b) != len(a) {
		return 0
	}
	matching := 0
	for band := 0; band < bandCount; band++ {
		start := band * bandDigestLen
		if a[start:start+bandDigestLen] == b[start:start+bandDigestLen] {
			matching++
		}
	}
	return float64(matching) / bandCount
}

// Matcher is the pluggable similarity contract; modalities may swap in a
// different comparison without touching the verification flow.
type Matcher func(liveHash, storedHash string) float64

// projectBits computes the sign of the vector against deterministic
// pseudo-random hyperplanes. Projection coefficients depend only on the bit
// index and component index, so hashes stay stable across processes.
func projectBits(vec FeatureVector) []bool {
	bits := make([]bool, signatureBits)
	for i := range bits {
		rng := rand.New(rand.NewSource(int64(i)*0x9E3779B9 + 0x1D))
		var dot float64
		for _, component := range vec {
			dot += component * rng.NormFloat64()
		}
		bits[i] = !math.Signbit(dot)
	}
	return bits
}

func bandDigest(band int, bits []bool) string {
	payload := make([]byte, 4+len(bits))
	binary.BigEndian.PutUint32(payload, uint32(band))
	for i, bit := range bits {
		if bit {
			payload[4+i] = 1
		}
	}
	sum := sha3.Sum256(payload)
	return hex.EncodeToString(sum[:bandDigestLen/2])
}
