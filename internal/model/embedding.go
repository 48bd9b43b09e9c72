package model

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrVersionMismatch is returned when two vectors produced by different model versions are compared.
var ErrVersionMismatch = errors.New("embedding model version mismatch")

// ErrDimensionMismatch is returned when two vectors of the same version differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Vector is a dense float32 vector. It is stored as little-endian float32 bytes.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf, nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("vector: unsupported scan type %T", src)
	}
	if len(b)%4 != 0 {
		return fmt.Errorf("vector: byte length %d is not a multiple of 4", len(b))
	}
	out := make(Vector, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	*v = out
	return nil
}

// Embedding is an L2-normalized vector tagged with the model version that produced it.
type Embedding struct {
	Values       Vector `gorm:"type:mediumblob" json:"values"`
	ModelVersion string `gorm:"type:varchar(100);index" json:"model_version"`
}

// IsZero reports whether the embedding carries no vector.
func (e Embedding) IsZero() bool {
	return len(e.Values) == 0
}

// Dot returns the cosine similarity of two normalized embeddings.
func (e Embedding) Dot(other Embedding) (float64, error) {
	if e.ModelVersion != other.ModelVersion {
		return 0, fmt.Errorf("%w: %q vs %q", ErrVersionMismatch, e.ModelVersion, other.ModelVersion)
	}
	if len(e.Values) != len(other.Values) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(e.Values), len(other.Values))
	}
	return Dot(e.Values, other.Values), nil
}

// Clone returns a deep copy so callers can hand the embedding to concurrent readers.
func (e Embedding) Clone() Embedding {
	values := make(Vector, len(e.Values))
	copy(values, e.Values)
	return Embedding{Values: values, ModelVersion: e.ModelVersion}
}

// Dot is the plain dot product; both vectors must have the same length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// NormalizeL2 scales the vector to unit length in place. Zero vectors are left unchanged.
func NormalizeL2(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// Mean averages the given vectors and re-normalizes the result. All inputs must share a version.
func Mean(embeddings []Embedding) (Embedding, error) {
	if len(embeddings) == 0 {
		return Embedding{}, errors.New("mean of zero embeddings")
	}
	version := embeddings[0].ModelVersion
	dims := len(embeddings[0].Values)
	acc := make([]float64, dims)
	for _, e := range embeddings {
		if e.ModelVersion != version {
			return Embedding{}, fmt.Errorf("%w: %q vs %q", ErrVersionMismatch, version, e.ModelVersion)
		}
		if len(e.Values) != dims {
			return Embedding{}, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, dims, len(e.Values))
		}
		for i, v := range e.Values {
			acc[i] += float64(v)
		}
	}
	out := make(Vector, dims)
	n := float64(len(embeddings))
	for i := range acc {
		out[i] = float32(acc[i] / n)
	}
	NormalizeL2(out)
	return Embedding{Values: out, ModelVersion: version}, nil
}
