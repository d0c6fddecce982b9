package embed

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultDimension matches the 384-wide vectors of small sentence models.
	DefaultDimension = 384
	// HashingModel is the model name reported by Hashing.
	HashingModel = "minihash-v1"

	trigramWeight = 0.5
)

// Hashing is a local encoder using signed feature hashing. Each text
// contributes its lower-cased words and the character trigrams of each
// word (with boundary markers), hashed with xxhash into a fixed number of
// buckets. The result is L2-normalised so cosine distance compares
// vocabulary overlap. Words are runs of Unicode letters, digits and marks,
// which keeps Bengali vowel signs inside their words.
//
// Hashing matches shared words and spellings only. Paraphrases with no
// words in common score near zero; use the ollama provider for a sentence
// model that compares meaning.
type Hashing struct {
	dim int
}

// NewHashing returns a hashing encoder. dim <= 0 selects DefaultDimension.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Dimension() int    { return h.dim }
func (h *Hashing) ModelName() string { return HashingModel }

// Encode never fails except on a cancelled context.
func (h *Hashing) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = h.encode(t)
	}
	return out, nil
}

func (h *Hashing) encode(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, w := range words(text) {
		h.add(acc, "w\x00"+w, 1)
		runes := []rune("<" + w + ">")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(acc, "c\x00"+string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, h.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (h *Hashing) add(acc []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}
