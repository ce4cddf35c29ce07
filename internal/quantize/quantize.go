// Package quantize implements INT8 scalar quantization of float32 vectors:
// symmetric and asymmetric encodings, quantized-domain distance, and the
// quality metrics used to validate a quantization scheme before it is
// trusted for search. It is consumed by the hnsw package when an index is
// configured to store compressed vectors.
package quantize

import "github.com/chewxy/math32"

// Mode selects the quantization scheme.
type Mode int

const (
	// Symmetric maps [-max(|v|), max(|v|)] onto [-127, 127] with
	// zero_point fixed at 0, so the quantized dot product is a valid
	// proxy for the unscaled cosine numerator.
	Symmetric Mode = iota
	// Asymmetric maps [min(v), max(v)] onto [-128, 127], giving better
	// precision for vectors that are not zero-centered at the cost of
	// losing the zero-point-free dot-product shortcut.
	Asymmetric
)

// Vector is a quantized representation of a float32 vector: one int8 code
// per component plus the (scale, zero_point) pair needed to dequantize.
type Vector struct {
	Codes     []int8
	Scale     float32
	ZeroPoint float32
}

func clampInt8(x float32) int8 {
	switch {
	case x < -128:
		return -128
	case x > 127:
		return 127
	default:
		return int8(x)
	}
}

// Encode quantizes v under the given mode. A zero-range input (all
// components equal, or an all-zero vector) sets scale to 1 so Decode
// returns zeros rather than dividing by zero.
func Encode(v []float32, mode Mode) Vector {
	switch mode {
	case Asymmetric:
		return encodeAsymmetric(v)
	default:
		return encodeSymmetric(v)
	}
}

func encodeSymmetric(v []float32) Vector {
	var maxAbs float32
	for _, x := range v {
		if a := math32.Abs(x); a > maxAbs {
			maxAbs = a
		}
	}
	scale := maxAbs / 127
	if scale == 0 {
		scale = 1
	}
	codes := make([]int8, len(v))
	for i, x := range v {
		codes[i] = clampInt8(math32.Round(x / scale))
	}
	return Vector{Codes: codes, Scale: scale, ZeroPoint: 0}
}

func encodeAsymmetric(v []float32) Vector {
	if len(v) == 0 {
		return Vector{Scale: 1}
	}
	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	scale := (max - min) / 255
	if scale == 0 {
		scale = 1
	}
	codes := make([]int8, len(v))
	for i, x := range v {
		codes[i] = clampInt8(math32.Round((x-min)/scale) - 128)
	}
	return Vector{Codes: codes, Scale: scale, ZeroPoint: min}
}

// Decode reconstructs an approximate float32 vector from a quantized one.
// A ZeroPoint of 0 is read as symmetric and decoded as `q*s`; any other
// ZeroPoint is read as asymmetric and decoded as `(q+128)*s + z`.
func Decode(qv Vector) []float32 {
	out := make([]float32, len(qv.Codes))
	if qv.ZeroPoint == 0 {
		for i, q := range qv.Codes {
			out[i] = float32(q) * qv.Scale
		}
		return out
	}
	for i, q := range qv.Codes {
		out[i] = (float32(q)+128)*qv.Scale + qv.ZeroPoint
	}
	return out
}

// BatchEncode quantizes every vector in vs under mode, returning the
// quantized vectors alongside parallel scale and zero-point slices for
// callers that want columnar access.
func BatchEncode(vs [][]float32, mode Mode) (quantized []Vector, scales, zeroPoints []float32) {
	quantized = make([]Vector, len(vs))
	scales = make([]float32, len(vs))
	zeroPoints = make([]float32, len(vs))
	for i, v := range vs {
		qv := Encode(v, mode)
		quantized[i] = qv
		scales[i] = qv.Scale
		zeroPoints[i] = qv.ZeroPoint
	}
	return quantized, scales, zeroPoints
}

// Distance computes a cosine-style distance between two quantized
// vectors. When both are symmetric (zero_point 0 on each side) the dot
// product is accumulated in a 32-bit integer accumulator and scaled once
// at the end, avoiding a full dequantization pass. Mixed or asymmetric
// pairs fall back to dequantize-then-float.
func Distance(a, b Vector) float32 {
	if a.ZeroPoint == 0 && b.ZeroPoint == 0 {
		var acc int32
		n := len(a.Codes)
		for i := 0; i < n; i++ {
			acc += int32(a.Codes[i]) * int32(b.Codes[i])
		}
		dot := float32(acc) * a.Scale * b.Scale
		d := 1 - dot
		switch {
		case d < 0:
			return 0
		case d > 2:
			return 2
		default:
			return d
		}
	}

	da := Decode(a)
	db := Decode(b)
	var dot float32
	for i := range da {
		dot += da[i] * db[i]
	}
	d := 1 - dot
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	default:
		return d
	}
}

// DistanceToQuery computes the distance between a quantized vector and a
// raw float32 query, used by HNSW's quantized-graph traversal, where the
// query itself is never quantized.
func DistanceToQuery(q Vector, query []float32) float32 {
	decoded := Decode(q)
	var dot float32
	for i := range decoded {
		dot += decoded[i] * query[i]
	}
	d := 1 - dot
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	default:
		return d
	}
}

// QualityReport captures how much information a quantization scheme
// discarded relative to the original float32 vector.
type QualityReport struct {
	MSE         float32
	MAE         float32
	MaxAbsError float32
	SQNR        float32 // dB; higher is better
}

// Quality compares original against its quantized-then-decoded
// reconstruction. Quantization never fails: a zero-input vector yields a
// well-defined, zero-valued report rather than NaN or an error.
func Quality(original []float32, reconstructed []float32) QualityReport {
	n := len(original)
	if n == 0 {
		return QualityReport{}
	}

	var sumSq, sumAbs, signalPower float32
	var maxAbs float32
	for i := 0; i < n; i++ {
		err := original[i] - reconstructed[i]
		abs := math32.Abs(err)
		sumSq += err * err
		sumAbs += abs
		if abs > maxAbs {
			maxAbs = abs
		}
		signalPower += original[i] * original[i]
	}

	mse := sumSq / float32(n)
	mae := sumAbs / float32(n)
	signalPower /= float32(n)
	noisePower := mse

	var sqnr float32
	switch {
	case noisePower == 0:
		sqnr = 0
	case signalPower == 0:
		sqnr = 0
	default:
		sqnr = 10 * math32.Log10(signalPower/noisePower)
	}

	return QualityReport{MSE: mse, MAE: mae, MaxAbsError: maxAbs, SQNR: sqnr}
}
