// Package temporal scores how similar two users' editing rhythms are.
//
// Each user carries two fixed-length frequency vectors: edits per
// day-of-week (length 7, 0 = Sunday) and edits per hour-of-day (length 24).
// Similarity between two vectors is plain cosine similarity, mapped to a
// qualitative label for API consumers.
package temporal

import "math"

// Vector lengths
const (
	DayBuckets  = 7
	HourBuckets = 24
)

// Vectors holds a user's day-of-week and hour-of-day edit counts.
// The zero value is a valid "no edits observed" entry, so callers never
// need a nil check before scoring.
type Vectors struct {
	Day  [DayBuckets]float64
	Hour [HourBuckets]float64
}

// Overlap is a similarity score with its qualitative label.
type Overlap struct {
	CosSim float64 `json:"cos-sim"`
	Level  string  `json:"level"`
}

// CosineSimilarity calculates cosine similarity between two equal-length
// vectors. A zero vector on either side yields 0, not NaN.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		dotProd += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Label maps a cosine similarity score to a qualitative level.
// Thresholds were chosen by inspecting examples and judging how similar
// they seemed.
func Label(score float64) string {
	switch {
	case score == 1:
		return "Same"
	case score > 0.8:
		return "High"
	case score > 0.5:
		return "Medium"
	case score > 0:
		return "Low"
	default:
		return "No overlap"
	}
}

// DayOverlap scores two users' day-of-week vectors.
func DayOverlap(a, b *Vectors) Overlap {
	cs := CosineSimilarity(a.Day[:], b.Day[:])
	return Overlap{CosSim: cs, Level: Label(cs)}
}

// HourOverlap scores two users' hour-of-day vectors.
func HourOverlap(a, b *Vectors) Overlap {
	cs := CosineSimilarity(a.Hour[:], b.Hour[:])
	return Overlap{CosSim: cs, Level: Label(cs)}
}

// Smear increments the vectors for an edit at the given day-of-week and
// hour, spreading credit across every configured hour offset so near-miss
// temporal overlap still counts. An offset that rolls past midnight moves
// the day forward or back accordingly.
func (v *Vectors) Smear(day, hour, numEdits int, offsets []int) {
	for _, offset := range offsets {
		h := hour + offset // -1 to 24 with the default offsets
		d := (day + floorDiv(h, HourBuckets)) % DayBuckets
		if d < 0 {
			d += DayBuckets
		}
		h = ((h % HourBuckets) + HourBuckets) % HourBuckets
		v.Day[d] += float64(numEdits)
		v.Hour[h] += float64(numEdits)
	}
}

// floorDiv is integer division rounding toward negative infinity, so an
// hour of -1 lands on the previous day.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
