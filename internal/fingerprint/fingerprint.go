package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Calculator computes record fingerprints.
type Calculator interface {
	Of(rec detloader.DetectionRecord) string
}

// SHA256 implements Calculator using SHA-256 over a field-separated canonical form.
// It is a zero-size type; pass by value.
type SHA256 struct{}

// New creates a new SHA-256 based calculator.
func New() SHA256 {
	return SHA256{}
}

// fieldSep cannot appear in a normalised class or a formatted number.
const fieldSep = '\x1f'

// Of returns the fingerprint of rec.
func (c SHA256) Of(rec detloader.DetectionRecord) string {
	return hex.EncodeToString(c.sum(Canonical(rec)))
}

func (c SHA256) sum(canonical string) []byte {
	h := sha256.Sum256([]byte(canonical))
	return h[:]
}

// Canonical returns the exact byte string that is hashed for rec.
func Canonical(rec detloader.DetectionRecord) string {
	var b strings.Builder
	b.Grow(64 + len(rec.SourceFile) + len(rec.ObjectClass))

	b.WriteString(string(rec.SourceType))
	b.WriteByte(fieldSep)
	b.WriteString(rec.SourceFile)
	b.WriteByte(fieldSep)
	b.WriteString(framePosition(rec))
	b.WriteByte(fieldSep)
	b.WriteString(NormalizeClass(rec.ObjectClass))
	for _, v := range []float64{rec.BBox.X1, rec.BBox.Y1, rec.BBox.X2, rec.BBox.Y2} {
		b.WriteByte(fieldSep)
		b.WriteString(formatCoord(v))
	}
	return b.String()
}

// framePosition prefers the frame index; a missing index falls back to the
// timestamp so that timestamp-only video rows still get distinct identities.
func framePosition(rec detloader.DetectionRecord) string {
	if rec.FrameIndex >= 0 {
		return "f" + strconv.FormatInt(rec.FrameIndex, 10)
	}
	ms := int64(math.Round(rec.FrameTimestamp * 1000))
	return "t" + strconv.FormatInt(ms, 10)
}

// formatCoord rounds to 2 decimals. -0 and 0 format identically.
func formatCoord(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', 2, 64)
}

// NormalizeClass lowercases a class label, trims it and collapses internal
// whitespace runs to a single space.
func NormalizeClass(class string) string {
	var b strings.Builder
	b.Grow(len(class))

	lastWasSpace := false
	for _, r := range class {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			b.WriteRune(unicode.ToLower(r))
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}
