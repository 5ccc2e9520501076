// Package provenance verifies content provenance markers: the raw content
// hash and any zero-width watermark embedded in the text. Results are
// purely additive to an assessment and never affect the composite score.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Verification is the provenance block attached to each assessment.
type Verification struct {
	WatermarkPresent bool     `json:"watermark_present"`
	WatermarkHash    string   `json:"watermark_hash,omitempty"`
	SignatureValid   bool     `json:"signature_valid"`
	ValidationNotes  []string `json:"validation_notes,omitempty"`
	ContentHash      string   `json:"content_hash"`
}

// Zero-width code points used by text watermarking schemes (and by
// obfuscation attacks, which is why presence alone does not validate).
var zeroWidthRunes = []rune{'\u200b', '\u200c', '\u200d', '\u2060', '\ufeff'}

// minWatermarkRunes is the shortest zero-width sequence treated as a
// deliberate watermark rather than copy-paste debris.
const minWatermarkRunes = 8

// Verify inspects the text for an embedded zero-width watermark and
// computes the raw content hash. A sequence long enough to carry a payload
// is reported with the hash of its bit pattern; shorter stray zero-width
// characters are noted but not treated as a watermark.
func Verify(text string) *Verification {
	v := &Verification{
		ContentHash: contentHash(text),
	}

	var payload strings.Builder
	count := 0
	for _, r := range text {
		if isZeroWidth(r) {
			payload.WriteRune(r)
			count++
		}
	}

	switch {
	case count == 0:
		v.ValidationNotes = append(v.ValidationNotes, "no watermark carrier characters found")
	case count < minWatermarkRunes:
		v.ValidationNotes = append(v.ValidationNotes,
			fmt.Sprintf("%d stray zero-width characters found, below watermark length", count))
	default:
		v.WatermarkPresent = true
		sum := sha256.Sum256([]byte(payload.String()))
		v.WatermarkHash = hex.EncodeToString(sum[:])
		// Payload extraction without the issuer key only proves presence.
		v.SignatureValid = false
		v.ValidationNotes = append(v.ValidationNotes,
			fmt.Sprintf("zero-width watermark of %d carrier characters extracted; signature not verifiable offline", count))
	}

	return v
}

func isZeroWidth(r rune) bool {
	for _, zw := range zeroWidthRunes {
		if r == zw {
			return true
		}
	}
	return false
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
