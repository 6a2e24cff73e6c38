package reasoner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"precedent/internal/intent"
	"precedent/internal/types"
)

// Fingerprint derives the cache identity of a profile. Two queries that
// clean to the same text with the same hooks, polarity, court hint, and date
// window share a plan.
func Fingerprint(p *intent.Profile) string {
	var b strings.Builder
	b.WriteString(p.Cleaned)
	b.WriteByte('|')
	b.WriteString(string(p.Polarity))
	b.WriteByte('|')
	b.WriteString(string(p.CourtHint))
	b.WriteByte('|')
	b.WriteString(p.DateWindow.FromDate)
	b.WriteByte('-')
	b.WriteString(p.DateWindow.ToDate)
	for _, h := range p.Hooks {
		b.WriteByte('|')
		b.WriteString(h.ID)
	}
	for _, issue := range p.Issues {
		b.WriteByte('|')
		b.WriteString(issue)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:24]
}

// Pass2Seed condenses the first retrieval round into a short stable token so
// a refined plan is cached per observed outcome, not per request.
func Pass2Seed(attempts []types.Attempt) string {
	if len(attempts) == 0 {
		return "cold"
	}
	var b strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&b, "%s:%s:%d;", a.Phase, a.Status, a.ParsedCount)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:12]
}
