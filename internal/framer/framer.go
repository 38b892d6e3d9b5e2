// Package framer packs many text fragments into size-bounded documents for a
// single provider call and splits translated documents back into per-fragment
// results.
//
// Each fragment is rendered as a frame "<|id:text|>" and frames are
// concatenated without separators. The channel is lossy: providers may alter
// punctuation around frame boundaries, so unpacking validates every segment
// and drops those whose id did not survive.
package framer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/valpere/pagetran/internal"
)

const (
	// DefaultBoundary is the byte size a packed document must stay below.
	// It sits under the 10,000 byte synchronous request limit of Amazon
	// Translate.
	DefaultBoundary = 9000

	openMarker  = "<|"
	closeMarker = "|>"
	separator   = ":"

	// fullWidthColon is what CJK-aware providers tend to turn ":" into.
	fullWidthColon = "："
)

// ErrInvalidFrame marks a translated segment that does not have the
// "id:text" shape.
var ErrInvalidFrame = errors.New("invalid frame")

var splitRe = regexp.MustCompile(`<\||\|>`)

// Pair is one unpacked translation.
type Pair struct {
	ID   string
	Text string
}

// Frame renders one fragment as a delimited frame.
func Frame(f internal.Fragment) string {
	return openMarker + f.ID + separator + f.OriginalText + closeMarker
}

// Batches groups seq left to right so that the encoded size of every group
// stays strictly below boundary bytes. A frame that alone reaches the
// boundary is placed in a group of its own rather than split. If
// boundary ≤ 0 it is treated as unlimited.
func Batches(seq internal.Sequence, boundary int) []internal.Sequence {
	var (
		out  []internal.Sequence
		cur  internal.Sequence
		size int
	)
	for _, f := range seq {
		n := len(Frame(f))
		if len(cur) > 0 && boundary > 0 && size+n >= boundary {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, f)
		size += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Encode concatenates the frames of batch into one document.
func Encode(batch internal.Sequence) string {
	var sb strings.Builder
	for _, f := range batch {
		sb.WriteString(Frame(f))
	}
	return sb.String()
}

// Pack returns the encoded documents for seq under boundary, in order.
func Pack(seq internal.Sequence, boundary int) []string {
	batches := Batches(seq, boundary)
	docs := make([]string, 0, len(batches))
	for _, b := range batches {
		docs = append(docs, Encode(b))
	}
	return docs
}

// Unpack splits a translated document into pairs. Segments that fail
// validation are returned in dropped; they are never fatal.
func Unpack(doc string) (pairs []Pair, dropped []string) {
	for _, seg := range splitRe.Split(doc, -1) {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		p, err := ParseSegment(seg)
		if err != nil {
			dropped = append(dropped, seg)
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, dropped
}

// ParseSegment sanitizes and validates one segment and splits it at the
// first colon.
func ParseSegment(seg string) (Pair, error) {
	seg = Sanitize(seg)
	i := strings.Index(seg, separator)
	if i == -1 {
		return Pair{}, fmt.Errorf("%w: missing separator in %q", ErrInvalidFrame, seg)
	}
	id := strings.TrimSpace(seg[:i])
	if _, err := strconv.Atoi(id); err != nil {
		return Pair{}, fmt.Errorf("%w: non-numeric id in %q", ErrInvalidFrame, seg)
	}
	return Pair{ID: id, Text: seg[i+1:]}, nil
}

// Sanitize normalizes the full-width colon to an ASCII colon.
func Sanitize(seg string) string {
	return strings.ReplaceAll(seg, fullWidthColon, separator)
}

// Apply writes pairs onto the matching fragments of seq and returns the
// updated copy with the number of fragments that received a translation.
// Pairs whose id is not in seq are ignored.
func Apply(seq internal.Sequence, pairs []Pair) (internal.Sequence, int) {
	known := seq.Lookup()
	translations := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if _, ok := known[p.ID]; ok {
			translations[p.ID] = p.Text
		}
	}
	return seq.WithTranslations(translations), len(translations)
}
