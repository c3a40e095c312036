// Package merge implements three-way merging: line-level text merge with
// conflict markers and tree-level merge of inventories, contents, and
// attributes, synthesizing typed conflicts where the sides disagree.
package merge

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Default conflict marker labels.
const (
	// MarkerThis labels the working tree's side of a conflict region.
	MarkerThis = "TREE"
	// MarkerOther labels the merge source's side of a conflict region.
	MarkerOther = "MERGE-SOURCE"
)

// RegionKind classifies a merge region.
type RegionKind uint8

const (
	// RegionUnchanged covers lines identical in all three texts.
	RegionUnchanged RegionKind = iota
	// RegionA covers lines changed only on the A side.
	RegionA
	// RegionB covers lines changed only on the B side.
	RegionB
	// RegionSame covers lines changed identically on both sides.
	RegionSame
	// RegionConflict covers lines changed differently on each side.
	RegionConflict
)

// Region is a contiguous slice of the merge result. Unchanged regions index
// the base text, A and Same regions index the A text, and B regions index the
// B text. Conflict regions carry all three ranges.
type Region struct {
	// Kind classifies the region.
	Kind RegionKind
	// Start and End index the relevant text for non-conflict regions.
	Start, End int
	// BaseStart and BaseEnd index the base text for conflict regions.
	BaseStart, BaseEnd int
	// AStart and AEnd index the A text for conflict regions.
	AStart, AEnd int
	// BStart and BEnd index the B text for conflict regions.
	BStart, BEnd int
}

// Merge3 performs a three-way merge of line sequences.
type Merge3 struct {
	// base, a, and b are the three texts as lines.
	base, a, b []string
}

// splitLines splits text into lines, each retaining its newline. A final line
// without a newline is kept as is.
func splitLines(text []byte) []string {
	if len(text) == 0 {
		return nil
	}
	var lines []string
	remaining := string(text)
	for len(remaining) > 0 {
		newline := strings.IndexByte(remaining, '\n')
		if newline < 0 {
			lines = append(lines, remaining)
			break
		}
		lines = append(lines, remaining[:newline+1])
		remaining = remaining[newline+1:]
	}
	return lines
}

// NewMerge3 creates a three-way merge of the specified texts.
func NewMerge3(base, a, b []byte) *Merge3 {
	return &Merge3{
		base: splitLines(base),
		a:    splitLines(a),
		b:    splitLines(b),
	}
}

// matchingBlock is a run of identical lines at the given offsets in two line
// sequences.
type matchingBlock struct {
	aIndex, bIndex, size int
}

// encodeLinesAsRunes maps each distinct line to a unique rune and encodes the
// specified line sequences as strings of those runes, so that a rune-level
// diff operates on whole lines and rune counts translate directly to line
// counts.
func encodeLinesAsRunes(a, b []string) (string, string) {
	lineRunes := make(map[string]rune)
	next := rune(1)
	encode := func(lines []string) string {
		var builder strings.Builder
		for _, line := range lines {
			encoded, ok := lineRunes[line]
			if !ok {
				// Surrogate code points are not valid in UTF-8 strings.
				if next >= 0xD800 && next <= 0xDFFF {
					next = 0xE000
				}
				encoded = next
				next++
				lineRunes[line] = encoded
			}
			builder.WriteRune(encoded)
		}
		return builder.String()
	}
	return encode(a), encode(b)
}

// matchingBlocks computes runs of identical lines between two line sequences,
// terminated by a zero-length sentinel block at the sequence ends.
func matchingBlocks(a, b []string) []matchingBlock {
	aChars, bChars := encodeLinesAsRunes(a, b)
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(aChars, bChars, false)

	var blocks []matchingBlock
	aIndex, bIndex := 0, 0
	for _, diff := range diffs {
		length := utf8.RuneCountInString(diff.Text)
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			blocks = append(blocks, matchingBlock{aIndex: aIndex, bIndex: bIndex, size: length})
			aIndex += length
			bIndex += length
		case diffmatchpatch.DiffDelete:
			aIndex += length
		case diffmatchpatch.DiffInsert:
			bIndex += length
		}
	}
	blocks = append(blocks, matchingBlock{aIndex: len(a), bIndex: len(b), size: 0})
	return blocks
}

// syncRegion is a run of lines identical in all three texts.
type syncRegion struct {
	baseStart, baseEnd int
	aStart, aEnd       int
	bStart, bEnd       int
}

// syncRegions intersects the base-to-A and base-to-B matching blocks into
// runs present in all three texts, terminated by a zero-length sentinel.
func (m *Merge3) syncRegions() []syncRegion {
	aMatches := matchingBlocks(m.base, m.a)
	bMatches := matchingBlocks(m.base, m.b)

	var regions []syncRegion
	aCursor, bCursor := 0, 0
	for aCursor < len(aMatches) && bCursor < len(bMatches) {
		aBlock := aMatches[aCursor]
		bBlock := bMatches[bCursor]

		start := aBlock.aIndex
		if bBlock.aIndex > start {
			start = bBlock.aIndex
		}
		end := aBlock.aIndex + aBlock.size
		if bBlock.aIndex+bBlock.size < end {
			end = bBlock.aIndex + bBlock.size
		}
		if end > start {
			regions = append(regions, syncRegion{
				baseStart: start,
				baseEnd:   end,
				aStart:    aBlock.bIndex + (start - aBlock.aIndex),
				aEnd:      aBlock.bIndex + (start - aBlock.aIndex) + (end - start),
				bStart:    bBlock.bIndex + (start - bBlock.aIndex),
				bEnd:      bBlock.bIndex + (start - bBlock.aIndex) + (end - start),
			})
		}

		if aBlock.aIndex+aBlock.size < bBlock.aIndex+bBlock.size {
			aCursor++
		} else {
			bCursor++
		}
	}
	regions = append(regions, syncRegion{
		baseStart: len(m.base), baseEnd: len(m.base),
		aStart: len(m.a), aEnd: len(m.a),
		bStart: len(m.b), bEnd: len(m.b),
	})
	return regions
}

// equalRange reports whether two line ranges hold identical lines.
func equalRange(a []string, aStart, aEnd int, b []string, bStart, bEnd int) bool {
	if aEnd-aStart != bEnd-bStart {
		return false
	}
	for offset := 0; offset < aEnd-aStart; offset++ {
		if a[aStart+offset] != b[bStart+offset] {
			return false
		}
	}
	return true
}

// MergeRegions computes the merged text as a sequence of regions.
func (m *Merge3) MergeRegions() []Region {
	var regions []Region
	baseCursor, aCursor, bCursor := 0, 0, 0
	for _, sync := range m.syncRegions() {
		if sync.aStart > aCursor || sync.bStart > bCursor {
			equalA := equalRange(m.a, aCursor, sync.aStart, m.base, baseCursor, sync.baseStart)
			equalB := equalRange(m.b, bCursor, sync.bStart, m.base, baseCursor, sync.baseStart)
			same := equalRange(m.a, aCursor, sync.aStart, m.b, bCursor, sync.bStart)
			if same {
				regions = append(regions, Region{Kind: RegionSame, Start: aCursor, End: sync.aStart})
			} else if equalA && !equalB {
				regions = append(regions, Region{Kind: RegionB, Start: bCursor, End: sync.bStart})
			} else if equalB && !equalA {
				regions = append(regions, Region{Kind: RegionA, Start: aCursor, End: sync.aStart})
			} else if !equalA && !equalB {
				regions = append(regions, Region{
					Kind:      RegionConflict,
					BaseStart: baseCursor, BaseEnd: sync.baseStart,
					AStart: aCursor, AEnd: sync.aStart,
					BStart: bCursor, BEnd: sync.bStart,
				})
			}
		}
		if sync.baseEnd > sync.baseStart {
			regions = append(regions, Region{Kind: RegionUnchanged, Start: sync.baseStart, End: sync.baseEnd})
		}
		baseCursor, aCursor, bCursor = sync.baseEnd, sync.aEnd, sync.bEnd
	}
	return regions
}

// MergeLines produces merged text with conflict markers labeled by the
// specified names. The second return value reports whether any conflict
// regions were emitted.
func (m *Merge3) MergeLines(nameA, nameB string) ([]byte, bool) {
	var builder strings.Builder
	conflicted := false
	for _, region := range m.MergeRegions() {
		switch region.Kind {
		case RegionUnchanged:
			for _, line := range m.base[region.Start:region.End] {
				builder.WriteString(line)
			}
		case RegionA, RegionSame:
			for _, line := range m.a[region.Start:region.End] {
				builder.WriteString(line)
			}
		case RegionB:
			for _, line := range m.b[region.Start:region.End] {
				builder.WriteString(line)
			}
		case RegionConflict:
			conflicted = true
			builder.WriteString("<<<<<<< " + nameA + "\n")
			for _, line := range m.a[region.AStart:region.AEnd] {
				builder.WriteString(line)
			}
			builder.WriteString("=======\n")
			for _, line := range m.b[region.BStart:region.BEnd] {
				builder.WriteString(line)
			}
			builder.WriteString(">>>>>>> " + nameB + "\n")
		}
	}
	return []byte(builder.String()), conflicted
}
