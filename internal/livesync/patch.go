package livesync

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Patch text on the wire is the diff-match-patch format as browsers emit it:
// hunk offsets and lengths count UTF-16 code units. go-diff counts bytes, so
// headers are rewritten on the way in and out.

var hunkHeader = regexp.MustCompile(`^@@ -(\d+),?(\d*) \+(\d+),?(\d*) @@$`)

// newMatcher returns a diff-match-patch instance that applies hunks only
// where their context matches exactly at the expected offset.
func newMatcher() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = 0
	dmp.MatchDistance = 0
	dmp.PatchDeleteThreshold = 0
	return dmp
}

// MakePatch returns the patch text that turns before into after.
func MakePatch(before, after string) string {
	dmp := newMatcher()
	text := dmp.PatchToText(dmp.PatchMake(before, after))
	out, err := remapHunks(text, before, toUTF16)
	if err != nil {
		return text
	}
	return out
}

// Apply applies patch text to content. Either every hunk applies or content
// is returned untouched together with ErrPatchConflict.
func Apply(content, patch string) (string, error) {
	if strings.TrimSpace(patch) == "" {
		return content, nil
	}
	native, err := remapHunks(patch, content, toBytes)
	if err != nil {
		return content, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	dmp := newMatcher()
	patches, err := dmp.PatchFromText(native)
	if err != nil {
		return content, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	patched, applied := dmp.PatchApply(patches, content)
	for i, ok := range applied {
		if !ok {
			return content, fmt.Errorf("%w: hunk %d of %d", ErrPatchConflict, i+1, len(applied))
		}
	}
	return patched, nil
}

type unit int

const (
	toBytes unit = iota
	toUTF16
)

type hunk struct {
	start1 int
	text1  string
	text2  string
	body   []string
}

// remapHunks rewrites every hunk header of patch into the target unit.
// Start offsets are translated through content, the text the patch was made
// against; lengths are measured on the hunk text itself.
func remapHunks(patch, content string, target unit) (string, error) {
	hunks, err := parseHunks(patch)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	delta := 0
	for _, h := range hunks {
		var start1, length1, length2 int
		if target == toBytes {
			start1 = byteOffset(content, h.start1)
			length1, length2 = len(h.text1), len(h.text2)
		} else {
			start1 = utf16Offset(content, h.start1)
			length1, length2 = utf16Len(h.text1), utf16Len(h.text2)
		}
		start2 := start1 + delta
		delta += length2 - length1

		out.WriteString("@@ -")
		out.WriteString(coords(start1, length1))
		out.WriteString(" +")
		out.WriteString(coords(start2, length2))
		out.WriteString(" @@\n")
		for _, line := range h.body {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}

func parseHunks(patch string) ([]hunk, error) {
	var hunks []hunk
	for _, line := range strings.Split(patch, "\n") {
		if line == "" {
			continue
		}
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			start, _ := strconv.Atoi(m[1])
			// A zero-length hunk carries its 0-based offset, every other
			// hunk a 1-based one.
			if m[2] != "0" {
				start--
			}
			hunks = append(hunks, hunk{start1: start})
			continue
		}
		if len(hunks) == 0 {
			return nil, fmt.Errorf("invalid patch header %q", line)
		}
		text, err := url.QueryUnescape(strings.ReplaceAll(line[1:], "+", "%2B"))
		if err != nil {
			return nil, fmt.Errorf("illegal escape in %q: %w", line, err)
		}
		h := &hunks[len(hunks)-1]
		switch line[0] {
		case ' ':
			h.text1 += text
			h.text2 += text
		case '-':
			h.text1 += text
		case '+':
			h.text2 += text
		default:
			return nil, fmt.Errorf("invalid patch mode %q in %q", line[0], line)
		}
		h.body = append(h.body, line)
	}
	return hunks, nil
}

func coords(start, length int) string {
	switch length {
	case 0:
		return strconv.Itoa(start) + ",0"
	case 1:
		return strconv.Itoa(start + 1)
	default:
		return strconv.Itoa(start+1) + "," + strconv.Itoa(length)
	}
}

// byteOffset maps a UTF-16 offset in s to a byte offset. Offsets past the end
// stay past the end, so the hunk fails to match instead of moving.
func byteOffset(s string, units int) int {
	seen := 0
	for i, r := range s {
		if seen >= units {
			return i
		}
		seen += runeUnits(r)
	}
	return len(s) + units - seen
}

func utf16Offset(s string, bytes int) int {
	if bytes > len(s) {
		return utf16Len(s) + bytes - len(s)
	}
	return utf16Len(s[:bytes])
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if r > 0xFFFF && r <= utf8.MaxRune {
		return 2
	}
	return 1
}
