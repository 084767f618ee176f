package normalize

import (
	"golang.org/x/text/unicode/bidi"
)

type direction int

const (
	dirNeutral direction = iota
	dirLTR
	dirRTL
	dirNumber
)

var mirrored = map[rune]rune{
	'(': ')', ')': '(',
	'[': ']', ']': '[',
	'{': '}', '}': '{',
	'<': '>', '>': '<',
	'«': '»', '»': '«',
}

func classify(r rune) direction {
	props, _ := bidi.LookupRune(r)
	switch props.Class() {
	case bidi.L:
		return dirLTR
	case bidi.R, bidi.AL:
		return dirRTL
	case bidi.EN, bidi.AN:
		return dirNumber
	default:
		return dirNeutral
	}
}

// reorderLine converts one logical line to visual order. It resolves
// embedding levels with a reduced rule set (strong types, numbers, neutrals
// between equal neighbours, trailing whitespace at base level) and then
// reverses runs from the highest level down. Lines without right-to-left
// characters are returned untouched.
func reorderLine(line string) string {
	runes := []rune(line)
	if len(runes) == 0 {
		return line
	}

	dirs := make([]direction, len(runes))
	base := -1
	hasRTL := false
	for i, r := range runes {
		dirs[i] = classify(r)
		if dirs[i] == dirRTL {
			hasRTL = true
		}
		if base < 0 {
			switch dirs[i] {
			case dirLTR:
				base = 0
			case dirRTL:
				base = 1
			}
		}
	}
	if !hasRTL || base < 0 {
		return line
	}

	levels := make([]int, len(runes))
	for i, d := range dirs {
		levels[i] = resolveLevel(dirs, i, d, base)
	}
	for i := len(runes) - 1; i >= 0 && isSpace(runes[i]); i-- {
		levels[i] = base
	}

	maxLevel, minOdd := 0, 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
		if l%2 == 1 && (minOdd == 0 || l < minOdd) {
			minOdd = l
		}
	}
	if minOdd == 0 {
		return line
	}

	for level := maxLevel; level >= minOdd; level-- {
		for i := 0; i < len(runes); {
			if levels[i] < level {
				i++
				continue
			}
			j := i
			for j < len(runes) && levels[j] >= level {
				j++
			}
			reverse(runes[i:j])
			reverse(levels[i:j])
			i = j
		}
	}

	for i, r := range runes {
		if levels[i]%2 == 1 {
			if m, ok := mirrored[r]; ok {
				runes[i] = m
			}
		}
	}
	return string(runes)
}

func resolveLevel(dirs []direction, i int, d direction, base int) int {
	switch d {
	case dirRTL:
		return 1
	case dirLTR:
		if base == 1 {
			return 2
		}
		return 0
	case dirNumber:
		if base == 1 || letterBefore(dirs, i) == dirRTL {
			return 2
		}
		return 0
	}

	before := strongBefore(dirs, i, base)
	after := strongAfter(dirs, i, base)
	if base == 1 {
		if before != dirRTL && after != dirRTL {
			return 2
		}
		return 1
	}
	if before == dirRTL && after == dirRTL {
		return 1
	}
	return 0
}

// strongBefore treats numbers as left-to-right and falls back to the base
// direction at the line start.
func strongBefore(dirs []direction, i, base int) direction {
	for j := i - 1; j >= 0; j-- {
		switch dirs[j] {
		case dirLTR, dirNumber:
			return dirLTR
		case dirRTL:
			return dirRTL
		}
	}
	return baseDirection(base)
}

// letterBefore skips numbers so every digit of a number gets the same level.
func letterBefore(dirs []direction, i int) direction {
	for j := i - 1; j >= 0; j-- {
		if dirs[j] == dirLTR || dirs[j] == dirRTL {
			return dirs[j]
		}
	}
	return dirLTR
}

func strongAfter(dirs []direction, i, base int) direction {
	for j := i + 1; j < len(dirs); j++ {
		switch dirs[j] {
		case dirLTR, dirNumber:
			return dirLTR
		case dirRTL:
			return dirRTL
		}
	}
	return baseDirection(base)
}

func baseDirection(base int) direction {
	if base == 1 {
		return dirRTL
	}
	return dirLTR
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r'
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
