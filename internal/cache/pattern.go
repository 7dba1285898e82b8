package cache

import "strings"

type tokenKind uint8

const (
	tokLiteral tokenKind = iota
	tokAnyRun            // '*'
	tokAnyOne            // '?'
)

type token struct {
	kind tokenKind
	lit  []rune
}

// Pattern is a compiled glob. '*' matches any run of characters, '?' matches
// exactly one character, and every other character matches itself. Matching
// is anchored and case-sensitive.
type Pattern struct {
	raw  string
	toks []token
}

// CompilePattern tokenizes a glob pattern. It never fails; characters that
// would be special in a regular expression are plain literals here.
func CompilePattern(p string) Pattern {
	var toks []token
	var lit []rune
	flush := func() {
		if len(lit) > 0 {
			toks = append(toks, token{kind: tokLiteral, lit: lit})
			lit = nil
		}
	}
	for _, r := range p {
		switch r {
		case '*':
			flush()
			// "**" is the same as "*"
			if n := len(toks); n > 0 && toks[n-1].kind == tokAnyRun {
				continue
			}
			toks = append(toks, token{kind: tokAnyRun})
		case '?':
			flush()
			toks = append(toks, token{kind: tokAnyOne})
		default:
			lit = append(lit, r)
		}
	}
	flush()
	return Pattern{raw: p, toks: toks}
}

// String returns the source pattern.
func (p Pattern) String() string { return p.raw }

// Empty reports whether the pattern was compiled from "".
func (p Pattern) Empty() bool { return p.raw == "" }

// Match reports whether the whole key matches the pattern.
func (p Pattern) Match(key string) bool {
	if len(p.toks) == 1 && p.toks[0].kind == tokAnyRun {
		return true
	}
	k := []rune(key)
	ti, ki := 0, 0
	starTi, starKi := -1, 0
	for ki < len(k) {
		if ti < len(p.toks) {
			t := p.toks[ti]
			switch t.kind {
			case tokAnyRun:
				starTi, starKi = ti, ki
				ti++
				continue
			case tokAnyOne:
				ti++
				ki++
				continue
			case tokLiteral:
				if hasRunePrefix(k[ki:], t.lit) {
					ti++
					ki += len(t.lit)
					continue
				}
			}
		}
		// backtrack: let the last '*' swallow one more character
		if starTi < 0 {
			return false
		}
		starKi++
		ki = starKi
		ti = starTi + 1
	}
	for ti < len(p.toks) && p.toks[ti].kind == tokAnyRun {
		ti++
	}
	return ti == len(p.toks)
}

func hasRunePrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}

// MatchPattern is a one-shot CompilePattern(pattern).Match(key).
func MatchPattern(pattern, key string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == key
	}
	return CompilePattern(pattern).Match(key)
}
