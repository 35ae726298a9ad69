package sanitize

// Unicode classes that carry no legitimate meaning in email text but are
// used for steganographic prompt injection: zero-width characters hide
// content from display, bidi overrides make displayed text differ from
// logical text, tag characters smuggle invisible instructions.

func isZeroWidth(r rune) bool {
	switch r {
	case 0x200B, // ZERO WIDTH SPACE
		0x200C, // ZERO WIDTH NON-JOINER
		0x200D, // ZERO WIDTH JOINER
		0x2060, // WORD JOINER
		0xFEFF: // ZERO WIDTH NO-BREAK SPACE (BOM)
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	switch r {
	case 0x202A, // LEFT-TO-RIGHT EMBEDDING
		0x202B, // RIGHT-TO-LEFT EMBEDDING
		0x202C, // POP DIRECTIONAL FORMATTING
		0x202D, // LEFT-TO-RIGHT OVERRIDE
		0x202E, // RIGHT-TO-LEFT OVERRIDE
		0x2066, // LEFT-TO-RIGHT ISOLATE
		0x2067, // RIGHT-TO-LEFT ISOLATE
		0x2068, // FIRST STRONG ISOLATE
		0x2069: // POP DIRECTIONAL ISOLATE
		return true
	}
	return false
}

// isTagCharacter reports Unicode tag characters (U+E0001–U+E007F).
func isTagCharacter(r rune) bool {
	return r >= 0xE0001 && r <= 0xE007F
}

// isUnsafeControl reports control characters other than tab, newline,
// and carriage return.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r < 0x20 || r == 0x7F
}

// isHazardousRune reports any code point the sanitizer removes.
func isHazardousRune(r rune) bool {
	return isZeroWidth(r) || isBidiOverride(r) || isTagCharacter(r) || isUnsafeControl(r)
}
