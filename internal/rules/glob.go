package rules

// Match reports whether text matches pattern, where '*' consumes any run of
// characters (including none) and '?' consumes exactly one character;
// every other rune must match literally.
func Match(pattern, text string) bool {
	return matchRunes([]rune(pattern), []rune(text))
}

func matchRunes(pattern, text []rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	if pattern[0] == '*' {
		// Collapse consecutive stars.
		rest := pattern[1:]
		for len(rest) > 0 && rest[0] == '*' {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(text); i++ {
			if matchRunes(rest, text[i:]) {
				return true
			}
		}
		return false
	}
	if len(text) == 0 {
		return false
	}
	if pattern[0] == '?' || pattern[0] == text[0] {
		return matchRunes(pattern[1:], text[1:])
	}
	return false
}
