package adapter

import "strings"

// Telegram rejects messages above 4096 characters; leave room for entities.
const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. It prefers a
// newline in the last two thirds of the window and, for HTML, never leaves
// a tag open at the end of a chunk.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if nl := lastNewline(rs, start+limit/3, end); nl >= 0 {
				end = nl + 1
			}
			if html {
				if open := danglingTag(rs, start, end); open > start {
					end = open
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastNewline returns the index of the last '\n' in rs[from:to], or -1.
func lastNewline(rs []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

// danglingTag returns the index of a '<' in rs[from:to] with no closing '>'
// after it, or -1.
func danglingTag(rs []rune, from, to int) int {
	open := -1
	for i := from; i < to; i++ {
		switch rs[i] {
		case '<':
			open = i
		case '>':
			open = -1
		}
	}
	return open
}
