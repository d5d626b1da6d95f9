package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/adaptive-memory/internal/similarity"
)

// excerpt returns the passage of content sharing the most terms with
// query, at most limit bytes long. Ties keep the earliest passage.
func excerpt(content, query string, limit int) string {
	if limit <= 0 {
		return ""
	}
	want := similarity.Terms(query)
	best, bestScore := "", -1
	for _, p := range passages(content, limit) {
		if score := similarity.Shared(want, similarity.Terms(p)); score > bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

// passages splits text on markdown headings and blank lines, then packs
// adjacent blocks into passages of at most size bytes. Oversized blocks
// are cut on line and then word boundaries.
func passages(text string, size int) []string {
	var out []string
	var acc string
	flush := func() {
		if acc != "" {
			out = append(out, acc)
			acc = ""
		}
	}
	for _, b := range splitBlocks(text) {
		if len(b) > size {
			flush()
			out = append(out, cutLines(b, size)...)
			continue
		}
		if acc == "" {
			acc = b
			continue
		}
		if combined := acc + "\n\n" + b; len(combined) <= size {
			acc = combined
			continue
		}
		flush()
		acc = b
	}
	flush()
	return out
}

func splitBlocks(text string) []string {
	var blocks []string
	var cur []string
	flush := func() {
		if t := strings.TrimSpace(strings.Join(cur, "\n")); t != "" {
			blocks = append(blocks, t)
		}
		cur = nil
	}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			continue
		case strings.HasPrefix(trimmed, "#"):
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

func cutLines(block string, size int) []string {
	var out []string
	var cur string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > size {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, cutWords(line, size)...)
			continue
		}
		if cur != "" && len(cur)+1+len(line) > size {
			out = append(out, cur)
			cur = ""
		}
		if cur == "" {
			cur = line
		} else {
			cur += "\n" + line
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func cutWords(line string, size int) []string {
	var out []string
	var cur string
	for _, w := range strings.Fields(line) {
		for len(w) > size {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			cut := size
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if w == "" {
			continue
		}
		if cur != "" && len(cur)+1+len(w) > size {
			out = append(out, cur)
			cur = ""
		}
		if cur == "" {
			cur = w
		} else {
			cur += " " + w
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
