package engine

import (
	"regexp"
	"strings"
)

var cyrillicRE = regexp.MustCompile(`[а-яА-Я]`)

// CleanTranscript filters hallucinated output: drops lines shorter than
// four characters, lines without Cyrillic text, and lines containing a
// run of three or more identical characters.
func CleanTranscript(text string) string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if len([]rune(ln)) < 4 {
			continue
		}
		if !cyrillicRE.MatchString(ln) {
			continue
		}
		if hasTripletRepeat(ln) {
			continue
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func hasTripletRepeat(s string) bool {
	var last rune
	run := 0
	for _, ch := range s {
		if ch == last {
			run++
			if run >= 3 {
				return true
			}
		} else {
			last = ch
			run = 1
		}
	}
	return false
}
