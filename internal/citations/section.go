package citations

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// InferSection returns the first heading-like line of a page: 10 to 60
// characters, starting with a capital letter or a section number, and not
// ending like a sentence. Pages without one are labelled "Page N".
func InferSection(content string, page int) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if isHeading(line) {
			return line
		}
	}
	return fmt.Sprintf("Page %d", page)
}

func isHeading(line string) bool {
	n := utf8.RuneCountInString(line)
	if n < 10 || n > 60 {
		return false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") || strings.HasSuffix(line, ";") {
		return false
	}

	first, _ := utf8.DecodeRuneInString(line)
	if unicode.IsDigit(first) {
		// "4.2 Secondary Endpoints"
		rest := strings.TrimLeft(line, "0123456789. ")
		if rest == "" {
			return false
		}
		first, _ = utf8.DecodeRuneInString(rest)
	}
	return unicode.IsUpper(first)
}
