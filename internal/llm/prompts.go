package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Epistemic-Technology/trialqa/internal/citations"
)

const citationInstructions = `You locate supporting evidence for an answer about a clinical trial document.

Rules:
- "exactText" MUST be copied character for character from the supplied page text. Never paraphrase, correct or join text from different places.
- Only cite pages that appear in the supplied page text.
- "section" is the heading the quote sits under, or "Page N" if there is none.
- "relevance" is "high" when the quote directly supports the answer, "medium" when it gives useful context and "low" otherwise.
- "context" is a longer excerpt around the quote, also copied verbatim.
- "confidence" is a number between 0 and 1 for how well the quotes support the answer.

Reply with JSON only, in the shape {"sources":[{"page":1,"section":"","exactText":"","relevance":"high","context":""}],"confidence":0.0}.`

const compactCitationInstructions = `Find verbatim quotes in the page text that support the answer.
Reply with JSON only: {"sources":[{"page":N,"section":"","exactText":"copied verbatim","relevance":"high|medium|low","context":""}],"confidence":0-1}.`

// citationPrompt renders the system and user prompts for a match request.
// maxPageChars truncates each page's text when positive.
func citationPrompt(req citations.MatchRequest, maxPageChars int, compact bool) (string, string) {
	system := citationInstructions
	if compact {
		system = compactCitationInstructions
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question:\n%s\n\nAnswer:\n%s\n\n", req.Question, citations.StripMarkers(req.Answer))

	if len(req.Seeds) > 0 && !compact {
		sb.WriteString("The answer quoted these passages; prefer them when they appear on the page:\n")
		for _, s := range req.Seeds {
			fmt.Fprintf(&sb, "- page %d: %q\n", s.Page, s.Quote)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Page text:\n")
	for _, p := range req.Pages {
		if p.Placeholder {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\n%s\n", p.PageNumber, truncate(p.Content, maxPageChars))
	}
	return system, sb.String()
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
