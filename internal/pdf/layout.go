package pdf

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// fragment is one positioned run of text on a page. PDF coordinates grow
// upwards, so a larger Y is nearer the top.
type fragment struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

// lineTolerance is how far apart two baselines may be and still count as the
// same visual line.
func lineTolerance(fontSize float64) float64 {
	if t := 0.5 * fontSize; t > 2.0 {
		return t
	}
	return 2.0
}

// layoutText orders fragments top-to-bottom then left-to-right and joins them,
// inserting a space where the horizontal gap between neighbours is wide enough
// to be a word break.
func layoutText(frags []fragment) string {
	kept := frags[:0:0]
	for _, f := range frags {
		if f.S != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Y != kept[j].Y {
			return kept[i].Y > kept[j].Y
		}
		return kept[i].X < kept[j].X
	})

	var lines [][]fragment
	var current []fragment
	var lineY float64
	for _, f := range kept {
		if len(current) > 0 && lineY-f.Y > lineTolerance(f.FontSize) {
			lines = append(lines, current)
			current = nil
		}
		if len(current) == 0 {
			lineY = f.Y
		}
		current = append(current, f)
	}
	if len(current) > 0 {
		lines = append(lines, current)
	}

	var sb strings.Builder
	for i, line := range lines {
		sort.SliceStable(line, func(a, b int) bool { return line[a].X < line[b].X })
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, f := range line {
			if j > 0 && needsSpace(line[j-1], f) {
				sb.WriteByte(' ')
			}
			sb.WriteString(f.S)
		}
	}
	return normalizeText(sb.String())
}

func needsSpace(prev, cur fragment) bool {
	if strings.HasSuffix(prev.S, " ") || strings.HasPrefix(cur.S, " ") {
		return false
	}
	width := prev.W
	if width <= 0 {
		width = 0.5 * prev.FontSize * float64(utf8.RuneCountInString(prev.S))
	}
	fontSize := cur.FontSize
	if fontSize <= 0 {
		fontSize = 10
	}
	gap := cur.X - (prev.X + width)
	return gap > 0.25*fontSize
}

// normalizeText collapses runs of spaces and tabs inside each line and drops
// blank lines. Line breaks are kept so section headings stay recognisable.
func normalizeText(s string) string {
	rawLines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
