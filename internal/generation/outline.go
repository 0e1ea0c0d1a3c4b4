package generation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmakela/tome/pkg/api"
)

var (
	// Matches "Chapter 3: Title", "## Chapter 3 - Title", "**Chapter 3** Title".
	chapterHeading = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?\**\s*chapter\s+(\d+)\s*\**\s*[:.\-–—]?\s*(.*)$`)

	// Fallback for plain numbered lists: "3. Title", "3) Title".
	numberedHeading = regexp.MustCompile(`^\s*(\d+)\s*[.):]\s+(.+)$`)
)

// ParseOutline extracts the chapter plan from generated outline text. It
// recognizes "Chapter N" headings first and falls back to plain numbered
// lines only when the text has none, so numbered bullets under a chapter
// heading are not misread as chapters. Duplicate indexes keep the first
// occurrence. An empty result means the outline has no usable plan.
func ParseOutline(content string) []api.OutlineChapter {
	chapters := scanOutline(content, chapterHeading)
	if len(chapters) == 0 {
		chapters = scanOutline(content, numberedHeading)
	}

	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i].Index < chapters[j].Index
	})
	return chapters
}

func scanOutline(content string, pattern *regexp.Regexp) []api.OutlineChapter {
	var chapters []api.OutlineChapter
	seen := make(map[int]bool)

	for _, line := range strings.Split(content, "\n") {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil || index <= 0 || seen[index] {
			continue
		}
		seen[index] = true

		title, synopsis := splitTitleSynopsis(m[2])
		chapters = append(chapters, api.OutlineChapter{
			Index:    index,
			Title:    title,
			Synopsis: synopsis,
		})
	}

	return chapters
}

var titleSeparators = []string{" — ", " – ", " - ", ": "}

func splitTitleSynopsis(rest string) (string, string) {
	rest = cleanHeadingText(rest)

	for _, sep := range titleSeparators {
		if i := strings.Index(rest, sep); i >= 0 {
			return cleanHeadingText(rest[:i]), strings.TrimSpace(rest[i+len(sep):])
		}
	}
	return rest, ""
}

func cleanHeadingText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*")
	s = strings.TrimLeft(s, ":-–—. ")
	return strings.TrimSpace(s)
}
