package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Outline is the generated book plan for a session at a given revision.
type Outline struct {
	SessionID string
	Revision  int
	Approved  bool

	// Content is the outline exactly as generated.
	Content string

	// Chapters is the parsed plan. It is populated when the outline is
	// stored and is the source of truth for how many chapters the book
	// has once the outline is approved.
	Chapters []OutlineChapter
}

// OutlineChapter is one planned chapter parsed out of the outline text.
type OutlineChapter struct {
	Index    int
	Title    string
	Synopsis string
}

// ChapterDraft is the generated text of one chapter at a given revision.
type ChapterDraft struct {
	SessionID string
	Chapter   int
	Revision  int
	Approved  bool
	Content   string
}

// ChapterSummary condenses an approved chapter for use as context when
// generating later chapters. Recording one is idempotent per
// (session, chapter).
type ChapterSummary struct {
	SessionID  string
	Chapter    int
	Content    string
	RecordedAt time.Time
}

// Decision is a reviewer's verdict on a published artifact.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
)

// FeedbackRecord is one reviewer verdict read from the feedback channel.
type FeedbackRecord struct {
	Target   ReviewTarget
	Revision int
	Decision Decision

	// Comments carries revision guidance. Required in spirit for revise;
	// an empty revise is still honored with a generic instruction.
	Comments string
}

// approveWords is the informal approval vocabulary reviewers actually type.
// "none" and "skip" belong here because a reviewer with no revision notes
// is approving.
var approveWords = map[string]bool{
	"approve":    true,
	"approved":   true,
	"ok":         true,
	"good":       true,
	"looks good": true,
	"continue":   true,
	"next":       true,
	"yes":        true,
	"lgtm":       true,
	"none":       true,
	"skip":       true,
}

var reviseWords = map[string]bool{
	"revise":  true,
	"redo":    true,
	"change":  true,
	"rewrite": true,
	"no":      true,
}

// ParseDecision maps a raw decision cell to a Decision. Empty input means
// the reviewer has not decided yet (ok=false). Unrecognized non-empty text
// is treated as a revision request, since a reviewer who typed something
// other than an approval wants changes.
func ParseDecision(raw string) (Decision, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	if norm == "" {
		return "", false
	}
	if approveWords[norm] {
		return DecisionApprove, true
	}
	if reviseWords[norm] {
		return DecisionRevise, true
	}
	return DecisionRevise, true
}

var unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeTitle makes a book title safe for use as a file name.
func SanitizeTitle(title string) string {
	clean := unsafeFilenameChars.ReplaceAllString(title, "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "untitled"
	}
	return clean
}

// AssembleManuscript concatenates chapter drafts into one book text, each
// chapter under a numbered separator heading.
func AssembleManuscript(title string, drafts []*ChapterDraft) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, d := range drafts {
		fmt.Fprintf(&b, "\n\n---\n\nChapter %d\n\n---\n\n", d.Chapter)
		b.WriteString(d.Content)
	}
	return b.String()
}
