// Package generation provides the text generators that write outlines,
// chapters, summaries and revisions, plus the prompt builders that
// condition them on session state.
package generation

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

const (
	authorSystem = "You are an expert book author. You plan books as chapter outlines, " +
		"one chapter per line in the form 'Chapter N: Title - synopsis', and you revise " +
		"outlines completely when given feedback."

	storytellerSystem = "You are a master storyteller. You write complete, polished book " +
		"chapters that follow the outline and stay consistent with everything already written."

	editorSystem = "You are a professional editor. You apply the requested changes " +
		"faithfully while preserving the author's voice."
)

// StartMessage opens a session's memory log with the user's request.
func StartMessage(title, notes string) api.Message {
	content := fmt.Sprintf("Write a book titled %q.", title)
	if notes != "" {
		content += "\nInitial notes: " + notes
	}
	return api.Message{Role: api.RoleUser, Content: content, At: time.Now().UTC()}
}

// OutlineMessages builds the prompt for the first outline of a book.
func OutlineMessages(title, notes string) []api.Message {
	return []api.Message{
		{Role: api.RoleSystem, Content: authorSystem},
		{Role: api.RoleUser, Content: fmt.Sprintf("Title: %s\nInitial Notes: %s", title, notes)},
	}
}

// OutlineRevisionMessages builds the prompt for regenerating an outline
// from reviewer feedback. The model is asked for a complete replacement,
// not a diff.
func OutlineRevisionMessages(outline, feedback string) []api.Message {
	return []api.Message{
		{Role: api.RoleSystem, Content: authorSystem},
		{Role: api.RoleUser, Content: fmt.Sprintf(
			"Original Outline:\n%s\n\nUser Feedback:\n%s\n\nPlease generate a new, complete outline that addresses the feedback.",
			outline, feedback)},
	}
}

// ChapterMessages builds the prompt for chapter n. Earlier chapters are
// present only as their recorded summaries, which keeps the context small
// no matter how long the book gets.
func ChapterMessages(title, outline string, summaries []api.ChapterSummary, chapter int) []api.Message {
	return []api.Message{
		{Role: api.RoleSystem, Content: storytellerSystem},
		{Role: api.RoleUser, Content: fmt.Sprintf(
			"Book Title: %s\nOverall Outline:\n%s\n\nAll Previous Chapter Summaries:\n%s\n\nNow, write Chapter %d in its entirety.",
			title, outline, formatSummaries(summaries), chapter)},
	}
}

// ChapterRevisionMessages builds the prompt for rewriting chapter n from
// reviewer feedback.
func ChapterRevisionMessages(chapter int, prior, feedback string) []api.Message {
	return []api.Message{
		{Role: api.RoleSystem, Content: storytellerSystem},
		{Role: api.RoleUser, Content: fmt.Sprintf(
			"Original Chapter %d Content:\n%s\n\nFeedback for revision: %s\n\nPlease rewrite Chapter %d in its entirety, addressing the feedback.",
			chapter, prior, feedback, chapter)},
	}
}

// SummaryMessages builds the prompt that condenses an approved chapter.
func SummaryMessages(chapter string) []api.Message {
	return []api.Message{
		{Role: api.RoleUser, Content: fmt.Sprintf(
			"Summarize the following book chapter in 2-4 sentences: \n\n%s", chapter)},
	}
}

// ManuscriptRevisionMessages builds the prompt for the optional final
// revision pass over the assembled manuscript.
func ManuscriptRevisionMessages(manuscript, notes string) []api.Message {
	return []api.Message{
		{Role: api.RoleSystem, Content: editorSystem},
		{Role: api.RoleUser, Content: fmt.Sprintf(
			"Here is the complete manuscript:\n\n---\n\n%s\n\n---\n\nHere are my final revision notes:\n\n%s\n\nPlease provide the complete, revised manuscript.",
			manuscript, notes)},
	}
}

func formatSummaries(summaries []api.ChapterSummary) string {
	if len(summaries) == 0 {
		return "(none yet)"
	}
	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("Ch %d: %s", s.Chapter, s.Content))
	}
	return strings.Join(lines, "\n")
}
