package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stage represents the lifecycle state of a book session.
type Stage string

const (
	StageInit            Stage = "INIT"
	StageOutlinePending  Stage = "OUTLINE_PENDING"
	StageOutlineReview   Stage = "OUTLINE_REVIEW"
	StageOutlineApproved Stage = "OUTLINE_APPROVED"
	StageChapterPending  Stage = "CHAPTER_PENDING"
	StageChapterReview   Stage = "CHAPTER_REVIEW"
	StageChapterApproved Stage = "CHAPTER_APPROVED"
	StageSummarizing     Stage = "SUMMARIZING"
	StageFinalReview     Stage = "FINAL_REVIEW"
	StageFinalRevision   Stage = "FINAL_REVISION"
	StageBookComplete    Stage = "BOOK_COMPLETE"
	StageFailed          Stage = "FAILED"
)

// Terminal reports whether no further transition can leave the stage.
func (s Stage) Terminal() bool {
	return s == StageBookComplete || s == StageFailed
}

// Review reports whether the stage is a human checkpoint: the session is
// parked and only advances when CheckPendingFeedback finds a decision.
func (s Stage) Review() bool {
	return s == StageOutlineReview || s == StageChapterReview || s == StageFinalReview
}

// Session is the persisted state of one book-generation workflow.
//
// Chapter is the 1-based index of the chapter currently being written,
// reviewed, or summarized; it is meaningful only in chapter stages.
// OutlineRevision and ChapterRevisions count generation attempts per review
// target and only ever increase.
type Session struct {
	ID    string
	Title string

	// Notes is free-form guidance captured at start time; it conditions
	// the outline prompt and is kept for the life of the session.
	Notes string

	Stage   Stage
	Chapter int

	OutlineRevision  int
	ChapterRevisions map[int]int

	// FailureReason is set when Stage is StageFailed.
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChapterRevision returns the revision counter for the given chapter.
// Chapters that have not been generated yet report 0.
func (s *Session) ChapterRevision(chapter int) int {
	if s.ChapterRevisions == nil {
		return 0
	}
	return s.ChapterRevisions[chapter]
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state through a shared map.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	if s.ChapterRevisions != nil {
		dup.ChapterRevisions = make(map[int]int, len(s.ChapterRevisions))
		for k, v := range s.ChapterRevisions {
			dup.ChapterRevisions[k] = v
		}
	}
	return &dup
}

// Role identifies the author of a session memory message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleReviewer marks comments that arrived through the feedback
	// channel rather than from the user or the generator.
	RoleReviewer Role = "reviewer"
)

// Message is one entry in a session's append-only memory log.
type Message struct {
	Role    Role
	Content string
	At      time.Time
}

// ReviewTarget names the artifact a feedback record refers to: the outline,
// one chapter, or the assembled manuscript.
type ReviewTarget struct {
	// Chapter is 0 for the outline and the manuscript, 1-based otherwise.
	Chapter    int
	Manuscript bool
}

// OutlineTarget is the review target for the session outline.
func OutlineTarget() ReviewTarget { return ReviewTarget{} }

// ChapterTarget is the review target for chapter i (1-based).
func ChapterTarget(i int) ReviewTarget { return ReviewTarget{Chapter: i} }

// ManuscriptTarget is the review target for the assembled manuscript.
func ManuscriptTarget() ReviewTarget { return ReviewTarget{Manuscript: true} }

func (t ReviewTarget) String() string {
	switch {
	case t.Manuscript:
		return "manuscript"
	case t.Chapter > 0:
		return "chapter-" + strconv.Itoa(t.Chapter)
	default:
		return "outline"
	}
}

// ParseReviewTarget is the inverse of String. It accepts "outline",
// "manuscript" and "chapter-<i>" with i >= 1.
func ParseReviewTarget(s string) (ReviewTarget, error) {
	switch {
	case s == "outline":
		return OutlineTarget(), nil
	case s == "manuscript":
		return ManuscriptTarget(), nil
	case strings.HasPrefix(s, "chapter-"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "chapter-"))
		if err != nil || n < 1 {
			return ReviewTarget{}, fmt.Errorf("invalid review target %q", s)
		}
		return ChapterTarget(n), nil
	default:
		return ReviewTarget{}, fmt.Errorf("invalid review target %q", s)
	}
}
