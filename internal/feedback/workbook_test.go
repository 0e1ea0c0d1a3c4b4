package feedback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/jmakela/tome/pkg/api"
)

func newTestWorkbook(t *testing.T) (*WorkbookChannel, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviews.xlsx")
	ch, err := NewWorkbookChannel(path)
	if err != nil {
		t.Fatalf("NewWorkbookChannel failed: %v", err)
	}
	return ch, path
}

// reviewerDecides edits the workbook the way a human would: open, type into
// the Decision and Comments cells of a row, save.
func reviewerDecides(t *testing.T, path string, row int, decision, comments string) {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if err := f.SetCellValue(reviewSheet, fmt.Sprintf("E%d", row), decision); err != nil {
		t.Fatalf("set decision: %v", err)
	}
	if err := f.SetCellValue(reviewSheet, fmt.Sprintf("F%d", row), comments); err != nil {
		t.Fatalf("set comments: %v", err)
	}
	if err := f.Save(); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
}

func TestWorkbookChannel_CreatesHeaderRow(t *testing.T) {
	_, path := newTestWorkbook(t)

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(reviewSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected header row only, got %d rows", len(rows))
	}
	for i, want := range workbookHeader {
		if rows[0][i] != want {
			t.Fatalf("header column %d: got %q, want %q", i+1, rows[0][i], want)
		}
	}
}

func TestWorkbookChannel_PublishAppendsRow(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 1, "Chapter 1: The Sea"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(reviewSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	row := rows[1]
	if row[0] != "s1" || row[1] != "outline" || row[2] != "1" || row[3] != "Chapter 1: The Sea" {
		t.Fatalf("unexpected published row: %v", row)
	}
}

func TestWorkbookChannel_PollPendingUntilDecision(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 1, "outline text"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	rec, err := ch.Poll(ctx, "s1", api.OutlineTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected pending, got %+v", rec)
	}

	reviewerDecides(t, path, 2, "looks good", "")

	rec, err = ch.Poll(ctx, "s1", api.OutlineTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a decision")
	}
	if rec.Decision != api.DecisionApprove {
		t.Fatalf("expected approve, got %s", rec.Decision)
	}
	if rec.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", rec.Revision)
	}
}

func TestWorkbookChannel_PollReviseWithComments(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.ChapterTarget(2), 1, "chapter text"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 2, "redo", "more dialogue please")

	rec, err := ch.Poll(ctx, "s1", api.ChapterTarget(2), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil || rec.Decision != api.DecisionRevise {
		t.Fatalf("expected revise, got %+v", rec)
	}
	if rec.Comments != "more dialogue please" {
		t.Fatalf("unexpected comments: %q", rec.Comments)
	}
}

func TestWorkbookChannel_CommentsWithoutDecisionMeanRevise(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 1, "outline"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 2, "", "chapter two feels rushed")

	rec, err := ch.Poll(ctx, "s1", api.OutlineTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil || rec.Decision != api.DecisionRevise {
		t.Fatalf("expected revise from bare comments, got %+v", rec)
	}
}

func TestWorkbookChannel_StaleRevisionNeverSurfaced(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 1, "rev 1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 2, "revise", "start over")

	// The workflow moved on to revision 2; the rev 1 verdict must not leak.
	rec, err := ch.Poll(ctx, "s1", api.OutlineTarget(), 2)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("stale decision surfaced: %+v", rec)
	}

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 2, "rev 2"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	rec, err = ch.Poll(ctx, "s1", api.OutlineTarget(), 2)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("revision 2 should be pending, got %+v", rec)
	}
}

func TestWorkbookChannel_RepublishKeepsReviewerCells(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.ChapterTarget(1), 1, "draft"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 2, "ok", "nice opening")

	// Re-publishing the same revision (e.g. crash recovery) must not erase
	// what the reviewer typed.
	if err := ch.Publish(ctx, "s1", api.ChapterTarget(1), 1, "draft again"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	rec, err := ch.Poll(ctx, "s1", api.ChapterTarget(1), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil || rec.Decision != api.DecisionApprove {
		t.Fatalf("reviewer decision lost: %+v", rec)
	}
	if rec.Comments != "nice opening" {
		t.Fatalf("reviewer comments lost: %q", rec.Comments)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(reviewSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("re-publish should upsert, got %d rows", len(rows))
	}
	if rows[1][3] != "draft again" {
		t.Fatalf("content not updated: %q", rows[1][3])
	}
}

func TestWorkbookChannel_SessionsShareOneSheet(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.OutlineTarget(), 1, "first book"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := ch.Publish(ctx, "s2", api.OutlineTarget(), 1, "second book"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 3, "approve", "")

	rec, err := ch.Poll(ctx, "s1", api.OutlineTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("s1 should still be pending, got %+v", rec)
	}

	rec, err = ch.Poll(ctx, "s2", api.OutlineTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil || rec.Decision != api.DecisionApprove {
		t.Fatalf("s2 decision missing: %+v", rec)
	}
}

func TestWorkbookChannel_ManuscriptTarget(t *testing.T) {
	ch, path := newTestWorkbook(t)
	ctx := context.Background()

	if err := ch.Publish(ctx, "s1", api.ManuscriptTarget(), 1, "full manuscript"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	reviewerDecides(t, path, 2, "none", "")

	rec, err := ch.Poll(ctx, "s1", api.ManuscriptTarget(), 1)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if rec == nil || rec.Decision != api.DecisionApprove {
		t.Fatalf("expected approve from %q, got %+v", "none", rec)
	}
}

func TestWorkbookChannel_PollErrorsAreChannelErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.xlsx")
	ch := &WorkbookChannel{path: path}

	// Missing file means nothing was published yet, which reads as pending.
	rec, err := ch.Poll(context.Background(), "s1", api.OutlineTarget(), 1)
	if err != nil || rec != nil {
		t.Fatalf("expected pending for missing workbook, got %+v, %v", rec, err)
	}

	// A publish against an unwritable location surfaces as a ChannelError.
	bad := &WorkbookChannel{path: filepath.Join(t.TempDir(), "no-such-dir", "reviews.xlsx")}
	err = bad.Publish(context.Background(), "s1", api.OutlineTarget(), 1, "content")
	if err == nil {
		t.Fatal("expected publish error")
	}
	var ce *api.ChannelError
	if !errors.As(err, &ce) || ce.Op != "publish" {
		t.Fatalf("expected publish ChannelError, got %v", err)
	}
}
