// Package feedback implements the review channel artifacts are published to
// and reviewer verdicts are read from: an xlsx workbook for real use and an
// in-memory channel for tests and examples.
package feedback

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jmakela/tome/pkg/api"
)

const reviewSheet = "Reviews"

// Column layout of the review sheet. Decision and Comments are owned by the
// reviewer; everything else is written by Publish.
const (
	colSession = iota + 1
	colTarget
	colRevision
	colContent
	colDecision
	colComments
	colPublished
)

var workbookHeader = []string{"Session", "Target", "Revision", "Content", "Decision", "Comments", "Published"}

// WorkbookChannel publishes artifacts as rows of a shared review workbook.
// All sessions write into one Reviews sheet; a reviewer opens the file,
// types a decision (and optional comments) into the row for an artifact,
// and saves.
//
// Rows are keyed (session, target, revision). Publishing the same key again
// rewrites the artifact content but never touches the reviewer's cells, and
// Poll only reads the row for the revision it is asked about, so verdicts
// left on earlier revisions are never surfaced again.
//
// A WorkbookChannel serializes access within its process. The file itself is
// not locked, so give concurrent processes their own workbook.
type WorkbookChannel struct {
	mu   sync.Mutex
	path string
}

var _ api.FeedbackChannel = (*WorkbookChannel)(nil)

// NewWorkbookChannel opens the review workbook at path, creating it with a
// header row when it does not exist yet.
func NewWorkbookChannel(path string) (*WorkbookChannel, error) {
	c := &WorkbookChannel{path: path}
	if err := c.ensure(); err != nil {
		return nil, fmt.Errorf("failed to initialize review workbook: %w", err)
	}
	return c, nil
}

func (c *WorkbookChannel) ensure() error {
	if _, err := os.Stat(c.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reviewSheet); err != nil {
		return err
	}
	for i, name := range workbookHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reviewSheet, cell, name); err != nil {
			return err
		}
	}
	return f.SaveAs(c.path)
}

// Publish upserts the row for (sessionID, target, revision). Only the
// workflow-owned columns are written; a re-publish after a reviewer has
// already typed into Decision or Comments leaves those cells alone.
func (c *WorkbookChannel) Publish(ctx context.Context, sessionID string, target api.ReviewTarget, revision int, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return &api.ChannelError{Op: "publish", Err: err}
	}
	defer f.Close()

	rows, err := f.GetRows(reviewSheet)
	if err != nil {
		return &api.ChannelError{Op: "publish", Err: err}
	}
	row := findRow(rows, sessionID, target.String(), revision)
	if row == 0 {
		row = len(rows) + 1
	}

	cells := []struct {
		col int
		val any
	}{
		{colSession, sessionID},
		{colTarget, target.String()},
		{colRevision, revision},
		{colContent, content},
		{colPublished, time.Now().UTC().Format(time.RFC3339)},
	}
	for _, cv := range cells {
		cell, err := excelize.CoordinatesToCellName(cv.col, row)
		if err != nil {
			return &api.ChannelError{Op: "publish", Err: err}
		}
		if err := f.SetCellValue(reviewSheet, cell, cv.val); err != nil {
			return &api.ChannelError{Op: "publish", Err: err}
		}
	}
	if err := f.Save(); err != nil {
		return &api.ChannelError{Op: "publish", Err: err}
	}
	return nil
}

// Poll reads the reviewer's verdict for exactly the given revision. It
// returns nil while the row is missing or its Decision cell is empty.
// Comments without a decision read as a revision request.
func (c *WorkbookChannel) Poll(ctx context.Context, sessionID string, target api.ReviewTarget, revision int) (*api.FeedbackRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &api.ChannelError{Op: "poll", Err: err}
	}
	defer f.Close()

	rows, err := f.GetRows(reviewSheet)
	if err != nil {
		return nil, &api.ChannelError{Op: "poll", Err: err}
	}
	idx := findRow(rows, sessionID, target.String(), revision)
	if idx == 0 {
		return nil, nil
	}
	row := rows[idx-1]

	comments := strings.TrimSpace(cell(row, colComments))
	decision, ok := api.ParseDecision(cell(row, colDecision))
	if !ok {
		if comments == "" {
			return nil, nil
		}
		decision = api.DecisionRevise
	}
	return &api.FeedbackRecord{
		Target:   target,
		Revision: revision,
		Decision: decision,
		Comments: comments,
	}, nil
}

// findRow returns the 1-based sheet row keyed (session, target, revision),
// or 0 when no row matches. Row 1 is the header.
func findRow(rows [][]string, sessionID, target string, revision int) int {
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, colSession) != sessionID || cell(row, colTarget) != target {
			continue
		}
		rev, err := strconv.Atoi(strings.TrimSpace(cell(row, colRevision)))
		if err != nil || rev != revision {
			continue
		}
		return i + 1
	}
	return 0
}

// cell indexes a GetRows row by 1-based column. GetRows drops trailing empty
// cells, so short rows read as empty strings.
func cell(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}
