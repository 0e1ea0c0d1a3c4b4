package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmakela/tome/internal/generation"
	"github.com/jmakela/tome/pkg/api"
)

// The assembled manuscript goes through at most one review round, so its
// feedback rows are always revision 1.
const manuscriptRevision = 1

const reviewInstructions = "Fill in the Decision column with `approve` or `revise`; comments go in the Comments column."

// genericRevisionNote stands in when a reviewer requested a revision without
// leaving any comments.
const genericRevisionNote = "Please revise and improve it."

// advance drives the session forward until it parks at a review checkpoint
// or reaches a terminal stage. The caller must hold the session lease.
func (o *orchestratorImpl) advance(ctx context.Context, sess *api.Session) error {
	for !sess.Stage.Terminal() && !sess.Stage.Review() {
		if err := o.state.RenewLease(ctx, sess.ID, o.leaseOwner, o.leaseTTL); err != nil {
			if errors.Is(err, api.ErrSessionBusy) {
				return err
			}
			return &api.PersistenceError{Op: "renew_lease", Err: err}
		}
		if err := o.driveStage(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

func (o *orchestratorImpl) driveStage(ctx context.Context, sess *api.Session) error {
	switch sess.Stage {
	case api.StageInit:
		return o.driveInit(ctx, sess)
	case api.StageOutlinePending:
		return o.driveOutline(ctx, sess)
	case api.StageOutlineApproved:
		return o.driveOutlineApproved(ctx, sess)
	case api.StageChapterPending:
		return o.driveChapter(ctx, sess)
	case api.StageChapterApproved:
		return o.transition(ctx, sess, api.StageSummarizing)
	case api.StageSummarizing:
		return o.driveSummarizing(ctx, sess)
	case api.StageFinalRevision:
		return o.driveFinalRevision(ctx, sess)
	default:
		return fmt.Errorf("no transition from stage %s", sess.Stage)
	}
}

func (o *orchestratorImpl) driveInit(ctx context.Context, sess *api.Session) error {
	// Seed the memory log exactly once; a session re-driven through Init
	// after a crash must not duplicate the opening message.
	msgs, err := o.memory.Context(ctx, sess.ID)
	if err != nil {
		return &api.PersistenceError{Op: "memory_context", Err: err}
	}
	if len(msgs) == 0 {
		if err := o.memory.Append(ctx, sess.ID, generation.StartMessage(sess.Title, sess.Notes)); err != nil {
			return &api.PersistenceError{Op: "memory_append", Err: err}
		}
	}
	return o.transition(ctx, sess, api.StageOutlinePending)
}

func (o *orchestratorImpl) driveOutline(ctx context.Context, sess *api.Session) error {
	rev := sess.OutlineRevision + 1

	var msgs []api.Message
	kind := api.GenerateOutline
	if sess.OutlineRevision == 0 {
		msgs = generation.OutlineMessages(sess.Title, sess.Notes)
	} else {
		prior, err := o.state.GetOutline(ctx, sess.ID)
		if err != nil {
			return &api.PersistenceError{Op: "get_outline", Err: err}
		}
		kind = api.GenerateRevision
		msgs = generation.OutlineRevisionMessages(prior.Content, o.lastReviewerComment(ctx, sess.ID))
	}

	content, err := o.generate(ctx, sess, kind, msgs)
	if err != nil {
		return o.failIfGeneration(ctx, sess, err)
	}

	outline := &api.Outline{
		SessionID: sess.ID,
		Revision:  rev,
		Content:   content,
		Chapters:  generation.ParseOutline(content),
	}
	if err := o.state.PutOutline(ctx, outline); err != nil {
		return &api.PersistenceError{Op: "put_outline", Err: err}
	}
	if err := o.appendAssistant(ctx, sess.ID, content); err != nil {
		return err
	}

	sess.OutlineRevision = rev
	if err := o.transition(ctx, sess, api.StageOutlineReview); err != nil {
		return err
	}
	if err := o.channel.Publish(ctx, sess.ID, api.OutlineTarget(), rev, content); err != nil {
		return err
	}
	o.notify(ctx, sess, api.Notification{
		Subject: fmt.Sprintf("[%s] Outline ready for review (revision %d)", sess.Title, rev),
		Body: fmt.Sprintf("Revision %d of the outline for **%s** is in the review workbook.\n\n%s",
			rev, sess.Title, reviewInstructions),
	})
	return nil
}

func (o *orchestratorImpl) driveOutlineApproved(ctx context.Context, sess *api.Session) error {
	outline, err := o.state.GetOutline(ctx, sess.ID)
	if err != nil {
		return &api.PersistenceError{Op: "get_outline", Err: err}
	}
	if len(outline.Chapters) == 0 {
		genErr := &api.GenerationError{
			Kind:     api.GenerateOutline,
			Attempts: 1,
			Err:      errors.New("approved outline has no parseable chapters"),
		}
		o.fail(ctx, sess, genErr)
		return genErr
	}
	sess.Chapter = 1
	return o.transition(ctx, sess, api.StageChapterPending)
}

func (o *orchestratorImpl) driveChapter(ctx context.Context, sess *api.Session) error {
	ch := sess.Chapter
	rev := sess.ChapterRevision(ch) + 1

	var msgs []api.Message
	kind := api.GenerateChapter
	if rev == 1 {
		outline, err := o.state.GetOutline(ctx, sess.ID)
		if err != nil {
			return &api.PersistenceError{Op: "get_outline", Err: err}
		}
		summaries, err := o.history.Summaries(ctx, sess.ID)
		if err != nil {
			return &api.PersistenceError{Op: "summaries", Err: err}
		}
		msgs = generation.ChapterMessages(sess.Title, outline.Content, summaries, ch)
	} else {
		prior, err := o.state.GetDraft(ctx, sess.ID, ch)
		if err != nil {
			return &api.PersistenceError{Op: "get_draft", Err: err}
		}
		kind = api.GenerateRevision
		msgs = generation.ChapterRevisionMessages(ch, prior.Content, o.lastReviewerComment(ctx, sess.ID))
	}

	content, err := o.generate(ctx, sess, kind, msgs)
	if err != nil {
		return o.failIfGeneration(ctx, sess, err)
	}

	draft := &api.ChapterDraft{
		SessionID: sess.ID,
		Chapter:   ch,
		Revision:  rev,
		Content:   content,
	}
	if err := o.state.PutDraft(ctx, draft); err != nil {
		return &api.PersistenceError{Op: "put_draft", Err: err}
	}
	if err := o.appendAssistant(ctx, sess.ID, content); err != nil {
		return err
	}

	if sess.ChapterRevisions == nil {
		sess.ChapterRevisions = map[int]int{}
	}
	sess.ChapterRevisions[ch] = rev
	if err := o.transition(ctx, sess, api.StageChapterReview); err != nil {
		return err
	}
	if err := o.channel.Publish(ctx, sess.ID, api.ChapterTarget(ch), rev, content); err != nil {
		return err
	}
	o.notify(ctx, sess, api.Notification{
		Subject: fmt.Sprintf("[%s] Chapter %d ready for review (revision %d)", sess.Title, ch, rev),
		Body: fmt.Sprintf("Revision %d of chapter %d is in the review workbook.\n\n%s",
			rev, ch, reviewInstructions),
	})
	return nil
}

func (o *orchestratorImpl) driveSummarizing(ctx context.Context, sess *api.Session) error {
	ch := sess.Chapter
	draft, err := o.state.GetDraft(ctx, sess.ID, ch)
	if err != nil {
		return &api.PersistenceError{Op: "get_draft", Err: err}
	}

	summary, err := o.generate(ctx, sess, api.GenerateSummary, generation.SummaryMessages(draft.Content))
	if err != nil {
		return o.failIfGeneration(ctx, sess, err)
	}

	// A failed history write leaves the session parked here; Resume retries
	// the summary without touching the approved draft.
	if err := o.history.RecordSummary(ctx, api.ChapterSummary{
		SessionID:  sess.ID,
		Chapter:    ch,
		Content:    summary,
		RecordedAt: time.Now().UTC(),
	}); err != nil {
		return &api.PersistenceError{Op: "record_summary", Err: err}
	}
	if err := o.appendAssistant(ctx, sess.ID, summary); err != nil {
		return err
	}

	outline, err := o.state.GetOutline(ctx, sess.ID)
	if err != nil {
		return &api.PersistenceError{Op: "get_outline", Err: err}
	}
	if ch < len(outline.Chapters) {
		sess.Chapter = ch + 1
		return o.transition(ctx, sess, api.StageChapterPending)
	}
	if o.finalReview {
		return o.beginFinalReview(ctx, sess)
	}
	return o.complete(ctx, sess)
}

func (o *orchestratorImpl) beginFinalReview(ctx context.Context, sess *api.Session) error {
	manuscript, err := o.assembleManuscript(ctx, sess)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, sess, api.StageFinalReview); err != nil {
		return err
	}
	if err := o.channel.Publish(ctx, sess.ID, api.ManuscriptTarget(), manuscriptRevision, manuscript); err != nil {
		return err
	}
	o.notify(ctx, sess, api.Notification{
		Subject: fmt.Sprintf("[%s] Manuscript ready for final review", sess.Title),
		Body: fmt.Sprintf("The assembled manuscript of **%s** is in the review workbook. Approve to finish the book, or request one more revision pass.\n\n%s",
			sess.Title, reviewInstructions),
	})
	return nil
}

func (o *orchestratorImpl) driveFinalRevision(ctx context.Context, sess *api.Session) error {
	manuscript, err := o.assembleManuscript(ctx, sess)
	if err != nil {
		return err
	}

	revised, err := o.generate(ctx, sess, api.GenerateRevision,
		generation.ManuscriptRevisionMessages(manuscript, o.lastReviewerComment(ctx, sess.ID)))
	if err != nil {
		return o.failIfGeneration(ctx, sess, err)
	}
	if err := o.appendAssistant(ctx, sess.ID, revised); err != nil {
		return err
	}

	if err := o.transition(ctx, sess, api.StageBookComplete); err != nil {
		return err
	}
	o.notify(ctx, sess, api.Notification{
		Subject: fmt.Sprintf("[%s] Book complete", sess.Title),
		Body:    fmt.Sprintf("The revised manuscript of **%s** is attached.", sess.Title),
		Attachment: &api.Attachment{
			Filename: api.SanitizeTitle(sess.Title) + ".md",
			Content:  []byte(revised),
		},
	})
	return nil
}

func (o *orchestratorImpl) complete(ctx context.Context, sess *api.Session) error {
	manuscript, err := o.assembleManuscript(ctx, sess)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, sess, api.StageBookComplete); err != nil {
		return err
	}
	o.notify(ctx, sess, api.Notification{
		Subject: fmt.Sprintf("[%s] Book complete", sess.Title),
		Body:    fmt.Sprintf("All chapters of **%s** are approved. The full manuscript is attached.", sess.Title),
		Attachment: &api.Attachment{
			Filename: api.SanitizeTitle(sess.Title) + ".md",
			Content:  []byte(manuscript),
		},
	})
	return nil
}

// consumeFeedback polls the channel for the session's current review target
// and applies the decision if one is present. It reports whether a decision
// was consumed; pending feedback is left untouched so polling stays
// idempotent. At most one decision is consumed per call.
func (o *orchestratorImpl) consumeFeedback(ctx context.Context, sess *api.Session) (bool, error) {
	target, rev := reviewTarget(sess)

	rec, err := o.channel.Poll(ctx, sess.ID, target, rev)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if c := strings.TrimSpace(rec.Comments); c != "" {
		msg := api.Message{Role: api.RoleReviewer, Content: c, At: time.Now().UTC()}
		if err := o.memory.Append(ctx, sess.ID, msg); err != nil {
			return false, &api.PersistenceError{Op: "memory_append", Err: err}
		}
	}

	switch sess.Stage {
	case api.StageOutlineReview:
		if rec.Decision == api.DecisionApprove {
			if err := o.approveOutline(ctx, sess); err != nil {
				return false, err
			}
			return true, o.transition(ctx, sess, api.StageOutlineApproved)
		}
		return true, o.transition(ctx, sess, api.StageOutlinePending)

	case api.StageChapterReview:
		if rec.Decision == api.DecisionApprove {
			if err := o.approveDraft(ctx, sess); err != nil {
				return false, err
			}
			return true, o.transition(ctx, sess, api.StageChapterApproved)
		}
		return true, o.transition(ctx, sess, api.StageChapterPending)

	case api.StageFinalReview:
		if rec.Decision == api.DecisionApprove {
			return true, o.complete(ctx, sess)
		}
		return true, o.transition(ctx, sess, api.StageFinalRevision)
	}
	return false, nil
}

func (o *orchestratorImpl) approveOutline(ctx context.Context, sess *api.Session) error {
	outline, err := o.state.GetOutline(ctx, sess.ID)
	if err != nil {
		return &api.PersistenceError{Op: "get_outline", Err: err}
	}
	outline.Approved = true
	if err := o.state.PutOutline(ctx, outline); err != nil {
		return &api.PersistenceError{Op: "put_outline", Err: err}
	}
	return nil
}

func (o *orchestratorImpl) approveDraft(ctx context.Context, sess *api.Session) error {
	draft, err := o.state.GetDraft(ctx, sess.ID, sess.Chapter)
	if err != nil {
		return &api.PersistenceError{Op: "get_draft", Err: err}
	}
	draft.Approved = true
	if err := o.state.PutDraft(ctx, draft); err != nil {
		return &api.PersistenceError{Op: "put_draft", Err: err}
	}
	return nil
}

// republish re-sends the current review artifact to the feedback channel.
// Publish never touches reviewer cells, so repeating it is safe; this covers
// a crash between persisting an artifact and publishing it.
func (o *orchestratorImpl) republish(ctx context.Context, sess *api.Session) error {
	target, rev := reviewTarget(sess)
	content, err := o.artifactContent(ctx, sess, target)
	if err != nil {
		return err
	}
	return o.channel.Publish(ctx, sess.ID, target, rev, content)
}

func (o *orchestratorImpl) artifactContent(ctx context.Context, sess *api.Session, target api.ReviewTarget) (string, error) {
	switch {
	case target.Manuscript:
		return o.assembleManuscript(ctx, sess)
	case target.Chapter > 0:
		draft, err := o.state.GetDraft(ctx, sess.ID, target.Chapter)
		if err != nil {
			return "", &api.PersistenceError{Op: "get_draft", Err: err}
		}
		return draft.Content, nil
	default:
		outline, err := o.state.GetOutline(ctx, sess.ID)
		if err != nil {
			return "", &api.PersistenceError{Op: "get_outline", Err: err}
		}
		return outline.Content, nil
	}
}

func (o *orchestratorImpl) assembleManuscript(ctx context.Context, sess *api.Session) (string, error) {
	drafts, err := o.state.ListDrafts(ctx, sess.ID)
	if err != nil {
		return "", &api.PersistenceError{Op: "list_drafts", Err: err}
	}
	return api.AssembleManuscript(sess.Title, drafts), nil
}

// reviewTarget maps a review stage to the (target, revision) pair the
// feedback channel is keyed by.
func reviewTarget(sess *api.Session) (api.ReviewTarget, int) {
	switch sess.Stage {
	case api.StageChapterReview:
		return api.ChapterTarget(sess.Chapter), sess.ChapterRevision(sess.Chapter)
	case api.StageFinalReview:
		return api.ManuscriptTarget(), manuscriptRevision
	default:
		return api.OutlineTarget(), sess.OutlineRevision
	}
}

// transition moves the session to the given stage and persists it. On a
// failed update the in-memory stage is rolled back so the caller never holds
// a session ahead of the store.
func (o *orchestratorImpl) transition(ctx context.Context, sess *api.Session, to api.Stage) error {
	from := sess.Stage
	sess.Stage = to
	sess.UpdatedAt = time.Now().UTC()
	if err := o.state.UpdateSession(ctx, sess); err != nil {
		sess.Stage = from
		return &api.PersistenceError{Op: "update_session", Err: err}
	}
	o.observer.OnStageTransition(ctx, sess, from, to)
	if to == api.StageBookComplete {
		o.observer.OnSessionCompleted(ctx, sess)
	}
	return nil
}

// fail marks the session failed and records why. The update is best-effort:
// when the store itself is down there is nothing better to do than log and
// let the caller surface the original cause.
func (o *orchestratorImpl) fail(ctx context.Context, sess *api.Session, cause error) {
	from := sess.Stage
	sess.Stage = api.StageFailed
	sess.FailureReason = cause.Error()
	sess.UpdatedAt = time.Now().UTC()
	if err := o.state.UpdateSession(ctx, sess); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist session failure",
			slog.String("session_id", sess.ID),
			slog.Any("error", err),
		)
	}
	o.observer.OnStageTransition(ctx, sess, from, api.StageFailed)
	o.observer.OnSessionFailed(ctx, sess, cause)
}

func (o *orchestratorImpl) appendAssistant(ctx context.Context, sessionID, content string) error {
	msg := api.Message{Role: api.RoleAssistant, Content: content, At: time.Now().UTC()}
	if err := o.memory.Append(ctx, sessionID, msg); err != nil {
		return &api.PersistenceError{Op: "memory_append", Err: err}
	}
	return nil
}

// lastReviewerComment returns the most recent reviewer message from the
// session memory, or a generic instruction when the reviewer left none.
func (o *orchestratorImpl) lastReviewerComment(ctx context.Context, sessionID string) string {
	msgs, err := o.memory.Context(ctx, sessionID)
	if err != nil {
		o.logger.WarnContext(ctx, "memory read failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return genericRevisionNote
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == api.RoleReviewer && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return genericRevisionNote
}

// notify delivers a notification best-effort. Failures are observed and
// logged, never propagated; a dead SMTP server must not stall a session.
func (o *orchestratorImpl) notify(ctx context.Context, sess *api.Session, n api.Notification) {
	n.SessionID = sess.ID
	if err := o.sink.Notify(ctx, n); err != nil {
		o.observer.OnNotificationFailure(ctx, sess, err)
		o.logger.WarnContext(ctx, "notification failed",
			slog.String("session_id", sess.ID),
			slog.String("subject", n.Subject),
			slog.Any("error", err),
		)
	}
}
