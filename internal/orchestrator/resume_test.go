package orchestrator

import (
	"context"
	"testing"

	"github.com/jmakela/tome/internal/generation"
	"github.com/jmakela/tome/internal/persistence"
	"github.com/jmakela/tome/pkg/api"
)

// TestResume_SurvivesProcessRestart drives a book to the chapter 3 review
// checkpoint, throws the orchestrator away, and continues with a fresh one
// over the same stores. Nothing already generated may be generated again.
func TestResume_SurvivesProcessRestart(t *testing.T) {
	forEachBackend(t, func(t *testing.T, per persistence.Persistence) {
		env := newTestEnv(t, per, nil)
		ctx := context.Background()

		env.gen.Push(outlineText(4),
			"Chapter one.", "Summary one.",
			"Chapter two.", "Summary two.",
			"Chapter three.")

		if _, err := env.orch.StartSession(ctx, api.StartRequest{ID: "restart", Title: "Interrupted"}); err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		env.channel.Approve("restart", api.OutlineTarget(), 1)
		if _, err := env.orch.CheckPendingFeedback(ctx, "restart"); err != nil {
			t.Fatalf("outline approval failed: %v", err)
		}
		for i := 1; i <= 2; i++ {
			env.channel.Approve("restart", api.ChapterTarget(i), 1)
			if _, err := env.orch.CheckPendingFeedback(ctx, "restart"); err != nil {
				t.Fatalf("chapter %d approval failed: %v", i, err)
			}
		}

		sess, err := env.orch.GetSession(ctx, "restart")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if sess.Stage != api.StageChapterReview || sess.Chapter != 3 {
			t.Fatalf("expected CHAPTER_REVIEW chapter 3, got %s chapter %d", sess.Stage, sess.Chapter)
		}

		// "Restart": a new orchestrator over the same persistence and
		// channel, with a generator that only knows what comes next.
		gen2 := generation.NewScriptedGenerator("Summary three.", "Chapter four.")
		orch2, err := New(Config{
			Persistence: per,
			Generator:   gen2,
			Channel:     env.channel,
			Sink:        &captureSink{},
			Retry:       api.RetryPolicy{MaxAttempts: 1},
			Logger:      quietLogger(),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		pubsBefore := len(env.channel.Publications())
		sess, err = orch2.Resume(ctx, "restart")
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if sess.Stage != api.StageChapterReview || sess.Chapter != 3 {
			t.Fatalf("Resume moved the session: %s chapter %d", sess.Stage, sess.Chapter)
		}
		if len(gen2.Calls()) != 0 {
			t.Fatal("Resume at a review checkpoint must not generate")
		}
		// The pending artifact is re-published for the reviewer.
		if got := len(env.channel.Publications()); got != pubsBefore+1 {
			t.Fatalf("expected 1 re-publication, got %d", got-pubsBefore)
		}
		content, ok := env.channel.Published("restart", api.ChapterTarget(3), 1)
		if !ok || content != "Chapter three." {
			t.Fatalf("re-published content %q, ok=%v", content, ok)
		}

		// The approval is consumed by the new process; chapter 3 is
		// summarized and chapter 4 generated, nothing redone.
		env.channel.Approve("restart", api.ChapterTarget(3), 1)
		sess, err = orch2.CheckPendingFeedback(ctx, "restart")
		if err != nil {
			t.Fatalf("CheckPendingFeedback failed: %v", err)
		}
		if sess.Stage != api.StageChapterReview || sess.Chapter != 4 {
			t.Fatalf("expected CHAPTER_REVIEW chapter 4, got %s chapter %d", sess.Stage, sess.Chapter)
		}

		got := kinds(gen2.Calls())
		want := []api.GenerationKind{api.GenerateSummary, api.GenerateChapter}
		if len(got) != len(want) {
			t.Fatalf("generation kinds %v, expected %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("generation kinds %v, expected %v", got, want)
			}
		}

		draft, err := per.State.GetDraft(ctx, "restart", 3)
		if err != nil {
			t.Fatalf("GetDraft failed: %v", err)
		}
		if draft.Content != "Chapter three." || draft.Revision != 1 {
			t.Fatalf("chapter 3 was regenerated: %+v", draft)
		}
	})
}

func TestResume_NonReviewStageAdvances(t *testing.T) {
	per := newMemoryPersistence(t)
	env := newTestEnv(t, per, nil)
	ctx := context.Background()

	// A session left at INIT, as after a crash between save and first drive.
	sess := &api.Session{
		ID:               "stuck",
		Title:            "Stuck at the Gate",
		Stage:            api.StageInit,
		ChapterRevisions: map[int]int{},
	}
	if err := per.State.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	env.gen.Push(outlineText(1))
	resumed, err := env.orch.Resume(ctx, "stuck")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Stage != api.StageOutlineReview {
		t.Fatalf("expected OUTLINE_REVIEW, got %s", resumed.Stage)
	}
	if _, ok := env.channel.Published("stuck", api.OutlineTarget(), 1); !ok {
		t.Fatal("outline was never published")
	}
}

func TestResume_UnknownSession(t *testing.T) {
	env := newTestEnv(t, newMemoryPersistence(t), nil)

	if _, err := env.orch.Resume(context.Background(), "ghost"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}
