// Package tome turns an LLM into a supervised book-writing workflow.
//
// Tome drives a book from title to finished manuscript one stage at a time:
// it generates an outline, then each chapter in order, and condenses every
// approved chapter into a summary that conditions the next one. After each
// generation the workflow parks at a human review checkpoint; a reviewer
// reads the artifact in a shared workbook, types a decision, and the
// workflow either moves on or regenerates with their comments folded in.
// All state is persisted, so a session survives process restarts and can be
// resumed from exactly where it stopped.
//
// # Core Concepts
//
// The programming model is small:
//
//  1. Orchestrator
//  2. Generator
//  3. FeedbackChannel
//  4. NotificationSink
//  5. Poller
//
// # Orchestrator
//
// The Orchestrator owns the session state machine. It persists sessions,
// outlines, chapter drafts, the conversation memory and chapter summaries,
// and provides APIs to:
//   - start sessions
//   - poll for reviewer feedback and advance
//   - resume sessions after a crash or a frozen persistence failure
//   - inspect and abandon sessions
//
// Orchestrators can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// Chapter summaries can additionally live in MongoDB via
// NewMongoHistoryStore, combined with any state backend.
//
// A session is safe to share between processes: every mutating call takes a
// lease, and a concurrent caller gets ErrSessionBusy instead of a torn
// write.
//
// # Generator
//
// A Generator produces text from a conditioning context. The default is
// NewOpenAIGenerator (chat completions against OpenAI or any compatible
// endpoint); NewScriptedGenerator serves canned outputs for tests and dry
// runs. Generation is retried with exponential backoff, and a session whose
// retries are exhausted is marked failed with the reason recorded.
//
// # FeedbackChannel
//
// The FeedbackChannel is the reviewer's surface. NewWorkbookChannel
// publishes each artifact revision as a row in an Excel workbook with empty
// Decision and Comments cells; reviewers fill them in with plain words like
// "approve" or "redo". Feedback is keyed by revision, so a stale verdict
// left on an earlier revision is never mistaken for an answer about the
// current one.
//
// # NotificationSink
//
// Sinks tell humans the workflow is waiting on them. NewSMTPSink emails
// review requests and attaches the finished manuscript; NewLoggingSink
// writes them to a logger; NewMultiSink fans out to several. Delivery is
// best-effort and never blocks the workflow.
//
// # Poller
//
// A Poller scans for sessions parked at review checkpoints on an interval
// and funnels new decisions through the orchestrator, so books keep moving
// without anyone calling CheckPendingFeedback by hand.
//
// # Example
//
//	gen, _ := tome.NewOpenAIGenerator(tome.GeneratorOptions{Model: "gpt-4o", APIKey: key})
//	channel, _ := tome.NewWorkbookChannel("reviews.xlsx")
//	orch, _ := tome.NewInMemoryOrchestrator(tome.Options{
//	    Generator: gen,
//	    Channel:   channel,
//	    Sink:      tome.NewLoggingSink(nil),
//	})
//
//	sess, _ := orch.StartSession(ctx, tome.StartRequest{Title: "Sea Stories"})
//	// ... reviewer approves the outline in reviews.xlsx ...
//	sess, _ = orch.CheckPendingFeedback(ctx, sess.ID)
//
// For complete programs, see the /examples directory.
package tome
