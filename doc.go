// Package retrace is an execution memoization layer for LLM-driven task
// agents. Instead of reasoning through every goal from scratch, an agent
// built on retrace records the tool sequences that solved past goals and
// replays them for similar goals, spending model tokens only where the
// stored experience does not reach.
//
// Key components:
//
//   - Store: persists trace records (goal text, tool steps, validations and
//     usage counters) behind memory and SQLite backends, and owns the
//     confidence arithmetic that evolves with replay outcomes.
//
//   - Scorer: a two-tier similarity scorer between an incoming goal and a
//     stored trace. A lexical tier answers near-identical goals without a
//     model call; a model tier judges the rest and blends the judged
//     similarity with the trace's own confidence.
//
//   - Dispatch: routes each goal by the best candidate's score. High
//     scores replay the trace deterministically, mid-range scores replay
//     with model guidance, and everything else falls through to full
//     reasoning. A failed replay re-enters through the learner within the
//     same request.
//
//   - Replay: executes a trace's steps through the security gate, tool
//     registry and per-step validations, updating the trace's counters
//     synchronously with each outcome.
//
//   - Crystal: promotes repeatedly successful traces into compiled
//     procedures that run without any model involvement.
//
//   - Learner: the bounded reasoning loop that solves unseen goals with
//     the model and records the successful tool sequence as a new draft
//     trace.
//
//   - Outcomes: per-dispatch records for cost and usage analysis, emitted
//     to a structured log or a parquet archive.
//
// Minimal usage:
//
//	cfg := config.DefaultConfig()
//	traces, _ := store.NewStore(store.Options{
//	    Store:       cfg.Store,
//	    Confidence:  cfg.Confidence,
//	    Deprecation: cfg.Deprecation,
//	})
//	llm, _ := llms.NewLLM("", "anthropic:claude-sonnet-4-5")
//
//	registry := tools.NewInMemoryToolRegistry()
//	registry.Register(myShellTool)
//
//	gate := core.AllowAllGate()
//	d := dispatch.New(traces,
//	    scorer.New(llm, cfg.Scorer),
//	    replay.NewEngine(registry, gate, traces, llm),
//	    crystal.New(traces, cfg.Crystallize),
//	    learner.New(llm, registry, gate, traces, cfg.Learner),
//	    registry, gate, outcomes.NewLogSink(nil), cfg.Dispatch)
//
//	result, err := d.Dispatch(ctx, dispatch.Goal{Text: "restart the nginx service"})
//
// Tools can come from plain Go functions (tools.NewFuncTool) or from MCP
// servers (tools.RegisterMCPTools). The security gate sees every tool call
// in every mode, including compiled procedures.
package retrace
