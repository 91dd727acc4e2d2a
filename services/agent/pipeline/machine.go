// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

var tracer = otel.Tracer("procast.agent.pipeline")

// toolDBQuery is the name of the single tool call surfaced for the
// generate/validate/execute span of a db_query run.
const toolDBQuery = "db_query"

// Config wires a Machine's collaborators and bounds.
type Config struct {
	Language  LanguageService
	Executor  QueryExecutor
	Validator SQLValidator
	Schema    SchemaSource
	Recorder  Recorder
	Limits    Limits
	Logger    *slog.Logger

	// MinConfidence is the classification confidence below which the
	// answer carries a caution note. Zero means DefaultMinConfidence.
	MinConfidence float64
}

// Machine drives requests through the pipeline. It is stateless across
// runs and safe for concurrent use; all per-request state lives in the
// run created by Run.
type Machine struct {
	language      LanguageService
	executor      QueryExecutor
	validator     SQLValidator
	schema        SchemaSource
	recorder      Recorder
	limits        Limits
	minConfidence float64
	log           *slog.Logger
}

// New creates a Machine. All collaborators except Recorder are required;
// a nil Recorder disables persistence notifications.
func New(cfg Config) (*Machine, error) {
	if cfg.Language == nil {
		return nil, fmt.Errorf("pipeline: LanguageService is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("pipeline: QueryExecutor is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("pipeline: SQLValidator is required")
	}
	if cfg.Schema == nil {
		return nil, fmt.Errorf("pipeline: SchemaSource is required")
	}

	limits, err := cfg.Limits.withDefaults()
	if err != nil {
		return nil, err
	}

	minConfidence := cfg.MinConfidence
	if minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("pipeline: MinConfidence must be within [0, 1]")
	}
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Machine{
		language:      cfg.Language,
		executor:      cfg.Executor,
		validator:     cfg.Validator,
		schema:        cfg.Schema,
		recorder:      cfg.Recorder,
		limits:        limits,
		minConfidence: minConfidence,
		log:           logger,
	}, nil
}

// Limits returns the bounds the machine was built with, so the wiring
// layer can hand the same object to the executor.
func (m *Machine) Limits() Limits { return m.limits }

// run is the mutable state of one request, owned by a single goroutine.
type run struct {
	m       *Machine
	emitter Emitter
	req     Request
	span    trace.Span
	log     *slog.Logger

	state      State
	intent     datatypes.Classification
	domains    []string
	sql        datatypes.SQLDraft
	rejections int
	lastReason string
	result     datatypes.QueryResult
	answer     strings.Builder
	confidence float64

	openCall string // tool call id awaiting its terminal output
	openText string // text unit id awaiting text-end

	llmCalls  int
	dbQueries int
}

// Run executes one request end to end, emitting protocol events through
// em as each phase happens. On success the returned AgentResult carries
// the full answer and run metadata. On failure the returned error is a
// *Failure; the error and finish events have already been emitted unless
// the client disconnected.
func (m *Machine) Run(ctx context.Context, req Request, em Emitter) (*datatypes.AgentResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	r := &run{
		m:       m,
		emitter: em,
		req:     req,
		span:    span,
		state:   StateInit,
		log:     m.log.With("session_id", req.SessionID),
	}

	result, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("intent", string(result.Intent)),
		attribute.Int("row_count", result.RowCount),
	)
	return result, nil
}

// execute walks the state machine. Every exit path other than client
// disconnect has emitted finish by the time it returns.
func (r *run) execute(ctx context.Context) (*datatypes.AgentResult, error) {
	// Step 1: open the stream and record the inbound message.
	if err := r.emit(r.emitter.EmitStart); err != nil {
		return nil, cancelledFailure(r.state, err)
	}
	r.record("user message", func() error {
		return r.m.recorder.UserMessageReceived(ctx, r.req.SessionID, r.req.UserID, r.req.Question)
	})

	// Step 2: classify the question.
	if f := r.advance(StateClassifyIntent); f != nil {
		return r.fail(f)
	}
	cls, err := r.m.language.Classify(ctx, r.req.Question, r.req.History)
	r.llmCalls++
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(cancelledFailure(r.state, ctx.Err()))
		}
		return r.fail(classificationFailure(r.state, err))
	}
	if !cls.Intent.Valid() {
		return r.fail(classificationFailure(r.state, fmt.Errorf("unrecognized intent %q", cls.Intent)))
	}
	r.intent = cls
	r.confidence = cls.Confidence
	r.log.Info("intent classified",
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"requires_db_query", cls.RequiresDBQuery)

	// Step 3: route by intent. Non-data branches answer directly with no
	// tool events.
	switch {
	case cls.Intent == datatypes.IntentClarify || len(cls.ClarificationQuestions) > 0:
		if f := r.advance(StateClarify); f != nil {
			return r.fail(f)
		}
		return r.respondDirect(ctx, clarifyReply(cls.ClarificationQuestions))

	case cls.Intent == datatypes.IntentGeneralInfo && !cls.RequiresDBQuery:
		if f := r.advance(StateGeneralInfo); f != nil {
			return r.fail(f)
		}
		return r.respondDirect(ctx, generalInfoReply(r.m.schema.Summary()))

	case cls.Intent == datatypes.IntentFriendlyChat:
		if f := r.advance(StateFriendlyChat); f != nil {
			return r.fail(f)
		}
		return r.respondDirect(ctx, friendlyReply(r.req.Question))
	}

	// Step 4: db_query branch.
	return r.executeDataBranch(ctx)
}

// respondDirect streams a prepared reply as one text unit and finishes.
// Used by the clarify, general_info and friendly_chat branches.
func (r *run) respondDirect(ctx context.Context, reply string) (*datatypes.AgentResult, error) {
	if f := r.advance(StateFormatResponse); f != nil {
		return r.fail(f)
	}
	if err := r.streamText(reply); err != nil {
		return r.fail(cancelledFailure(r.state, err))
	}
	return r.finish(ctx)
}

// executeDataBranch runs SelectDomains through FormatResponse for a
// data-backed answer.
func (r *run) executeDataBranch(ctx context.Context) (*datatypes.AgentResult, error) {
	// Step 1: pick schema domains deterministically from the registry.
	if f := r.advance(StateSelectDomains); f != nil {
		return r.fail(f)
	}
	r.domains = r.m.schema.SelectDomains(r.req.Question)
	allowed := r.m.schema.TablesFor(r.domains)
	schemaCtx := r.m.schema.ContextFor(r.domains)
	r.log.Info("domains selected", "domains", r.domains, "table_count", len(allowed))

	// Step 2: generate and validate SQL, bounded by the attempt limit.
	// The whole generate/validate/execute span is one tool call on the
	// wire; each candidate is published under the same call id.
	if f := r.advance(StateGenerateSQL); f != nil {
		return r.fail(f)
	}
	r.openCall = wire.NewCallID()
	if err := r.emit(func() error {
		return r.emitter.EmitToolInputStart(r.openCall, toolDBQuery)
	}); err != nil {
		return r.fail(cancelledFailure(r.state, err))
	}

	accepted := false
	priorErr := ""
	for attempt := 1; attempt <= r.m.limits.AttemptLimit; attempt++ {
		if attempt > 1 {
			if f := r.advance(StateGenerateSQL); f != nil {
				return r.fail(f)
			}
		}

		draft, err := r.m.language.GenerateSQL(ctx, GenerateRequest{
			Question:      r.req.Question,
			History:       r.req.History,
			SchemaContext: schemaCtx,
			PriorError:    priorErr,
		})
		r.llmCalls++
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(cancelledFailure(r.state, ctx.Err()))
			}
			// A generation failure consumes an attempt like any
			// rejection; there is no SQL to publish or validate.
			r.log.Warn("SQL generation call failed", "attempt", attempt, "error", err)
			draft = datatypes.SQLDraft{}
		}

		var verdict Verdict
		if draft.SQL == "" {
			verdict = Verdict{Reason: "No SQL query generated"}
		} else {
			r.sql = draft
			if err := r.emit(func() error {
				return r.emitter.EmitToolInputAvailable(r.openCall, toolDBQuery, map[string]any{"sql": draft.SQL})
			}); err != nil {
				return r.fail(cancelledFailure(r.state, err))
			}
			if f := r.advance(StateValidateSQL); f != nil {
				return r.fail(f)
			}
			verdict = r.m.validator.Check(draft.SQL, allowed)
		}

		if verdict.Accepted {
			accepted = true
			break
		}

		r.rejections++
		r.lastReason = verdict.Reason
		priorErr = verdict.Reason
		r.log.Info("SQL candidate rejected",
			"attempt", attempt,
			"rejections", r.rejections,
			"reason", verdict.Reason)

		// Walk the back-edge so the state history stays truthful even
		// when the candidate was empty and validation was short-cut.
		if r.state != StateValidateSQL {
			if f := r.advance(StateValidateSQL); f != nil {
				return r.fail(f)
			}
		}
	}

	if !accepted {
		return r.fail(exhaustedFailure(r.state, r.lastReason))
	}

	r.record("generated sql", func() error {
		return r.m.recorder.SQLGenerated(ctx, r.req.SessionID, r.sql.SQL, r.domains)
	})

	// Step 3: execute the validated query. Execution failures are
	// terminal; the SQL was already proven valid, so regenerating it
	// would not help.
	if f := r.advance(StateExecuteQuery); f != nil {
		return r.fail(f)
	}
	r.dbQueries++
	result, err := r.m.executor.Run(ctx, r.sql.SQL, r.req.Scope)
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(cancelledFailure(r.state, ctx.Err()))
		}
		return r.fail(executionFailure(r.state, err))
	}
	r.result = result
	r.record("query completion", func() error {
		return r.m.recorder.QueryCompleted(ctx, r.req.SessionID, result.RowCount, result.Truncated, result.Duration)
	})
	if err := r.emit(func() error {
		return r.emitter.EmitToolOutputAvailable(r.openCall, map[string]any{
			"row_count": result.RowCount,
			"truncated": result.Truncated,
		})
	}); err != nil {
		return r.fail(cancelledFailure(r.state, err))
	}
	r.openCall = ""
	r.log.Info("query executed", "row_count", result.RowCount, "truncated", result.Truncated)

	// Step 4: stream the analysis live.
	if f := r.advance(StateAnalyzeResults); f != nil {
		return r.fail(f)
	}
	r.openText = wire.NewTextID()
	if err := r.emit(func() error { return r.emitter.EmitTextStart(r.openText) }); err != nil {
		return r.fail(cancelledFailure(r.state, err))
	}

	if result.RowCount == 0 {
		r.confidence = emptyResultConfidence
		if err := r.streamDeltas(emptyResultReply()); err != nil {
			return r.fail(cancelledFailure(r.state, err))
		}
	} else {
		err := r.m.language.Synthesize(ctx, SynthesizeRequest{
			Question: r.req.Question,
			History:  r.req.History,
			SQL:      r.sql.SQL,
			Result:   result,
		}, func(delta string) error {
			if err := r.emit(func() error { return r.emitter.EmitTextDelta(r.openText, delta) }); err != nil {
				return err
			}
			r.answer.WriteString(delta)
			return nil
		})
		r.llmCalls++
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(cancelledFailure(r.state, ctx.Err()))
			}
			return r.fail(&Failure{Kind: FailInternal, Stage: r.state, Err: err})
		}
	}

	// Step 5: close out the answer and finish.
	if f := r.advance(StateFormatResponse); f != nil {
		return r.fail(f)
	}
	if r.confidence > 0 && r.confidence < r.m.minConfidence {
		note := lowConfidenceNote(r.confidence)
		if err := r.emit(func() error { return r.emitter.EmitTextDelta(r.openText, note) }); err != nil {
			return r.fail(cancelledFailure(r.state, err))
		}
		r.answer.WriteString(note)
	}
	if err := r.emit(func() error { return r.emitter.EmitTextEnd(r.openText) }); err != nil {
		return r.fail(cancelledFailure(r.state, err))
	}
	r.openText = ""

	return r.finish(ctx)
}

// finish records the assistant message, emits finish, and assembles the
// run's result.
func (r *run) finish(ctx context.Context) (*datatypes.AgentResult, error) {
	answer := r.answer.String()
	r.record("assistant message", func() error {
		return r.m.recorder.AssistantMessageFinalized(ctx, r.req.SessionID, answer)
	})

	if f := r.advance(StateDone); f != nil {
		return r.fail(f)
	}
	if err := r.emit(r.emitter.EmitFinish); err != nil {
		r.log.Warn("finish event lost to closed transport", "error", err)
	}

	return &datatypes.AgentResult{
		Response:       answer,
		Intent:         r.intent.Intent,
		Domains:        r.domains,
		SQL:            r.sql.SQL,
		SQLExplanation: r.sql.Explanation,
		RowCount:       r.result.RowCount,
		Confidence:     r.confidence,
		SessionID:      r.req.SessionID,
		LLMCalls:       r.llmCalls,
		DBQueries:      r.dbQueries,
		Rejections:     r.rejections,
	}, nil
}

// fail drives the Error terminal: close any open text unit, emit the
// tool error for an open call, then the stream error and finish. A
// cancelled failure skips all emission since the transport is gone.
func (r *run) fail(f *Failure) (*datatypes.AgentResult, error) {
	prior := r.state
	r.state = StateError

	if f.Kind == FailCancelled {
		r.log.Info("client disconnected", "state", prior)
		return nil, f
	}

	r.log.Error("pipeline failed",
		"state", prior,
		"kind", f.Kind,
		"error", f.Err)

	if r.openText != "" {
		_ = r.emit(func() error { return r.emitter.EmitTextEnd(r.openText) })
		r.openText = ""
	}
	if r.openCall != "" {
		_ = r.emit(func() error { return r.emitter.EmitToolOutputError(r.openCall, f.ToolMessage()) })
		r.openCall = ""
	}
	_ = r.emit(func() error { return r.emitter.EmitError(f.UserMessage()) })
	_ = r.emit(r.emitter.EmitFinish)

	return nil, f
}

// advance moves to the next state, rejecting anything outside the
// transition table.
func (r *run) advance(next State) *Failure {
	if !r.state.CanTransitionTo(next) {
		err := fmt.Errorf("illegal transition %s -> %s", r.state, next)
		r.log.Error("pipeline invariant violated", "error", err)
		return protocolFailure(r.state, err)
	}
	r.log.Debug("state transition", "from", r.state, "to", next)
	r.span.AddEvent(string(next))
	r.state = next
	return nil
}

// emit invokes one emitter call. Ordering violations are logged loudly
// and swallowed so a programming error degrades a single frame instead
// of crashing the stream; any other error means the transport is gone.
func (r *run) emit(call func() error) error {
	err := call()
	if err == nil {
		return nil
	}
	if errors.Is(err, wire.ErrOrdering) {
		r.log.Error("stream protocol violation", "state", r.state, "error", err)
		return nil
	}
	return err
}

// streamText opens a text unit, streams the full reply in chunks, and
// closes the unit. Used for prepared (non-synthesized) answers.
func (r *run) streamText(reply string) error {
	r.openText = wire.NewTextID()
	if err := r.emit(func() error { return r.emitter.EmitTextStart(r.openText) }); err != nil {
		return err
	}
	if err := r.streamDeltas(reply); err != nil {
		return err
	}
	if err := r.emit(func() error { return r.emitter.EmitTextEnd(r.openText) }); err != nil {
		return err
	}
	r.openText = ""
	return nil
}

// streamDeltas chunks text into the open unit, accumulating the answer.
func (r *run) streamDeltas(text string) error {
	for _, chunk := range wire.ChunkText(text, wire.DefaultChunkSize) {
		if err := r.emit(func() error { return r.emitter.EmitTextDelta(r.openText, chunk) }); err != nil {
			return err
		}
		r.answer.WriteString(chunk)
	}
	return nil
}

// record runs one best-effort persistence notification. A recorder
// failure never interrupts the stream.
func (r *run) record(what string, call func() error) {
	if r.m.recorder == nil {
		return
	}
	if err := call(); err != nil {
		r.log.Warn("failed to record "+what, "error", err)
	}
}
