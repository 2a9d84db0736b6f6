// Package router orchestrates the query pipeline: mask, recognize, expand,
// route (simple / complex / hybrid), retrieve, pseudonymize, analyze,
// reverse. It owns the privacy contract: raw PII never crosses an LLM
// boundary, and every request leaves exactly one audit trail entry.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"temuan/internal/department"
	"temuan/internal/dictionary"
	"temuan/internal/intent"
	"temuan/internal/llm"
	"temuan/internal/logging"
	"temuan/internal/masker"
	"temuan/internal/pseudonym"
	"temuan/internal/retrieval"
	"temuan/internal/store"
	"temuan/internal/types"
)

// QueryExecutor is the store surface the router needs (C6).
type QueryExecutor interface {
	Query(ctx context.Context, f types.Filters, opts store.QueryOptions) ([]types.AuditRecord, error)
}

// ContextBuilder is the ranking surface (C7).
type ContextBuilder interface {
	Build(ctx context.Context, candidates []types.AuditRecord, ri types.RecognizedIntent, strategy retrieval.Strategy) ([]types.AuditRecord, retrieval.BuildStats)
}

// Pseudonymizer is the session-mapping surface (C8). nil disables the
// complex/hybrid paths (they downgrade to simple with a notice).
type Pseudonymizer interface {
	PseudonymizeRecords(ctx context.Context, records []types.AuditRecord, sessionID, userID string) ([]types.AuditRecord, []pseudonym.Mapping, error)
	Depseudonymize(ctx context.Context, text, sessionID string) (string, error)
}

// Config bundles the router's tunables.
type Config struct {
	PageSize          int
	MaxPageSize       int
	StorageTimeout    time.Duration
	GenerativeTimeout time.Duration
}

// Router is the pipeline entry point (C9).
type Router struct {
	masker     *masker.Masker
	dict       *dictionary.Dictionary
	depts      *department.Index
	recognizer *intent.Recognizer
	extractor  *intent.Extractor
	executor   QueryExecutor
	builder    ContextBuilder
	pseudo     Pseudonymizer
	generative llm.Client
	audit      logging.AuditSink
	cfg        Config
}

// New wires the pipeline. generative and pseudo may be nil; the router
// degrades per the failure rules instead of refusing to start.
func New(
	m *masker.Masker,
	dict *dictionary.Dictionary,
	depts *department.Index,
	recognizer *intent.Recognizer,
	extractor *intent.Extractor,
	executor QueryExecutor,
	builder ContextBuilder,
	pseudo Pseudonymizer,
	generative llm.Client,
	audit logging.AuditSink,
	cfg Config,
) *Router {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 10 * time.Second
	}
	if cfg.GenerativeTimeout <= 0 {
		cfg.GenerativeTimeout = 30 * time.Second
	}
	if audit == nil {
		audit = logging.NopAuditSink{}
	}
	return &Router{
		masker:     m,
		dict:       dict,
		depts:      depts,
		recognizer: recognizer,
		extractor:  extractor,
		executor:   executor,
		builder:    builder,
		pseudo:     pseudo,
		generative: generative,
		audit:      audit,
		cfg:        cfg,
	}
}

// ProcessQuery runs the full pipeline for one user query.
// On failure the returned error is always a *Error from the taxonomy.
func (r *Router) ProcessQuery(ctx context.Context, userQuery string, opts Options) (*Response, *Error) {
	started := time.Now()
	resp, rerr := r.process(ctx, userQuery, opts, started)

	// Exactly one audit entry per request: query or query_failure.
	if rerr != nil {
		r.auditRequest(ctx, opts, logging.ActionQueryFailure, map[string]interface{}{
			"code":       string(rerr.Code),
			"durationMs": time.Since(started).Milliseconds(),
		})
		logging.Router("request failed: code=%s session=%s", rerr.Code, opts.SessionID)
		return nil, rerr
	}
	r.auditRequest(ctx, opts, logging.ActionQuery, map[string]interface{}{
		"type":       string(resp.Type),
		"durationMs": resp.Metadata.ExecutionTimeMs,
		"findings":   resp.Metadata.FindingsAnalyzed,
	})
	logging.Router("request served: type=%s findings=%d durationMs=%d session=%s",
		resp.Type, resp.Metadata.FindingsAnalyzed, resp.Metadata.ExecutionTimeMs, opts.SessionID)
	return resp, nil
}

func (r *Router) process(ctx context.Context, userQuery string, opts Options, started time.Time) (*Response, *Error) {
	if !validThinkingModes[opts.ThinkingMode] {
		return nil, newError(CodeValidation,
			fmt.Sprintf("unknown thinkingMode %q", opts.ThinkingMode),
			`use "fast" or "thorough"`, nil)
	}
	if opts.SessionID == "" || opts.UserID == "" {
		return nil, newError(CodeValidation, "sessionId and userId are required", "", nil)
	}

	// Step 1: mask PII before anything leaves the process.
	masked := r.masker.Mask(userQuery)

	// Step 2: recognize intent. C4 and C5 run in parallel; C4 wins ties and
	// C5 fills gaps.
	var (
		llmIntent types.RecognizedIntent
		tier      intent.Tier
		patIntent types.RecognizedIntent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		llmIntent, tier = r.recognizer.Recognize(gctx, masked.MaskedText)
		return nil
	})
	g.Go(func() error {
		patIntent = r.extractor.Extract(masked.MaskedText)
		return nil
	})
	_ = g.Wait()

	ri := intent.Merge(llmIntent, patIntent)
	degraded := tier == intent.TierPattern

	if ri.IsZero() {
		return nil, newError(CodeClassification,
			"the question could not be interpreted",
			"please rephrase the question", nil)
	}

	// Step 3: expand the department fragment into raw names. A fragment the
	// index does not know becomes a plain keyword; the store is never
	// queried on a free-text department equality.
	if ri.Filters.Department != "" {
		names := r.depts.OriginalNamesFor(ri.Filters.Department)
		if len(names) > 0 {
			ri.Filters.Departments = names
		} else {
			ri.Filters.Keywords = append(ri.Filters.Keywords, strings.ToLower(ri.Filters.Department))
		}
	}

	// Step 4: choose the route.
	switch {
	case !ri.RequiresAnalysis:
		return r.serveSimple(ctx, ri, masked, degraded, started, "")
	case r.pseudo == nil, r.generative == nil:
		// Pseudonymization or the generative model unavailable: refuse the
		// complex/hybrid path and downgrade with a user-visible notice.
		return r.serveSimple(ctx, ri, masked, degraded, started,
			"analysis is unavailable right now; showing matching records instead")
	default:
		respType := TypeComplex
		if ri.Filters.IsSpecific() {
			respType = TypeHybrid
		}
		return r.serveAnalysis(ctx, ri, masked, opts, respType, degraded, started)
	}
}

// serveSimple runs the filter-only path (step 5).
func (r *Router) serveSimple(ctx context.Context, ri types.RecognizedIntent, masked masker.Result, degraded bool, started time.Time, warning string) (*Response, *Error) {
	records, rerr := r.queryRecords(ctx, ri, r.cfg.PageSize)
	if rerr != nil {
		return nil, rerr
	}

	ri.Intent = r.masker.Unmask(ri.Intent, masked.Tokens)
	return &Response{
		Type:             TypeSimple,
		Records:          records,
		RecognizedIntent: ri,
		Metadata: Metadata{
			Type:             TypeSimple,
			ExecutionTimeMs:  time.Since(started).Milliseconds(),
			FindingsAnalyzed: len(records),
			RecognizedIntent: ri,
			Degraded:         degraded,
			Warning:          warning,
		},
	}, nil
}

// serveAnalysis runs the complex/hybrid path (step 6).
func (r *Router) serveAnalysis(ctx context.Context, ri types.RecognizedIntent, masked masker.Result, opts Options, respType ResponseType, degraded bool, started time.Time) (*Response, *Error) {
	// Complex questions get the widest candidate page; hybrid stays on the
	// filtered default.
	limit := r.cfg.PageSize
	if respType == TypeComplex {
		limit = r.cfg.MaxPageSize
	}

	candidates, rerr := r.queryRecords(ctx, ri, limit)
	if rerr != nil {
		return nil, rerr
	}

	strategy := r.chooseStrategy(ri)
	contextRecords, stats := r.builder.Build(ctx, candidates, ri, strategy)

	pseudoRecords, _, err := r.pseudo.PseudonymizeRecords(ctx, contextRecords, opts.SessionID, opts.UserID)
	if err != nil {
		// Downgrade to simple with a notice; never ship raw records to the
		// generative endpoint.
		logging.Get(logging.CategoryRouter).Warn("pseudonymization failed, downgrading: %v", err)
		resp, rerr := r.serveSimple(ctx, ri, masked, degraded, started,
			"analysis is unavailable right now; showing matching records instead")
		if rerr != nil {
			return nil, rerr
		}
		return resp, nil
	}

	answer, aerr := r.analyze(ctx, masked.MaskedText, pseudoRecords, opts)
	if aerr != nil {
		// Recoverable AI failure: return the candidate records with a
		// warning. No invented analysis text.
		logging.Get(logging.CategoryRouter).Warn("generative stage failed: %v", aerr)
		ri.Intent = r.masker.Unmask(ri.Intent, masked.Tokens)
		return &Response{
			Type:             respType,
			Records:          contextRecords,
			RecognizedIntent: ri,
			Metadata: Metadata{
				Type:             respType,
				ExecutionTimeMs:  time.Since(started).Milliseconds(),
				FindingsAnalyzed: len(contextRecords),
				TokensUsed:       stats.TokensUsed,
				RecognizedIntent: ri,
				Strategy:         stats.Strategy,
				Degraded:         true,
				Warning:          "analysis failed; showing the matching records instead",
			},
		}, nil
	}

	// Reverse the privacy transforms: pseudonyms first, mask tokens second.
	answer, err = r.pseudo.Depseudonymize(ctx, answer, opts.SessionID)
	if err != nil {
		// Refuse to show data rather than leak pseudonyms.
		if errors.Is(err, pseudonym.ErrUnknownSession) {
			return nil, newError(CodePseudonym, "session mapping not found",
				"start a new session and retry", err)
		}
		return nil, newError(CodePseudonym, "could not restore protected values",
			"retry the question", err)
	}
	answer = r.masker.Unmask(answer, masked.Tokens)

	ri.Intent = r.masker.Unmask(ri.Intent, masked.Tokens)
	return &Response{
		Type:             respType,
		Records:          contextRecords,
		Answer:           answer,
		RecognizedIntent: ri,
		Metadata: Metadata{
			Type:             respType,
			ExecutionTimeMs:  time.Since(started).Milliseconds(),
			FindingsAnalyzed: len(contextRecords),
			TokensUsed:       stats.TokensUsed,
			RecognizedIntent: ri,
			Strategy:         stats.Strategy,
			Degraded:         degraded,
		},
	}, nil
}

// queryRecords runs C6 under the aggregate storage timeout and maps
// failures into the taxonomy.
func (r *Router) queryRecords(ctx context.Context, ri types.RecognizedIntent, limit int) ([]types.AuditRecord, *Error) {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.StorageTimeout)
	defer cancel()

	records, err := r.executor.Query(sctx, ri.Filters, store.QueryOptions{
		SortKey: r.sortKeyFor(ri.Filters),
		Limit:   limit,
	})
	if err != nil {
		if store.IsRetryable(err) {
			return nil, newError(CodeStorage, "the findings store is temporarily unavailable",
				"retry in a moment", err)
		}
		return nil, newError(CodeStorage, "the findings store rejected the query",
			"contact an administrator if this persists", err)
	}
	return records, nil
}

// sortKeyFor picks nilai ordering for finding-heavy or unfiltered queries,
// year otherwise.
func (r *Router) sortKeyFor(f types.Filters) store.SortKey {
	if len(f.Severity) > 0 || f.MinNilai != nil || f.MaxNilai != nil || f.Finding == types.FindingOnly {
		return store.SortByNilai
	}
	if f.Year == "" && f.IsEmpty() {
		return store.SortByNilai
	}
	return store.SortByYear
}

// chooseStrategy selects the context ranking strategy: semantic when the
// query carries domain acronyms, hybrid when residual keywords exist,
// keyword otherwise.
func (r *Router) chooseStrategy(ri types.RecognizedIntent) retrieval.Strategy {
	for _, kw := range ri.Filters.Keywords {
		if _, ok := r.dict.Lookup(kw); ok {
			return retrieval.StrategySemantic
		}
	}
	if len(ri.Filters.Keywords) > 0 {
		return retrieval.StrategyHybrid
	}
	return retrieval.StrategyKeyword
}

// analysisSystemPrompt frames the generative stage. Record values are
// pseudonymized and the question is masked; the model must echo those
// tokens verbatim.
const analysisSystemPrompt = `You are an audit-findings analyst. Ground every statement only in the records provided. Values like Person_A, ID_001, Amount_002 and bracketed tokens like [EMAIL_1] are privacy placeholders: reproduce them exactly as written, never invent substitutes. Answer concisely in the language of the question.`

// analyze calls the generative LLM with the masked query and the
// pseudonymized candidate records, including the conversation history (the
// model is stateless).
func (r *Router) analyze(ctx context.Context, maskedQuery string, records []types.AuditRecord, opts Options) (string, error) {
	if r.generative == nil {
		return "", fmt.Errorf("generative model not configured")
	}

	var sb strings.Builder
	sb.WriteString("## Candidate findings\n\n")
	for i, rec := range records {
		fmt.Fprintf(&sb, "%d. [year=%s nilai=%.0f code=%s] %s\n", i+1, rec.Year, rec.Nilai, rec.Code, rec.Summary())
	}
	sb.WriteString("\n## Question\n\n")
	sb.WriteString(maskedQuery)

	history := make([]llm.Message, len(opts.History))
	for i, t := range opts.History {
		history[i] = llm.Message{Role: t.Role, Content: t.Content}
	}

	gctx, cancel := context.WithTimeout(ctx, r.cfg.GenerativeTimeout)
	defer cancel()

	if chat, ok := r.generative.(llm.ChatClient); ok {
		return chat.CompleteChat(gctx, analysisSystemPrompt, history, sb.String())
	}
	return r.generative.CompleteWithSystem(gctx, analysisSystemPrompt, sb.String())
}

// auditRequest appends the per-request audit entry; a sink failure is
// logged, never surfaced.
func (r *Router) auditRequest(ctx context.Context, opts Options, action logging.AuditAction, details map[string]interface{}) {
	entry := logging.NewAuditEntry(opts.UserID, action, "query", opts.SessionID, details)
	entry.IPAddress = opts.IPAddress
	if err := r.audit.Append(ctx, entry); err != nil {
		logging.Get(logging.CategoryRouter).Warn("audit append failed: %v", err)
	}
}
