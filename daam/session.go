package daam

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// active tracks pipelines with an attached trace, keyed by identity. One
// trace per pipeline instance; nesting would double-count every computation.
var (
	activeMu sync.Mutex
	active   = map[Pipeline]struct{}{}
)

type sessionState int

const (
	stateAttached sessionState = iota
	stateDetached
)

// TraceSession scopes attention capture around one or more generation calls.
// Open attaches an observer at every admitted cross-attention site; Close
// detaches them all exactly once and freezes the aggregate, which stays
// queryable afterward. Close under defer is the intended shape:
//
//	sess, err := daam.Open(pipe, daam.WithTokenizer(tok))
//	if err != nil { ... }
//	defer sess.Close()
//	img, err := pipe.Generate(ctx, cfg)
//	heat := sess.HeatMap(cfg.Prompt)
type TraceSession struct {
	pipeline Pipeline
	cfg      config

	mu     sync.Mutex
	state  sessionState
	agg    *aggregator
	step   int
	sites  int
	detach []func()

	degraded bool
}

// Open attaches a trace to the pipeline. It fails with ErrTraceActive when
// the pipeline already has one, and with ErrBadFilter on malformed filter
// options. A pipeline exposing no usable sites still opens; the session is
// marked degraded, logs a warning, and yields all-zero heat maps.
func Open(p Pipeline, opts ...Option) (*TraceSession, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
	}

	activeMu.Lock()
	if _, busy := active[p]; busy {
		activeMu.Unlock()
		return nil, fmt.Errorf("open trace: %w", ErrTraceActive)
	}
	active[p] = struct{}{}
	activeMu.Unlock()

	s := &TraceSession{pipeline: p, cfg: cfg}

	var sites []Site
	canonical := cfg.canonical
	for _, site := range p.AttentionSites() {
		if !cfg.admits(site.Name(), site.Depth()) {
			continue
		}
		sites = append(sites, site)
		if cfg.canonical == 0 {
			h, w := site.Resolution()
			canonical = max(canonical, h, w)
		}
	}
	s.agg = newAggregator(&cfg, canonical)
	s.sites = len(sites)

	if len(sites) == 0 {
		s.degraded = true
		slog.Warn("trace attached to pipeline without usable cross-attention sites",
			"pipeline", fmt.Sprintf("%T", p))
	}

	for _, site := range sites {
		id, err := site.Attach(s.observe)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open trace: attach %q: %w", site.Name(), err)
		}
		s.detach = append(s.detach, func() { site.Detach(id) })
	}

	if sn, ok := p.(StepNotifier); ok {
		id, err := sn.OnStep(s.onStep)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open trace: step notifier: %w", err)
		}
		s.detach = append(s.detach, func() { sn.DetachStep(id) })
	}
	return s, nil
}

// Run traces one generation call: open, invoke fn, detach on every exit path
// including panics. The returned session is already detached and ready for
// querying; it comes back alongside fn's error so a degraded trace can still
// be inspected.
func Run(p Pipeline, fn func() error, opts ...Option) (*TraceSession, error) {
	s, err := Open(p, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := fn(); err != nil {
		return s, fmt.Errorf("traced generation: %w", err)
	}
	return s, nil
}

// observe is the per-site callback. It runs inline on the pipeline's
// goroutine; the step stamp comes from the most recent boundary
// notification, keeping the interceptor itself stateless about steps.
func (s *TraceSession) observe(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAttached || snap.Unconditional {
		return
	}
	s.agg.ingest(AttentionRecord{
		LayerID: snap.Layer,
		Step:    s.step,
		Heads:   snap.Heads,
		H:       snap.H,
		W:       snap.W,
		Keys:    snap.Keys,
		Weights: snap.Probs,
	})
}

func (s *TraceSession) onStep(step int) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

// Close detaches every registered observer exactly once. Idempotent and
// safe under defer; panics in the wrapped generation call propagate after
// detachment. The aggregate stays queryable after closing.
func (s *TraceSession) Close() error {
	s.mu.Lock()
	if s.state == stateDetached {
		s.mu.Unlock()
		return nil
	}
	s.state = stateDetached
	fns := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	activeMu.Lock()
	delete(active, s.pipeline)
	activeMu.Unlock()
	return nil
}

// HeatMap materializes the aggregate so far for querying. The prompt is the
// text generation ran with; word queries align against it via the session's
// tokenizer, or the pipeline's own when it provides one.
func (s *TraceSession) HeatMap(prompt string) *GlobalHeatMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewGlobalHeatMap(prompt, s.agg.size(), s.agg.materialize(s.cfg.accumulation), s.alignLocked(prompt))
}

// LayerHeatMap recomputes the aggregate from retained records whose layer id
// matches the pattern. Requires WithRecordRetention; fails with ErrNoRecords
// otherwise and ErrBadFilter on a malformed pattern.
func (s *TraceSession) LayerHeatMap(prompt, pattern string) (*GlobalHeatMap, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadFilter, pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.retain {
		return nil, fmt.Errorf("layer heat map %q: %w", pattern, ErrNoRecords)
	}
	sub := newAggregator(&s.cfg, s.agg.size())
	sub.retain = false
	for _, rec := range s.agg.retained {
		if re.MatchString(rec.LayerID) {
			sub.ingest(rec)
		}
	}
	return NewGlobalHeatMap(prompt, sub.size(), sub.materialize(s.cfg.accumulation), s.alignLocked(prompt)), nil
}

// alignLocked builds the word alignment for a prompt, preferring the
// configured tokenizer over the pipeline's own. Nil means no tokenizer.
func (s *TraceSession) alignLocked(prompt string) []TokenSpan {
	tok := s.cfg.tokenizer
	if tok == nil {
		if src, ok := s.pipeline.(TokenizerSource); ok {
			tok = src.Tokenizer()
		}
	}
	if tok == nil {
		return nil
	}
	spans := AlignWords(tok, prompt)
	if spans == nil {
		spans = []TokenSpan{}
	}
	return spans
}

// CaptureReport summarizes what a trace saw: observers attached, records and
// steps ingested, the layers behind them, and whether the pipeline had any
// sites at all.
type CaptureReport struct {
	Sites     int
	Records   int
	Steps     int
	Canonical int
	Degraded  bool
	Layers    []LayerInfo
}

// Err returns ErrNoAttentionSites for a degraded trace, nil otherwise.
// Degradation is reported rather than raised so callers can probe
// unsupported architectures without failing.
func (r CaptureReport) Err() error {
	if r.Degraded {
		return ErrNoAttentionSites
	}
	return nil
}

// Report returns the capture summary at this moment.
func (s *TraceSession) Report() CaptureReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CaptureReport{
		Sites:     s.sites,
		Records:   s.agg.records,
		Steps:     len(s.agg.steps),
		Canonical: s.agg.size(),
		Degraded:  s.degraded,
		Layers:    s.agg.layerInfos(),
	}
}
