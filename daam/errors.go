package daam

import "errors"

// Configuration errors are raised at attach time; alignment errors at query
// time. Capture itself never fails: a malformed snapshot is logged and
// dropped so an expensive generation run is never aborted by attribution.
var (
	// ErrTraceActive reports an attempt to open a second trace against a
	// pipeline that already has one attached.
	ErrTraceActive = errors.New("trace already active for this pipeline")

	// ErrBadFilter reports an invalid layer filter pattern.
	ErrBadFilter = errors.New("invalid layer filter")

	// ErrNoAttentionSites reports a pipeline without cross-attention sites.
	// It is surfaced through CaptureReport.Err, never raised during capture;
	// such a trace completes with an all-zero aggregate.
	ErrNoAttentionSites = errors.New("pipeline exposes no cross-attention sites")

	// ErrNoRecords reports an operation that needs retained records when the
	// session was opened without retention.
	ErrNoRecords = errors.New("no retained records")

	// ErrNoTokenizer reports a word-level query without a tokenizer to align
	// sub-word pieces against.
	ErrNoTokenizer = errors.New("no tokenizer available for word alignment")

	// ErrWordNotFound reports a queried word absent from the prompt.
	ErrWordNotFound = errors.New("word not found in prompt")

	// ErrAmbiguousWord reports a word occurring more than once when the
	// query did not pick an occurrence.
	ErrAmbiguousWord = errors.New("word occurs more than once in prompt")
)
