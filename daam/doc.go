// Package daam attributes generated pixels to prompt tokens by recording a
// diffusion pipeline's cross-attention weights while it samples.
//
// Every cross-attention site in a denoiser computes, per spatial latent
// position, a probability distribution over the prompt's token positions. A
// TraceSession attaches a non-mutating observer to each site for the
// duration of one or more generation calls, collects those distributions
// across sampling steps, layers, and heads, resamples each to a single
// canonical resolution, and accumulates them per token position. The frozen
// aggregate is queried through a GlobalHeatMap as per-token, per-word, or
// per-term spatial heat maps.
//
// Capture never alters generation. Sites hand observers copies of the
// post-softmax probabilities before the value projection consumes them, and
// the session detaches its observers on every exit path, so a failed or
// panicking generation cannot leak capture state into later runs.
//
//	sess, err := daam.Open(pipe)
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	img, err := pipe.Generate(ctx, cfg)
//	if err != nil {
//		return err
//	}
//
//	heat := sess.HeatMap(cfg.Prompt)
//	dog, err := heat.WordHeatMap("dog")
//
// Word-level queries align sub-word pieces back to words through the
// tokenizer collaborator, preferring pieces that carry CLIP-style end-of-word
// marks. Alignment problems surface at query time as ErrWordNotFound or
// ErrAmbiguousWord; capture itself never fails, and a pipeline without any
// cross-attention sites degrades to all-zero heat maps with a logged warning
// rather than an error.
package daam
