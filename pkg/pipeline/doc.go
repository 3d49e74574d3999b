// Package pipeline implements C4-C6: the three event pipelines that turn
// correlator-enriched ring-buffer events into broker-bound batches.
//
// Each pipeline owns its own batch buffer and flush ticker and runs as an
// independent goroutine fed by a dedicated channel of probe.RawEvent; see
// Dispatch for how the probe's single output channel is demultiplexed by
// Kind into the three per-pipeline channels.
package pipeline
