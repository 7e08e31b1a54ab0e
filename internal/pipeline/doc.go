// Package pipeline runs the fixed per-sample assembly sequence:
//
//	acquire -> assemble -> label -> post-process -> collect
//
// Stages run strictly in order and are never retried. Each stage's outcome is
// recorded in the sample's Result. Whether a failed stage stops the sample or
// lets it continue to the next stage is governed by the failure policy; the
// best-effort policy mirrors how the lab scripts have always behaved.
package pipeline
