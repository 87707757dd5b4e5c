// Package pipeline defines the pipeline build descriptions consumed by the
// compiler: per-stage shader infos, resource mapping node trees and the
// fixed-function state that affects generated code.
//
// It also owns the two pure algorithms that operate on those descriptions:
//   - cache-key derivation (hash.go), whose field order is a compatibility
//     contract with every persisted cache entry
//   - user data node merging for fused hardware stages (merge.go)
//
// Descriptions are owned by the caller and are never mutated by the
// compiler. Anything that must change for the duration of one build (shader
// replacement, merged user data nodes) is applied to a build-scoped copy
// obtained with CloneStages.
package pipeline
