// Package memory implements the consolidation engine that maintains a
// small, bounded set of memory summaries per user.
//
// New conversational content is classified against the user's existing
// nodes by vector similarity: near-duplicates reinforce an existing node,
// moderately similar content merges into one, and novel content creates
// a new node. Every event decays the importance of untouched siblings,
// and a capacity bound (five nodes per user by default) is enforced by
// pruning the lowest effective importance.
//
// Architecture:
//   - Store: vector+keyword storage backend (chromem-go for the local
//     SDK, pgvector in production)
//   - Embedder: text-to-vector conversion (ONNX locally, API-based in
//     production), optionally wrapped in CachedEmbedder
//   - Assessor: LLM oracle rating importance (1-10) and producing
//     one-sentence summaries
//   - Engine: orchestrates classify -> mutate -> decay -> prune under a
//     per-user lock
//
// Consolidation calls for the same user are serialized; calls for
// different users run in parallel. Oracle failures degrade to "message
// handled, no memory update"; store failures are fatal to the call.
package memory
