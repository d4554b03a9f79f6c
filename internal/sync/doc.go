// Package sync keeps a live model of declared units consistent with a tree
// of source artifacts as it moves from revision to revision.
//
// Update Cycle
//
// Each call to Update processes the change set of one revision transition:
//
//	change set ──┐
//	pending set ─┼─> rebuild set ─> deletion pass ─> prune ─> builder ─> merge
//	dep index ───┘                                                        │
//	                                                  stale scan (next) <─┘
//
//  1. Added, modified and relocated-to artifacts seed the rebuild set.
//  2. Pending artifacts whose outputs are still incomplete are added.
//  3. Artifacts owning a unit that references a unit of the rebuild set (or
//     of a removed artifact) are added. Only one hop is followed; callers
//     wanting the transitive closure call Update again until the rebuild
//     set is empty.
//  4. Removed and relocated-from artifacts are dropped from the rebuild set.
//  5. Units of removed artifacts and of the rebuild set are deleted from the
//     model together with their derived outputs.
//  6. Empty namespaces without an existing marker are pruned.
//
// The builder then parses the rebuild set. Artifacts it reports as failed,
// and artifacts whose outputs are still missing afterwards, form the pending
// set of the next cycle.
//
// Failure Handling
//
// A builder that cannot run at all, a cancelled context or an expired
// deadline rolls the model back to its state before the cycle and returns an
// error; the revision is not recorded and the caller resubmits it. Partial
// failures are not errors: they are listed in Report.Diagnostics and retried
// on every later cycle until the artifact builds or goes away.
//
// Concurrency
//
// One Update runs at a time. Queries (AllUnits, UnitsInNamespace, Pending)
// block while an update is in progress and always observe a completed cycle.
// Inside a cycle the staleness scan and dependency index build fan out over
// worker goroutines reading an unchanging model.
package sync
