/*
Package budget provides the per-run spend ledger that gates metered
calls against a dollar ceiling and an optional call-count limit.

The ledger splits admission from commit: PreCheck rejects a call before
real money is spent, using an estimate and mutating nothing; RecordCall
commits actual usage afterwards and always succeeds once admitted,
clamping overshoot to the ceiling. This keeps spend monotone and
auditable even when downstream cost reporting is imprecise, and a call
is never left half-charged.

All readers and both mutators are serialized through a single mutex per
Tracker, so bursts of concurrent commits are never lost or torn.
*/
package budget
