/*
Package intercept orchestrates the boundary around one metered call.

For each call the interceptor estimates input tokens, prices an
admission estimate, runs the ledger pre-check, records a span, invokes
the wrapped operation, and commits actual usage. The admission estimate
and the committed cost may legitimately differ; both are preserved for
audit (the estimate blocks before real money is spent, the commit
records what the call truly cost).

Interception wraps a process-wide call boundary, so only one
interceptor may be active at a time; Activate fails fast on a second
claim rather than silently double-wrapping.
*/
package intercept
