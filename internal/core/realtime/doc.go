// Package realtime keeps in-memory collections consistent with a change feed.
//
// Raw feed payloads are normalised into domain.ChangeEvent values, filtered
// against the subscription that asked for them, delivered serially per
// channel, and applied to an id-keyed collection with insert/update/delete
// semantics. A collection is fetched once when it opens and patched in
// place afterwards; a dropped channel only marks it stale until it is live
// again.
package realtime
