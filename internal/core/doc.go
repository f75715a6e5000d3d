// Package core is the reactive data layer of the back office.
//
// It maps a query descriptor (entity, columns, equality filters, live flag)
// to a live, self-refreshing result set. Everything else in the repository,
// the HTTP API, the CLI and the derived views, consumes it.
//
// # Architecture
//
//   - Registry: entities are registered at init time with their columns and
//     an optional row validator (see internal/schema).
//   - Query builder: [Build] validates a [QueryDescriptor] and derives its
//     [CacheKey]. Equivalent descriptors always share a key.
//   - Query cache: [QueryCache] holds one entry per key and runs at most one
//     fetch per key at a time (golang.org/x/sync/singleflight).
//   - Change feed: [ChangeFeed] keeps one backend channel per entity,
//     reference-counted across consumers.
//   - Data layer: [DataLayer] ties them together. [DataLayer.Open] returns a
//     [LiveResult]; a single dispatch loop turns change notifications into
//     invalidations and refetches the keys that are still watched.
//
// # Usage
//
//	layer := core.NewDataLayer(backend, core.Options{Realtime: true})
//	defer layer.Close()
//
//	res, err := layer.Open(ctx, core.NewQuery(core.EntityInventory))
//	if err != nil {
//	    return err // *InvalidFilterError
//	}
//	defer res.Close()
//
//	for range res.Updates() {
//	    render(res.Snapshot())
//	}
//
// # Error Handling
//
// Three error kinds reach consumers, each matching one sentinel with
// errors.Is: [ErrInvalidFilter] (returned synchronously by Open),
// [ErrFetch] (stored on the result, previous rows kept) and
// [ErrSubscription] (live updates stopped, rows kept). [MapError] turns any
// of them into a coded, user-facing message.
package core
