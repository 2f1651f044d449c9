// Package targomo is a client for the Targomo routing and reachability API
// built around a response cache that deduplicates requests.
//
// Every request is described by a Request (URL, method, JSON payload) and
// keyed by its serialized form. A Selector decides where that key is looked
// up:
//
//   - SharedCache: the client's own UnboundedCache, which keeps every
//     successful response for the lifetime of the client
//   - PrivateCache(c): a caller-owned store, usually a small BoundedCache
//     (least-recently-used, fixed capacity) for lookups such as metadata
//   - NoCache: every call goes to the network
//
// Both stores register a pending entry before the network call starts, so
// concurrent callers asking for the same key share one HTTP exchange.
// Failures are never stored.
//
// Typical usage:
//
//	client := targomo.New(
//	    targomo.WithBaseURL("https://api.targomo.com/westcentraleurope/"),
//	    targomo.WithAPIKey(key),
//	)
//	meta := targomo.NewBoundedCache[targomo.Response](20)
//	res, err := client.Get(ctx, "metadata/network", targomo.PrivateCache(meta))
//	polys, err := client.Post(ctx, "v1/polygon", body, targomo.NoCache)
//
// BoundedCache and UnboundedCache can also be used on their own for any
// memoized computation through the Cache interface.
package targomo
