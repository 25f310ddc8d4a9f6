// Package recovery attempts automated recovery from normalized errors.
//
// A Registry holds named strategies sorted by descending priority; each
// strategy declares which records it can recover via a predicate and
// performs its recovery asynchronously. Per error signature the registry
// caps strategy invocations at a fixed maximum; beyond the cap it reports
// that user action is required without touching any strategy.
//
// The package also provides WithFallback, a wrapper giving arbitrary
// operations retry-then-fallback semantics: linear-backoff retries first,
// then the strategy registry, then a static fallback value.
//
// Strategies never mutate collaborator-owned resources directly: cleanup
// and re-query requests cross the boundary through a Trigger, typically
// backed by the websocket feed to the hosting extension.
package recovery
