package config

import "time"

const (
	// BatchThreshold is the number of queued message ids that forces an
	// immediate bulk fetch. At up to ~40 characters per id the resulting
	// query string stays under the ~2048 character URL limit of common
	// browsers and proxies.
	BatchThreshold = 50

	// WorkerLifetime is how long the batching worker waits for more demand
	// before flushing what it has.
	WorkerLifetime = 20 * time.Millisecond

	// MaxWindowSize caps how many items a window may hold after being
	// extended by scrolling.
	MaxWindowSize = 150

	// PageSize is the size of a fresh window centred on a requested item.
	PageSize = 50

	// MaxQueryIDLength is the longest id accepted by the HTTP source before
	// the URL budget above stops holding.
	MaxQueryIDLength = 40

	// MaxURLLength is the query budget assumed for id-bearing GET requests.
	MaxURLLength = 2048
)
