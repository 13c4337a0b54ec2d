package offcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with
// hooks/async.
type Hooks interface {
	// An entry was deleted on read.
	// reason ∈ {"corrupt", "stale_gen", "decode"}
	SelfHealEntry(store, identity, reason string)

	// An optional manifest entry could not be cached during install.
	OptionalFetchFailed(version, url string, err error)

	// Activation deleted a superseded store, or failed to.
	StaleStorePurged(name string)
	StalePurgeFailed(name string, err error)

	// The proxy could not persist a fetched response.
	CacheWriteFailed(store, identity string, err error)

	// A navigation failed on the network and the fallback document was served.
	NavigationFallback(url, fallback string)

	// Clients were handed to a new controller. from is "" on first activation.
	ControllerChanged(from, to string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHealEntry(string, string, string)      {}
func (NopHooks) OptionalFetchFailed(string, string, error) {}
func (NopHooks) StaleStorePurged(string)                   {}
func (NopHooks) StalePurgeFailed(string, error)            {}
func (NopHooks) CacheWriteFailed(string, string, error)    {}
func (NopHooks) NavigationFallback(string, string)         {}
func (NopHooks) ControllerChanged(string, string)          {}
