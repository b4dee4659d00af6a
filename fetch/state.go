package fetch

// State is the coordinator's lifecycle state. There is no terminal state; the
// coordinator is a live control loop for the life of the process.
type State int

const (
	// StateLoadingCategories is the initial state, while the category
	// taxonomy loads.
	StateLoadingCategories State = iota
	// StateWaitingForLocation means the taxonomy is ready but no location has
	// been seen yet.
	StateWaitingForLocation
	// StateLoading means a reconciliation round is fetching tiles.
	StateLoading
	// StateReady means the cache answers for the tiles around the last
	// location.
	StateReady
	// StateError means the user's own tile could not be fetched, or the
	// taxonomy failed to load. Cached data may still be served for tiles that
	// are present; a recovery loop retries in the background.
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoadingCategories:
		return "loadingCategories"
	case StateWaitingForLocation:
		return "waitingForLocation"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "unknown"
}
