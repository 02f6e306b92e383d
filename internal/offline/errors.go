package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrInstallFailed is returned when any manifest entry could not be
	// fetched. Nothing from the attempt is stored.
	ErrInstallFailed = errors.New("install failed")

	// ErrUnavailable is returned when a resource is neither cached nor
	// reachable over the network.
	ErrUnavailable = errors.New("resource unavailable")

	// ErrNotCacheable is returned by cache-only lookups for requests that are
	// never stored, such as anything but GET.
	ErrNotCacheable = errors.New("request is not cacheable")

	// ErrNoVersion is returned when a manager is created without a version tag.
	ErrNoVersion = errors.New("cache version tag is required")
)

// FetchError describes a failed fetch of a single URL. StatusCode is zero
// when the request never produced a response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
