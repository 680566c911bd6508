package transport

import (
	"io"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// ResourceCleanup closes registered resources in reverse order (LIFO).
// It removes cascading error handling from multi-socket setup:
//
//	cleanup := NewResourceCleanup(logger)
//	defer cleanup.Cleanup() // closes everything added so far on error
//
//	rep, err := rep.NewSocket()
//	if err != nil {
//	    return err
//	}
//	cleanup.Add(rep, "rep socket")
//	...
//	cleanup.Clear() // success, keep the resources open
type ResourceCleanup struct {
	resources []namedCloser
	logger    logging.Logger
}

// namedCloser wraps a closer with a descriptive name for logging
type namedCloser struct {
	closer io.Closer
	name   string
}

// NewResourceCleanup creates a new ResourceCleanup instance.
func NewResourceCleanup(logger logging.Logger) *ResourceCleanup {
	return &ResourceCleanup{
		resources: make([]namedCloser, 0, 4),
		logger:    logging.OrNop(logger),
	}
}

// Add registers a resource to be cleaned up.
func (rc *ResourceCleanup) Add(closer io.Closer, name string) {
	rc.resources = append(rc.resources, namedCloser{closer: closer, name: name})
}

// Cleanup closes all registered resources in reverse order.
// Errors are logged and do not stop the cleanup. Calling it twice is safe.
func (rc *ResourceCleanup) Cleanup() {
	_ = rc.CloseAll()
}

// Clear removes all registered resources without closing them.
func (rc *ResourceCleanup) Clear() {
	rc.resources = rc.resources[:0]
}

// CloseAll closes all registered resources and returns the first error encountered.
func (rc *ResourceCleanup) CloseAll() error {
	var firstErr error
	for i := len(rc.resources) - 1; i >= 0; i-- {
		r := rc.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rc.logger.Warn("Failed to close resource", logging.String("resource", r.name), logging.Error(err))
		}
	}
	rc.resources = rc.resources[:0]
	return firstErr
}

// Len returns the number of registered resources.
func (rc *ResourceCleanup) Len() int {
	return len(rc.resources)
}
