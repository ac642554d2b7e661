package kube

import (
	"fmt"

	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

// ConnectionError reports that the cluster cannot be reached. It aborts the
// whole environment batch before any resource is touched.
type ConnectionError struct {
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cluster connection: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// NamespaceError reports that the target namespace is absent or unreadable.
// Like ConnectionError it is a preflight failure for the environment.
type NamespaceError struct {
	Namespace string
	Err       error
}

// Error implements the error interface.
func (e *NamespaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("namespace %q: %v", e.Namespace, e.Err)
	}
	return fmt.Sprintf("namespace %q does not exist", e.Namespace)
}

// Unwrap returns the underlying cause.
func (e *NamespaceError) Unwrap() error { return e.Err }

// ApiError reports a per-resource create, patch or read failure. It is
// resource-local: the rest of the batch continues.
type ApiError struct {
	Identity manifest.Identity
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *ApiError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Identity, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ApiError) Unwrap() error { return e.Err }

// FallbackExhaustedError reports that every apply tier failed for a resource.
// Output carries the diagnostic text of the last tier.
type FallbackExhaustedError struct {
	Identity manifest.Identity
	Output   string
}

// Error implements the error interface.
func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("all apply tiers failed for %s: %s", e.Identity, e.Output)
}
