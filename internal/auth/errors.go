package auth

// PullSecretNotFoundError reports that the cluster pull secret is missing,
// unreadable, or carries no usable Ingress credential.
type PullSecretNotFoundError struct {
	Err error
}

// Error implements the error interface.
func (e *PullSecretNotFoundError) Error() string {
	return "cannot read the cluster pull secret: " + e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *PullSecretNotFoundError) Unwrap() error {
	return e.Err
}

// ClusterIDNotFoundError reports that the cluster ID cannot be retrieved
// from the cluster version object.
type ClusterIDNotFoundError struct {
	Err error
}

// Error implements the error interface.
func (e *ClusterIDNotFoundError) Error() string {
	return "cannot read the cluster ID: " + e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *ClusterIDNotFoundError) Unwrap() error {
	return e.Err
}
