package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

const (
	pullSecretNamespace = "openshift-config"
	pullSecretName      = "pull-secret"
	dockerConfigKey     = ".dockerconfigjson"
	clusterVersionName  = "version"

	// defaultLookupInterval and defaultLookupTimeout pace the bounded
	// backoff on cluster reads, long enough to ride out API server blips
	// at pod start without delaying a broken deployment for long.
	defaultLookupInterval = 500 * time.Millisecond
	defaultLookupTimeout  = 30 * time.Second
)

// clusterVersionGVK identifies the object carrying the cluster ID.
var clusterVersionGVK = schema.GroupVersionKind{
	Group:   "config.openshift.io",
	Version: "v1",
	Kind:    "ClusterVersion",
}

// OpenShiftProvider reads the Ingress credentials from the cluster the
// exporter runs in: the token from the cluster pull secret, the identity
// from the cluster ID.
type OpenShiftProvider struct {
	clientset kubernetes.Interface
	client    client.Client

	lookupInterval time.Duration
	lookupTimeout  time.Duration

	log *zap.SugaredLogger
}

// OpenShiftOption is a function that configures the provider.
type OpenShiftOption func(*OpenShiftProvider)

// WithLookupBackOff overrides the retry pacing for cluster reads.
func WithLookupBackOff(interval, timeout time.Duration) OpenShiftOption {
	return func(p *OpenShiftProvider) {
		p.lookupInterval = interval
		p.lookupTimeout = timeout
	}
}

// WithOpenShiftLogger sets the provider's logger.
func WithOpenShiftLogger(log *zap.SugaredLogger) OpenShiftOption {
	return func(p *OpenShiftProvider) {
		p.log = log
	}
}

// NewOpenShiftProvider connects to the cluster using the in-cluster
// configuration, falling back to the local kubeconfig for development.
func NewOpenShiftProvider(opts ...OpenShiftOption) (*OpenShiftProvider, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("not running in an OpenShift cluster and no kubeconfig is available: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build Kubernetes client: %w", err)
	}
	cl, err := client.New(cfg, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster config client: %w", err)
	}

	p := newOpenShiftProvider(clientset, cl, opts...)
	p.log.Info("Initialized OpenShift authentication provider")
	return p, nil
}

// newOpenShiftProvider wires the provider onto already-built clients.
func newOpenShiftProvider(clientset kubernetes.Interface, cl client.Client, opts ...OpenShiftOption) *OpenShiftProvider {
	p := &OpenShiftProvider{
		clientset:      clientset,
		client:         cl,
		lookupInterval: defaultLookupInterval,
		lookupTimeout:  defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.For("auth")
	}
	return p
}

// Credentials resolves the pull secret token and the cluster ID.
func (p *OpenShiftProvider) Credentials(ctx context.Context) (string, string, error) {
	token, err := p.authToken(ctx)
	if err != nil {
		return "", "", err
	}
	clusterID, err := p.clusterID(ctx)
	if err != nil {
		return "", "", err
	}
	return token, clusterID, nil
}

// authToken reads the cloud.openshift.com credential out of the cluster
// pull secret.
func (p *OpenShiftProvider) authToken(ctx context.Context) (string, error) {
	secret, err := backoff.Retry(ctx, func() (*corev1.Secret, error) {
		s, err := p.clientset.CoreV1().Secrets(pullSecretNamespace).Get(ctx, pullSecretName, metav1.GetOptions{})
		if err != nil {
			if permanentAPIError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return s, nil
	}, p.retryOptions()...)
	if err != nil {
		p.log.Errorw("Failed to get the cluster pull secret", "error", err)
		return "", &PullSecretNotFoundError{Err: err}
	}

	data, ok := secret.Data[dockerConfigKey]
	if !ok {
		return "", &PullSecretNotFoundError{Err: fmt.Errorf("pull secret has no %s key", dockerConfigKey)}
	}
	token, err := ingressToken(data)
	if err != nil {
		p.log.Errorw("Failed to parse the cluster pull secret", "error", err)
		return "", &PullSecretNotFoundError{Err: err}
	}
	return token, nil
}

// clusterID reads spec.clusterID from the ClusterVersion object.
func (p *OpenShiftProvider) clusterID(ctx context.Context) (string, error) {
	version, err := backoff.Retry(ctx, func() (*unstructured.Unstructured, error) {
		u := &unstructured.Unstructured{}
		u.SetGroupVersionKind(clusterVersionGVK)
		if err := p.client.Get(ctx, client.ObjectKey{Name: clusterVersionName}, u); err != nil {
			if permanentAPIError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return u, nil
	}, p.retryOptions()...)
	if err != nil {
		p.log.Errorw("Failed to get the cluster version", "error", err)
		return "", &ClusterIDNotFoundError{Err: err}
	}

	clusterID, found, err := unstructured.NestedString(version.Object, "spec", "clusterID")
	if err != nil {
		return "", &ClusterIDNotFoundError{Err: err}
	}
	if !found || clusterID == "" {
		return "", &ClusterIDNotFoundError{Err: fmt.Errorf("cluster version %s has no spec.clusterID", clusterVersionName)}
	}
	return clusterID, nil
}

func (p *OpenShiftProvider) retryOptions() []backoff.RetryOption {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.lookupInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(expo),
		backoff.WithMaxElapsedTime(p.lookupTimeout),
	}
}

// permanentAPIError reports cluster read failures more retries cannot fix.
func permanentAPIError(err error) bool {
	return apierrors.IsNotFound(err) || apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err)
}
