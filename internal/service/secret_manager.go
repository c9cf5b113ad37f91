package service

import (
	"context"
	"fmt"
	"strings"

	"paywall/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// SecretAccessor is the part of the Secret Manager client we use.
type SecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretResolver reads provider credentials kept in Secret Manager.
type SecretResolver struct {
	client    SecretAccessor
	projectID string
}

func NewSecretResolver(client SecretAccessor, projectID string) *SecretResolver {
	return &SecretResolver{client: client, projectID: projectID}
}

// NewSecretManagerClient dials Secret Manager with application default credentials.
func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return client, nil
}

// Resolve returns the secret payload for resource. A bare secret name is
// expanded to the latest version in the resolver's project.
func (r *SecretResolver) Resolve(ctx context.Context, resource string) (string, error) {
	name, err := r.versionName(resource)
	if err != nil {
		return "", err
	}
	result, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.GetPayload().GetData())), nil
}

func (r *SecretResolver) versionName(resource string) (string, error) {
	switch {
	case resource == "":
		return "", fmt.Errorf("secret resource is empty")
	case strings.HasPrefix(resource, "projects/") && strings.Contains(resource, "/versions/"):
		return resource, nil
	case strings.HasPrefix(resource, "projects/"):
		return resource + "/versions/latest", nil
	case r.projectID == "":
		return "", fmt.Errorf("GCP project id is required to resolve secret %q", resource)
	default:
		return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, resource), nil
	}
}

// PayPalClientSecret returns the configured secret, reading it from Secret
// Manager when only a resource name is given.
func PayPalClientSecret(ctx context.Context, cfg *config.Config, resolver *SecretResolver) (string, error) {
	if cfg.PayPalClientSecret != "" || cfg.PayPalClientSecretResource == "" {
		return cfg.PayPalClientSecret, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("PAYPAL_CLIENT_SECRET_RESOURCE is set but no secret resolver is available")
	}
	return resolver.Resolve(ctx, cfg.PayPalClientSecretResource)
}
