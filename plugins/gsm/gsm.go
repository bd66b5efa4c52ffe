// Package gsm resolves secrets from Google Secret Manager.
package gsm

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/mywio/voice-pool/pkg/core"
)

// accessor is the part of the Secret Manager client the plugin uses.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type gsmConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type SecretManagerPlugin struct {
	cfg    gsmConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    accessor
	lastErr   error
	newClient func(ctx context.Context, opts ...option.ClientOption) (accessor, error)
}

func New() *SecretManagerPlugin {
	return &SecretManagerPlugin{
		newClient: func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
			return secretmanager.NewClient(ctx, opts...)
		},
	}
}

func (p *SecretManagerPlugin) Name() string {
	return "google_secret_manager"
}

// Init only reads configuration. The client is created on first use so that
// deployments without Google credentials can still start.
func (p *SecretManagerPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	if registry != nil {
		if section, ok := registry.GetConfig()["google_secret_manager"]; ok {
			if err := core.DecodeConfigSection(section, &p.cfg); err != nil {
				return fmt.Errorf("invalid google_secret_manager config: %w", err)
			}
		}
	}
	return nil
}

func (p *SecretManagerPlugin) Start(ctx context.Context) error {
	p.logger.Info("Secret Manager Plugin Started", "project", p.cfg.ProjectID)
	return nil
}

func (p *SecretManagerPlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		return err
	}
	return nil
}

func (p *SecretManagerPlugin) Description() string {
	return "Google Secret Manager secret resolver"
}

func (p *SecretManagerPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilitySecrets}
}

func (p *SecretManagerPlugin) Status() core.ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.lastErr != nil:
		return core.StatusUnhealthy
	case p.client == nil:
		return core.StatusUnknown
	default:
		return core.StatusHealthy
	}
}

func (p *SecretManagerPlugin) Config() any {
	return p.cfg
}

// Execute supports "get_secret" with a "name" parameter, either a full
// version resource name or a bare secret ID resolved against project_id.
func (p *SecretManagerPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "get_secret" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	name, _ := params["name"].(string)
	resource, err := p.resourceName(name)
	if err != nil {
		return nil, err
	}
	return p.access(ctx, resource)
}

func (p *SecretManagerPlugin) resourceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("secret name is required")
	case strings.HasPrefix(name, "projects/"):
		if !strings.Contains(name, "/versions/") {
			return name + "/versions/latest", nil
		}
		return name, nil
	case p.cfg.ProjectID == "":
		return "", fmt.Errorf("secret %q is not a resource name and project_id is not configured", name)
	default:
		return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.cfg.ProjectID, name), nil
	}
}

func (p *SecretManagerPlugin) access(ctx context.Context, resource string) (string, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	p.record(err)
	if err != nil {
		return "", fmt.Errorf("access secret version %s: %w", resource, err)
	}

	payload := resp.GetPayload()
	if payload.DataCrc32C != nil {
		sum := int64(crc32.Checksum(payload.GetData(), crc32.MakeTable(crc32.Castagnoli)))
		if sum != payload.GetDataCrc32C() {
			return "", fmt.Errorf("secret %s payload checksum mismatch", resource)
		}
	}
	p.logger.Debug("Secret resolved", "secret", resource)
	return string(payload.GetData()), nil
}

func (p *SecretManagerPlugin) ensureClient(ctx context.Context) (accessor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	var opts []option.ClientOption
	if p.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(p.cfg.CredentialsFile))
	}
	client, err := p.newClient(ctx, opts...)
	if err != nil {
		p.lastErr = err
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *SecretManagerPlugin) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
}
