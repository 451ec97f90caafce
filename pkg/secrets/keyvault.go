package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/hashicorp/go-hclog"
)

// CredentialKind names the Azure credential a KeyVault authenticates with.
type CredentialKind string

const (
	CredentialClientSecret CredentialKind = "client-secret"
	CredentialDefault      CredentialKind = "default"
)

// KeyVaultConfig selects a vault and, optionally, a service principal.
type KeyVaultConfig struct {
	Name         string // Vault name; the URL is https://<name>.vault.azure.net
	TenantID     string
	ClientID     string
	ClientSecret string
}

// URL returns the vault URL.
func (c KeyVaultConfig) URL() string {
	return "https://" + c.Name + ".vault.azure.net"
}

// secretClient is the subset of *azsecrets.Client used here.
type secretClient interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVault is a Store backed by Azure Key Vault.
type KeyVault struct {
	name   string
	kind   CredentialKind
	client secretClient
	logger hclog.Logger
}

var _ Store = (*KeyVault)(nil)

// NewKeyVault resolves credentials once and returns a vault client. A
// service principal is used when tenant, client ID and client secret are all
// set; otherwise the default Azure credential chain is used.
func NewKeyVault(cfg KeyVaultConfig, logger hclog.Logger) (*KeyVault, error) {
	if cfg.Name == "" {
		return nil, errors.New("key vault name is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var (
		cred azcore.TokenCredential
		kind CredentialKind
		err  error
	)
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		kind = CredentialClientSecret
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	} else {
		kind = CredentialDefault
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, &AuthenticationError{Store: cfg.Name, Err: err}
	}

	client, err := azsecrets.NewClient(cfg.URL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating key vault client: %w", err)
	}

	logger.Named("keyvault").Debug("key vault client created",
		"vault", cfg.Name, "credential", kind)

	return newKeyVault(cfg.Name, kind, client, logger), nil
}

func newKeyVault(name string, kind CredentialKind, client secretClient, logger hclog.Logger) *KeyVault {
	return &KeyVault{
		name:   name,
		kind:   kind,
		client: client,
		logger: logger.Named("keyvault"),
	}
}

// CredentialKind reports which credential was resolved at construction.
func (kv *KeyVault) CredentialKind() CredentialKind {
	return kv.kind
}

func (kv *KeyVault) SetSecret(ctx context.Context, name, value string) error {
	_, err := kv.client.SetSecret(ctx, name, azsecrets.SetSecretParameters{Value: &value}, nil)
	if err != nil {
		kv.logger.Error("error setting secret", "vault", kv.name, "name", name, "error", err)
		return kv.mapError(name, err)
	}
	kv.logger.Info("secret was set", "vault", kv.name, "name", name)
	return nil
}

func (kv *KeyVault) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := kv.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		kv.logger.Error("error retrieving secret", "vault", kv.name, "name", name, "error", err)
		return "", kv.mapError(name, err)
	}
	if resp.Value == nil {
		return "", &SecretNotFoundError{Store: kv.name, Name: name}
	}
	return *resp.Value, nil
}

func (kv *KeyVault) mapError(name string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return &SecretNotFoundError{Store: kv.name, Name: name}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthenticationError{Store: kv.name, Err: err}
		}
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return &AuthenticationError{Store: kv.name, Err: err}
	}

	return fmt.Errorf("key vault %s: secret %q: %w", kv.name, name, err)
}
