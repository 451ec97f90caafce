package secrets

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretClient struct {
	values map[string]string
	err    error
}

func (f *fakeSecretClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	if f.err != nil {
		return azsecrets.SetSecretResponse{}, f.err
	}
	f.values[name] = *parameters.Value
	return azsecrets.SetSecretResponse{}, nil
}

func (f *fakeSecretClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.err != nil {
		return azsecrets.GetSecretResponse{}, f.err
	}
	value, ok := f.values[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{
			ErrorCode:  "SecretNotFound",
			StatusCode: http.StatusNotFound,
		}
	}
	resp := azsecrets.GetSecretResponse{}
	resp.Value = &value
	return resp, nil
}

func TestKeyVault_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newKeyVault("FlotillaTestsKv", CredentialDefault,
		&fakeSecretClient{values: map[string]string{}}, hclog.NewNullLogger())

	require.NoError(t, kv.SetSecret(ctx, "AZURE-STORAGE-CONNECTION-STRING-DATA", "conn"))
	value, err := kv.GetSecret(ctx, "AZURE-STORAGE-CONNECTION-STRING-DATA")
	require.NoError(t, err)
	assert.Equal(t, "conn", value)
}

func TestKeyVault_NotFound(t *testing.T) {
	kv := newKeyVault("FlotillaTestsKv", CredentialDefault,
		&fakeSecretClient{values: map[string]string{}}, hclog.NewNullLogger())

	_, err := kv.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	var notFound *SecretNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "FlotillaTestsKv", notFound.Store)
}

func TestKeyVault_Forbidden(t *testing.T) {
	kv := newKeyVault("FlotillaTestsKv", CredentialClientSecret,
		&fakeSecretClient{err: &azcore.ResponseError{StatusCode: http.StatusForbidden}},
		hclog.NewNullLogger())

	err := kv.SetSecret(context.Background(), "name", "value")
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestKeyVault_OtherErrorsWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	kv := newKeyVault("FlotillaTestsKv", CredentialDefault,
		&fakeSecretClient{err: cause}, hclog.NewNullLogger())

	_, err := kv.GetSecret(context.Background(), "name")
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestNewKeyVault_ClientSecretCredential(t *testing.T) {
	kv, err := NewKeyVault(KeyVaultConfig{
		Name:         "FlotillaTestsKv",
		TenantID:     "00000000-0000-0000-0000-000000000000",
		ClientID:     "11111111-1111-1111-1111-111111111111",
		ClientSecret: "secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, CredentialClientSecret, kv.CredentialKind())
}

func TestNewKeyVault_RequiresName(t *testing.T) {
	_, err := NewKeyVault(KeyVaultConfig{}, nil)
	assert.Error(t, err)
}

func TestKeyVaultConfig_URL(t *testing.T) {
	assert.Equal(t, "https://FlotillaTestsKv.vault.azure.net",
		KeyVaultConfig{Name: "FlotillaTestsKv"}.URL())
}
