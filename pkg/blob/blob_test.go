package blob_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/pkg/blob"
)

func TestAzuriteConnectionString(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{
			name: "docker network",
			host: "sara_raw_storage",
			port: 10000,
			want: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=key;" +
				"BlobEndpoint=http://sara_raw_storage:10000/devstoreaccount1;",
		},
		{
			name: "host",
			host: "localhost",
			port: 49153,
			want: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=key;" +
				"BlobEndpoint=http://localhost:49153/devstoreaccount1;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blob.AzuriteConnectionString("devstoreaccount1", "key", tt.host, tt.port))
		})
	}
}

func TestNewAzureStore_InvalidConnectionString(t *testing.T) {
	_, err := blob.NewAzureStore("not a connection string", nil)
	require.Error(t, err)
}
