// Package blob lists and prepares object containers in the storage emulators
// of a fleet environment.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrContainerNotFound is returned when counting objects in a container that
// does not exist.
var ErrContainerNotFound = errors.New("blob container not found")

// Store is the blob surface the environment needs.
type Store interface {
	// EnsureContainers creates each named container. Containers that
	// already exist are not an error.
	EnsureContainers(ctx context.Context, names ...string) error

	// CountObjects returns the number of objects in container.
	CountObjects(ctx context.Context, container string) (int, error)
}

// AzuriteConnectionString builds an Azure storage connection string pointing
// the blob endpoint at host:port.
func AzuriteConnectionString(account, key, host string, port int) string {
	return "DefaultEndpointsProtocol=http;" +
		"AccountName=" + account + ";" +
		"AccountKey=" + key + ";" +
		"BlobEndpoint=http://" + host + ":" + strconv.Itoa(port) + "/" + account + ";"
}

func containerError(container string, err error) error {
	return fmt.Errorf("blob container %q: %w", container, err)
}
