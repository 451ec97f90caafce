package blob

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/hashicorp/go-hclog"
)

// AzureStore talks to Azure Blob Storage or an Azurite emulator.
type AzureStore struct {
	client *azblob.Client
	logger hclog.Logger
}

var _ Store = (*AzureStore)(nil)

// NewAzureStore creates a store from a storage connection string.
func NewAzureStore(connectionString string, logger hclog.Logger) (*AzureStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating blob client: %w", err)
	}
	return &AzureStore{
		client: client,
		logger: logger.Named("azblob"),
	}, nil
}

func (s *AzureStore) EnsureContainers(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := s.client.CreateContainer(ctx, name, nil)
		switch {
		case err == nil:
			s.logger.Debug("created blob container", "container", name)
		case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
			s.logger.Debug("blob container already exists", "container", name)
		default:
			return containerError(name, err)
		}
	}
	return nil
}

func (s *AzureStore) CountObjects(ctx context.Context, container string) (int, error) {
	count := 0
	pager := s.client.NewListBlobsFlatPager(container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return 0, containerError(container, ErrContainerNotFound)
			}
			return 0, containerError(container, err)
		}
		if page.Segment != nil {
			count += len(page.Segment.BlobItems)
		}
	}
	return count, nil
}
