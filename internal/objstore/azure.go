package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/cuemby/logship/pkg/apperror"
)

// AzureConfig configures an Azure Blob Storage backend.
type AzureConfig struct {
	AccountURL  string
	AccountName string
	AccessKey   string
	Container   string
}

// AzureBackend stores objects as blobs in a single container.
type AzureBackend struct {
	containerClient *container.Client
}

// NewAzureBlob authenticates against cfg.AccountURL (or the standard
// "<account>.blob.core.windows.net" host when unset) using a shared key.
func NewAzureBlob(cfg AzureConfig) (*AzureBackend, error) {
	accountURL := cfg.AccountURL
	if accountURL == "" {
		accountURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccessKey)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreAuth, "azure shared key credential", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreAuth, "create azure client", err)
	}

	return &AzureBackend{containerClient: client.ServiceClient().NewContainerClient(cfg.Container)}, nil
}

func (a *AzureBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.containerClient.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, classifyAzureError(key, err)
	}
	return resp.Body, nil
}

func (a *AzureBackend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	_, err = a.containerClient.NewBlockBlobClient(key).UploadBuffer(ctx, buf, nil)
	if err != nil {
		return classifyAzureError(key, err)
	}
	return nil
}

func (a *AzureBackend) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return false, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}

	ifNoneMatch := azcore.ETagAny
	_, err = a.containerClient.NewBlockBlobClient(key).UploadBuffer(ctx, buf, &blob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: &ifNoneMatch,
			},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) || bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return false, nil
		}
		return false, classifyAzureError(key, err)
	}
	return true, nil
}

func (a *AzureBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	pager := a.containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzureError(prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			info := ObjectInfo{Key: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					info.LastModified = *item.Properties.LastModified
				}
				if item.Properties.ETag != nil {
					info.ETag = strings.Trim(string(*item.Properties.ETag), `"`)
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *AzureBackend) Head(ctx context.Context, key string) (ObjectInfo, error) {
	props, err := a.containerClient.NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return ObjectInfo{}, classifyAzureError(key, err)
	}
	info := ObjectInfo{Key: key}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	return info, nil
}

func (a *AzureBackend) Delete(ctx context.Context, key string) error {
	_, err := a.containerClient.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return classifyAzureError(key, err)
	}
	return nil
}

func classifyAzureError(key string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound), bloberror.HasCode(err, bloberror.ContainerNotFound):
		return apperror.Wrap(apperror.KindObjectStoreNotFound, key, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed), bloberror.HasCode(err, bloberror.AuthorizationFailure):
		return apperror.Wrap(apperror.KindObjectStoreAuth, key, err)
	default:
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
}
