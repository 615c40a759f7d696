package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rotisserie/eris"
)

// AzureAPI is the subset of *azblob.Client used by Azure.
type AzureAPI interface {
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

// AzureOptions configures an Azure Blob backend.
type AzureOptions struct {
	Account   string
	Key       string
	Container string
	Prefix    string
}

// Azure stores blobs in an Azure Blob Storage container.
type Azure struct {
	client    AzureAPI
	container string
	prefix    string
}

// NewAzure authenticates with a shared key and returns an Azure backend.
func NewAzure(opts AzureOptions) (*Azure, error) {
	if opts.Account == "" || opts.Key == "" || opts.Container == "" {
		return nil, eris.New("storage: azure account, key and container are required")
	}
	credential, err := azblob.NewSharedKeyCredential(opts.Account, opts.Key)
	if err != nil {
		return nil, eris.Wrap(err, "storage: build shared key credential")
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", opts.Account)
	client, err := azblob.NewClientWithSharedKeyCredential(url, credential, nil)
	if err != nil {
		return nil, eris.Wrap(err, "storage: create blob client")
	}
	return NewAzureWithClient(client, opts.Container, opts.Prefix), nil
}

// NewAzureWithClient wraps an existing client.
func NewAzureWithClient(client AzureAPI, container, prefix string) *Azure {
	return &Azure{client: client, container: container, prefix: prefix}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) blobName(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return joinPrefix(a.prefix, key), nil
}

func (a *Azure) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	name, err := a.blobName(key)
	if err != nil {
		return 0, err
	}
	cr := &countingReader{r: r}
	if _, err := a.client.UploadStream(ctx, a.container, name, cr, nil); err != nil {
		return cr.n, eris.Wrapf(err, "storage: azure upload %s", name)
	}
	return cr.n, nil
}

func (a *Azure) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := a.blobName(key)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: azure download %s", name)
	}
	return resp.Body, nil
}

func (a *Azure) Exists(ctx context.Context, key string) (bool, error) {
	name, err := a.blobName(key)
	if err != nil {
		return false, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, name, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: 0, Count: 1},
	})
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return false, nil
	case bloberror.HasCode(err, bloberror.InvalidRange):
		// zero-length blob
		return true, nil
	case err != nil:
		return false, eris.Wrapf(err, "storage: azure stat %s", name)
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	return true, nil
}

func (a *Azure) Delete(ctx context.Context, key string) error {
	name, err := a.blobName(key)
	if err != nil {
		return err
	}
	_, err = a.client.DeleteBlob(ctx, a.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return ErrNotExist
	}
	return eris.Wrapf(err, "storage: azure delete %s", name)
}
