// Azure Blob Storage gateway backend.
//
// Asset bytes live in one upstream container under an optional prefix.
// Key mapping:
//
//	Assets:  {prefix}{relative path}
//
// Credentials are resolved via a connection string, managed identity, or
// DefaultAzureCredential (env vars, Azure CLI, etc.), in that order.

package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/galleria/galleria/internal/naming"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the gateway backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	// DownloadBlob downloads a blob's contents.
	DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// ContainerExists returns an error unless the container is reachable.
	ContainerExists(ctx context.Context, containerName string) error
	// ListBlobPage returns one page of blob names under prefix beginning at
	// marker, plus the marker for the next page ("" when done).
	ListBlobPage(ctx context.Context, containerName, prefix, marker string) ([]string, string, error)
}

// AzureOptions configures NewAzureGatewayBackend.
type AzureOptions struct {
	Container          string
	AccountURL         string
	Prefix             string
	ConnectionString   string
	UseManagedIdentity bool
}

// AzureGatewayBackend implements Backend on Azure Blob Storage.
type AzureGatewayBackend struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is the key prefix for all blobs in the upstream container.
	Prefix string

	client AzureBlobAPI
}

// NewAzureGatewayBackend creates an AzureGatewayBackend and verifies that
// the container is reachable.
func NewAzureGatewayBackend(ctx context.Context, opts AzureOptions) (*AzureGatewayBackend, error) {
	client, err := newRealAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := NewAzureGatewayBackendWithClient(opts.Container, opts.AccountURL, opts.Prefix, client)
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access upstream Azure container %q: %w", opts.Container, err)
	}

	slog.Info("Azure gateway backend initialized", "container", opts.Container, "account", opts.AccountURL, "prefix", opts.Prefix)
	return b, nil
}

// NewAzureGatewayBackendWithClient creates an AzureGatewayBackend with a
// pre-configured Azure client. This is primarily used for testing with mock
// clients.
func NewAzureGatewayBackendWithClient(container, accountURL, prefix string, client AzureBlobAPI) *AzureGatewayBackend {
	return &AzureGatewayBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}
}

func (b *AzureGatewayBackend) blobName(rel string) string {
	return b.Prefix + naming.Normalize(rel)
}

// EnsureRoot is a no-op: the container is provisioned out of band.
func (b *AzureGatewayBackend) EnsureRoot(ctx context.Context) error {
	return nil
}

// Write uploads data as a block blob.
func (b *AzureGatewayBackend) Write(ctx context.Context, rel string, data []byte) error {
	if !naming.Valid(rel) {
		return &WriteError{Path: rel, Err: errors.New("invalid path")}
	}
	if err := b.client.UploadBlob(ctx, b.Container, b.blobName(rel), data); err != nil {
		return &WriteError{Path: rel, Err: fmt.Errorf("uploading to Azure: %w", err)}
	}
	return nil
}

// Read downloads the asset bytes at rel.
func (b *AzureGatewayBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	data, err := b.client.DownloadBlob(ctx, b.Container, b.blobName(rel))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("downloading blob from Azure: %w", err)
	}
	return data, nil
}

// Delete removes rel. A missing blob is not an error.
func (b *AzureGatewayBackend) Delete(ctx context.Context, rel string) error {
	if err := b.client.DeleteBlob(ctx, b.Container, b.blobName(rel)); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// Exists reports whether rel exists upstream.
func (b *AzureGatewayBackend) Exists(ctx context.Context, rel string) (bool, error) {
	ok, err := b.client.BlobExists(ctx, b.Container, b.blobName(rel))
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure: %w", err)
	}
	return ok, nil
}

// Walk follows the flat listing markers page by page.
func (b *AzureGatewayBackend) Walk(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		marker := ""
		for {
			names, next, err := b.client.ListBlobPage(ctx, b.Container, b.Prefix, marker)
			if err != nil {
				if bloberror.HasCode(err, bloberror.ContainerNotFound) {
					yield("", ErrRootNotFound)
				} else {
					yield("", &WalkError{Dir: b.Prefix, Err: err})
				}
				return
			}
			for _, name := range names {
				key := strings.TrimPrefix(name, b.Prefix)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				if !yield(key, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			marker = next
		}
	}
}

// HealthCheck verifies that the upstream container is reachable.
func (b *AzureGatewayBackend) HealthCheck(ctx context.Context) error {
	return b.client.ContainerExists(ctx, b.Container)
}

func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "the specified blob does not exist")
}

var _ Backend = (*AzureGatewayBackend)(nil)
