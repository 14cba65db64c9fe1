package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"arnscan/internal/models"
)

// S3Config locates the account listing in S3-compatible storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Object    string // key of the JSON account listing
}

// S3Directory serves the account inventory from a JSON listing stored in an
// S3/MinIO bucket.
type S3Directory struct {
	client *minio.Client
	bucket string
	object string
}

// NewS3Directory connects to the object store holding the account listing.
func NewS3Directory(cfg S3Config) (*S3Directory, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing endpoint, credentials, or bucket", ErrUnavailable)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrUnavailable, err)
	}

	log.Println("Connected to inventory endpoint:", cfg.Endpoint)
	return &S3Directory{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// ListAccounts loads and decodes the account listing, keeping only accounts
// matching the environment filter when one is given.
func (d *S3Directory) ListAccounts(ctx context.Context, filter string) ([]models.Account, error) {
	object, err := d.client.GetObject(ctx, d.bucket, d.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, d.bucket, d.object, err)
	}
	defer object.Close()

	accounts, err := decodeListing(object)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s/%s: %v", ErrUnavailable, d.bucket, d.object, err)
	}
	return filterAccounts(accounts, filter), nil
}

// FilterServiceEnabled keeps accounts that register the service as enabled
// in their inventory metadata.
func (d *S3Directory) FilterServiceEnabled(_ context.Context, service string, accounts []models.Account) ([]models.Account, error) {
	var enabled []models.Account
	for _, acct := range accounts {
		if acct.HasServiceEnabled(service) {
			enabled = append(enabled, acct)
		}
	}
	return enabled, nil
}

// decodeListing streams the JSON account listing from the reader.
func decodeListing(r io.Reader) ([]models.Account, error) {
	var accounts []models.Account
	if err := json.NewDecoder(r).Decode(&accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func filterAccounts(accounts []models.Account, filter string) []models.Account {
	if filter == "" {
		return accounts
	}
	var kept []models.Account
	for _, acct := range accounts {
		if acct.Environment == filter {
			kept = append(kept, acct)
		}
	}
	return kept
}
