package objstore

import (
	"fmt"

	"github.com/cuemby/logship/pkg/config"
)

// New constructs the Backend selected by cfg.Store.
func New(cfg *config.Config) (Backend, error) {
	switch cfg.Store {
	case config.StoreLocalFS:
		return NewLocalFS(cfg.FSDir)
	case config.StoreS3:
		return NewS3(S3Config{
			Endpoint:  cfg.S3URL,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	case config.StoreAzure:
		return NewAzureBlob(AzureConfig{
			AccountURL:  cfg.AzureAccountURL,
			AccountName: cfg.AzureAccountName,
			AccessKey:   cfg.AzureAccessKey,
			Container:   cfg.AzureContainer,
		})
	case config.StoreGCS:
		return NewGCS(GCSConfig{
			Bucket:         cfg.GCSBucket,
			CredentialFile: cfg.GCSCredentialFile,
		})
	default:
		return nil, fmt.Errorf("objstore: unrecognized store kind %q", cfg.Store)
	}
}
