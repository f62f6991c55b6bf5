package firestore

import (
	"errors"

	pfirestore "github.com/printloom/api/internal/platform/firestore"
	"github.com/printloom/api/internal/repositories"
)

// Registry bundles every Firestore repository behind the repositories.Registry contract.
type Registry struct {
	designs        *DesignRepository
	assets         *AssetRepository
	publishRecords *PublishRecordRepository
	credentials    *CredentialRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories from one shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	designs, err := NewDesignRepository(provider)
	if err != nil {
		return nil, err
	}
	assets, err := NewAssetRepository(provider)
	if err != nil {
		return nil, err
	}
	publishRecords, err := NewPublishRecordRepository(provider)
	if err != nil {
		return nil, err
	}
	credentials, err := NewCredentialRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		designs:        designs,
		assets:         assets,
		publishRecords: publishRecords,
		credentials:    credentials,
	}, nil
}

// Designs returns the design repository.
func (r *Registry) Designs() repositories.DesignRepository { return r.designs }

// Assets returns the asset repository.
func (r *Registry) Assets() repositories.AssetRepository { return r.assets }

// PublishRecords returns the publish record repository.
func (r *Registry) PublishRecords() repositories.PublishRecordRepository { return r.publishRecords }

// Credentials returns the credential repository.
func (r *Registry) Credentials() repositories.CredentialRepository { return r.credentials }
