package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/printloom/api/internal/domain"
	pfirestore "github.com/printloom/api/internal/platform/firestore"
)

const credentialCollection = "shop_credentials"

type credentialDoc struct {
	AccessToken string    `firestore:"accessToken"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// CredentialRepository reads per-shop commerce tokens keyed by shop domain.
type CredentialRepository struct {
	base *pfirestore.BaseRepository[credentialDoc]
}

// NewCredentialRepository constructs a Firestore-backed credential repository.
func NewCredentialRepository(provider *pfirestore.Provider) (*CredentialRepository, error) {
	if provider == nil {
		return nil, errors.New("credential repository requires firestore provider")
	}
	return &CredentialRepository{
		base: pfirestore.NewBaseRepository[credentialDoc](provider, credentialCollection, nil),
	}, nil
}

// Get returns the stored credential for the shop.
func (r *CredentialRepository) Get(ctx context.Context, shopDomain string) (domain.ShopCredential, error) {
	doc, err := r.base.Get(ctx, shopDomain)
	if err != nil {
		return domain.ShopCredential{}, err
	}
	return domain.ShopCredential{
		ShopDomain:  doc.ID,
		AccessToken: doc.Data.AccessToken,
		UpdatedAt:   doc.Data.UpdatedAt,
	}, nil
}
