package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/printloom/api/internal/domain"
	pfirestore "github.com/printloom/api/internal/platform/firestore"
)

const assetCollection = "design_assets"

type assetDoc struct {
	DesignID   string    `firestore:"designId"`
	ShopDomain string    `firestore:"shopDomain"`
	Kind       string    `firestore:"kind"`
	Role       string    `firestore:"role"`
	URL        string    `firestore:"url"`
	ObjectPath string    `firestore:"objectPath"`
	Prompt     string    `firestore:"prompt"`
	Provider   string    `firestore:"provider"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

// AssetRepository persists append-only asset records in Firestore.
type AssetRepository struct {
	base *pfirestore.BaseRepository[assetDoc]
}

// NewAssetRepository constructs a Firestore-backed asset repository.
func NewAssetRepository(provider *pfirestore.Provider) (*AssetRepository, error) {
	if provider == nil {
		return nil, errors.New("asset repository requires firestore provider")
	}
	return &AssetRepository{
		base: pfirestore.NewBaseRepository[assetDoc](provider, assetCollection, nil),
	}, nil
}

// Create inserts the asset record. Assets are never updated or replaced;
// revisions create new records.
func (r *AssetRepository) Create(ctx context.Context, asset domain.DesignAsset) error {
	if strings.TrimSpace(asset.ID) == "" {
		return errors.New("asset repository: id is required")
	}
	if strings.TrimSpace(asset.DesignID) == "" {
		return errors.New("asset repository: design id is required")
	}
	return r.base.Create(ctx, asset.ID, encodeAsset(asset))
}

// Get returns the asset by id.
func (r *AssetRepository) Get(ctx context.Context, id string) (domain.DesignAsset, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.DesignAsset{}, err
	}
	return decodeAsset(doc.ID, doc.Data), nil
}

// ListByDesign returns every asset for the design, oldest first.
func (r *AssetRepository) ListByDesign(ctx context.Context, designID string) ([]domain.DesignAsset, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("designId", "==", strings.TrimSpace(designID)).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	assets := make([]domain.DesignAsset, 0, len(docs))
	for _, doc := range docs {
		assets = append(assets, decodeAsset(doc.ID, doc.Data))
	}
	return assets, nil
}

// SetObjectPath records the durable copy location after persistence.
func (r *AssetRepository) SetObjectPath(ctx context.Context, id, objectPath, publicURL string) error {
	updates := []firestore.Update{
		{Path: "objectPath", Value: objectPath},
	}
	if strings.TrimSpace(publicURL) != "" {
		updates = append(updates, firestore.Update{Path: "url", Value: publicURL})
	}
	return r.base.Update(ctx, id, updates)
}

func encodeAsset(asset domain.DesignAsset) assetDoc {
	return assetDoc{
		DesignID:   asset.DesignID,
		ShopDomain: asset.ShopDomain,
		Kind:       string(asset.Kind),
		Role:       string(asset.Role),
		URL:        asset.URL,
		ObjectPath: asset.ObjectPath,
		Prompt:     asset.Prompt,
		Provider:   asset.Provider,
		CreatedAt:  asset.CreatedAt,
	}
}

func decodeAsset(id string, doc assetDoc) domain.DesignAsset {
	return domain.DesignAsset{
		ID:         id,
		DesignID:   doc.DesignID,
		ShopDomain: doc.ShopDomain,
		Kind:       domain.AssetKind(doc.Kind),
		Role:       domain.AssetRole(doc.Role),
		URL:        doc.URL,
		ObjectPath: doc.ObjectPath,
		Prompt:     doc.Prompt,
		Provider:   doc.Provider,
		CreatedAt:  doc.CreatedAt,
	}
}
