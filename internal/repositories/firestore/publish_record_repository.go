package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/printloom/api/internal/domain"
	pfirestore "github.com/printloom/api/internal/platform/firestore"
)

const publishRecordCollection = "publish_records"

type publishRecordDoc struct {
	ShopDomain           string    `firestore:"shopDomain"`
	ProductID            string    `firestore:"productId"`
	AdminURL             string    `firestore:"adminUrl"`
	PublishedImmediately bool      `firestore:"publishedImmediately"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

// PublishRecordRepository stores publish outcomes keyed by design id, so a
// design can never accumulate more than one record.
type PublishRecordRepository struct {
	base *pfirestore.BaseRepository[publishRecordDoc]
}

// NewPublishRecordRepository constructs a Firestore-backed publish record repository.
func NewPublishRecordRepository(provider *pfirestore.Provider) (*PublishRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("publish record repository requires firestore provider")
	}
	return &PublishRecordRepository{
		base: pfirestore.NewBaseRepository[publishRecordDoc](provider, publishRecordCollection, nil),
	}, nil
}

// Upsert writes the record under the design id, replacing any prior value.
func (r *PublishRecordRepository) Upsert(ctx context.Context, record domain.PublishRecord) error {
	if strings.TrimSpace(record.DesignID) == "" {
		return errors.New("publish record repository: design id is required")
	}
	return r.base.Set(ctx, record.DesignID, publishRecordDoc{
		ShopDomain:           record.ShopDomain,
		ProductID:            record.ProductID,
		AdminURL:             record.AdminURL,
		PublishedImmediately: record.PublishedImmediately,
		UpdatedAt:            record.UpdatedAt,
	})
}

// Get returns the record for the design.
func (r *PublishRecordRepository) Get(ctx context.Context, designID string) (domain.PublishRecord, error) {
	doc, err := r.base.Get(ctx, designID)
	if err != nil {
		return domain.PublishRecord{}, err
	}
	return domain.PublishRecord{
		DesignID:             doc.ID,
		ShopDomain:           doc.Data.ShopDomain,
		ProductID:            doc.Data.ProductID,
		AdminURL:             doc.Data.AdminURL,
		PublishedImmediately: doc.Data.PublishedImmediately,
		UpdatedAt:            doc.Data.UpdatedAt,
	}, nil
}
