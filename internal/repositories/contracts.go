// Package repositories declares the persistence contracts consumed by the
// service layer. Implementations live in the firestore subpackage; tests use
// hand-rolled stubs.
package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/printloom/api/internal/domain"
)

// RepositoryError lets callers classify persistence failures without
// depending on the backing store's error types.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err represents a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// DesignRepository persists design lifecycle records.
type DesignRepository interface {
	// Create inserts a new design; conflicts when the id already exists.
	Create(ctx context.Context, design domain.Design) error
	// Get returns the design by id.
	Get(ctx context.Context, id string) (domain.Design, error)
	// Update overwrites the design document.
	Update(ctx context.Context, design domain.Design) error
	// ClaimFinalize transitions the design to finalizing inside a
	// transaction, failing with a conflict when another finalize holds the
	// claim or the design cannot be finalized. The returned design reflects
	// the pre-claim state; an already published design is returned without
	// being rewritten.
	ClaimFinalize(ctx context.Context, id string, now time.Time) (domain.Design, error)
	// List pages designs for one shop, newest first.
	List(ctx context.Context, shopDomain string, pager domain.Pagination) (domain.CursorPage[domain.Design], error)
}

// AssetRepository persists append-only generated artifact records.
type AssetRepository interface {
	Create(ctx context.Context, asset domain.DesignAsset) error
	Get(ctx context.Context, id string) (domain.DesignAsset, error)
	// ListByDesign returns all assets for a design, oldest first.
	ListByDesign(ctx context.Context, designID string) ([]domain.DesignAsset, error)
	// SetObjectPath records the durable storage copy of an asset.
	SetObjectPath(ctx context.Context, id, objectPath, publicURL string) error
}

// PublishRecordRepository stores the one-to-one publish outcome per design.
type PublishRecordRepository interface {
	// Upsert writes the record keyed by design id; repeated writes replace.
	Upsert(ctx context.Context, record domain.PublishRecord) error
	Get(ctx context.Context, designID string) (domain.PublishRecord, error)
}

// CredentialRepository resolves per-shop commerce credentials.
type CredentialRepository interface {
	Get(ctx context.Context, shopDomain string) (domain.ShopCredential, error)
}

// Registry exposes every repository behind one constructor-injected value.
type Registry interface {
	Designs() DesignRepository
	Assets() AssetRepository
	PublishRecords() PublishRecordRepository
	Credentials() CredentialRepository
}
