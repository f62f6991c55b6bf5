package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// DesignStatus describes the lifecycle state of a design.
type DesignStatus string

const (
	// DesignStatusPreviewReady indicates artwork exists and the merchant may revise it.
	DesignStatusPreviewReady DesignStatus = "preview_ready"
	// DesignStatusMockupReady indicates a product mockup has been rendered.
	DesignStatusMockupReady DesignStatus = "mockup_ready"
	// DesignStatusFinalizing indicates a finalize run has claimed the design.
	DesignStatusFinalizing DesignStatus = "finalizing"
	// DesignStatusFinalized indicates the pipeline completed but publish did not succeed.
	DesignStatusFinalized DesignStatus = "finalized"
	// DesignStatusPublished indicates the design was published to the commerce platform.
	DesignStatusPublished DesignStatus = "published"
	// DesignStatusDeleted marks designs removed by the merchant or a data-erasure request.
	DesignStatusDeleted DesignStatus = "deleted"
)

// Design is a merchant concept under iteration towards a catalog product.
type Design struct {
	ID              string
	ShopDomain      string
	Concept         string
	Category        string
	Status          DesignStatus
	ArtworkPrompt   string
	CurrentAssetID  string
	Revision        int
	ProductID       string
	ProductAdminURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinalizedAt     *time.Time
}

// CanRevise reports whether a new artwork revision is acceptable. Revising a
// finalized or published design is not blocked today; callers log it instead.
func (d Design) CanRevise() bool {
	return d.Status != DesignStatusDeleted
}

// CanFinalize reports whether a finalize run may claim the design.
func (d Design) CanFinalize() bool {
	switch d.Status {
	case DesignStatusPreviewReady, DesignStatusMockupReady, DesignStatusFinalized:
		return true
	default:
		return false
	}
}

// IsPublished reports whether the design already carries a published product.
func (d Design) IsPublished() bool {
	return d.Status == DesignStatusPublished && strings.TrimSpace(d.ProductID) != ""
}

// AssetKind enumerates the artifact categories produced by the pipeline.
type AssetKind string

const (
	// AssetKindArtwork is the isolated generated artwork.
	AssetKindArtwork AssetKind = "artwork"
	// AssetKindMockup is the artwork composited onto a product photo.
	AssetKindMockup AssetKind = "mockup"
	// AssetKindLifestyle is a staged scene featuring the mockup.
	AssetKindLifestyle AssetKind = "lifestyle"
	// AssetKindTransparentArtwork is the artwork with background removed.
	AssetKindTransparentArtwork AssetKind = "transparent_artwork"
)

// AssetRole records where in the design lifecycle the asset was produced.
type AssetRole string

const (
	// AssetRoleBase marks the initial generation for a design.
	AssetRoleBase AssetRole = "base"
	// AssetRoleRevision marks an asset produced by a merchant revision.
	AssetRoleRevision AssetRole = "revision"
	// AssetRoleFinal marks assets produced during finalize.
	AssetRoleFinal AssetRole = "final"
)

// DesignAsset is an immutable record of one generated artifact. Assets are
// append-only; a design's current artwork is a pointer, never a mutation.
type DesignAsset struct {
	ID         string
	DesignID   string
	ShopDomain string
	Kind       AssetKind
	Role       AssetRole
	URL        string
	ObjectPath string
	Prompt     string
	Provider   string
	CreatedAt  time.Time
}

// PublishRecord is the one-to-one projection of a published design.
type PublishRecord struct {
	DesignID             string
	ShopDomain           string
	ProductID            string
	AdminURL             string
	PublishedImmediately bool
	UpdatedAt            time.Time
}

// ShopCredential stores the per-tenant commerce access token.
type ShopCredential struct {
	ShopDomain  string
	AccessToken string
	UpdatedAt   time.Time
}

// ImageShape is the caller-facing shape hint translated per provider.
type ImageShape string

const (
	ImageShapeSquare        ImageShape = "square"
	ImageShapePortrait      ImageShape = "portrait"
	ImageShapeLandscape     ImageShape = "landscape"
	ImageShapeTallPortrait  ImageShape = "tall_portrait"
	ImageShapeWideLandscape ImageShape = "wide_landscape"
)

// GenerationResult is the transient value returned by the provider waterfall.
// The coordinator decides what, if anything, to persist as DesignAssets.
type GenerationResult struct {
	ImageURL string
	Provider string
	Message  string
}

// ListingCopy carries the generated (or fallback) catalog listing text.
type ListingCopy struct {
	Title           string
	DescriptionHTML string
	DescriptionText string
	Tags            []string
	Provider        string
}
