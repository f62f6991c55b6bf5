package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/printloom/api/internal/domain"
	pfirestore "github.com/printloom/api/internal/platform/firestore"
)

const designCollection = "designs"

// finalizeClaimTTL bounds how long a finalize claim holds. A run that crashed
// after claiming never writes a terminal status, so the claim becomes
// re-claimable once the design has sat in finalizing this long.
const finalizeClaimTTL = 10 * time.Minute

type designDoc struct {
	ShopDomain      string     `firestore:"shopDomain"`
	Concept         string     `firestore:"concept"`
	Category        string     `firestore:"category"`
	Status          string     `firestore:"status"`
	ArtworkPrompt   string     `firestore:"artworkPrompt"`
	CurrentAssetID  string     `firestore:"currentAssetId"`
	Revision        int        `firestore:"revision"`
	ProductID       string     `firestore:"productId"`
	ProductAdminURL string     `firestore:"productAdminUrl"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
	FinalizedAt     *time.Time `firestore:"finalizedAt"`
}

// DesignRepository persists designs in Firestore.
type DesignRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[designDoc]
}

// NewDesignRepository constructs a Firestore-backed design repository.
func NewDesignRepository(provider *pfirestore.Provider) (*DesignRepository, error) {
	if provider == nil {
		return nil, errors.New("design repository requires firestore provider")
	}
	return &DesignRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[designDoc](provider, designCollection, nil),
	}, nil
}

// Create inserts the design, conflicting when the id already exists.
func (r *DesignRepository) Create(ctx context.Context, design domain.Design) error {
	if strings.TrimSpace(design.ID) == "" {
		return errors.New("design repository: id is required")
	}
	return r.base.Create(ctx, design.ID, encodeDesign(design))
}

// Get returns the design by id.
func (r *DesignRepository) Get(ctx context.Context, id string) (domain.Design, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Design{}, err
	}
	return decodeDesign(doc.ID, doc.Data), nil
}

// Update overwrites the design document.
func (r *DesignRepository) Update(ctx context.Context, design domain.Design) error {
	if strings.TrimSpace(design.ID) == "" {
		return errors.New("design repository: id is required")
	}
	return r.base.Set(ctx, design.ID, encodeDesign(design))
}

// ClaimFinalize moves the design to finalizing with a compare-and-swap so
// two concurrent finalize runs cannot both pass the entry guard.
func (r *DesignRepository) ClaimFinalize(ctx context.Context, id string, now time.Time) (domain.Design, error) {
	docRef, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Design{}, err
	}

	var claimed domain.Design
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return pfirestore.WrapError("designs.claim", err)
		}

		data, err := r.base.Decode(snap)
		if err != nil {
			return fmt.Errorf("designs.claim: decode %s: %w", id, err)
		}
		design := decodeDesign(snap.Ref.ID, data)

		if design.IsPublished() {
			// The published short-circuit belongs to the caller; report the
			// state through the returned design without rewriting it.
			claimed = design
			return nil
		}
		if !claimableForFinalize(design, now) {
			return pfirestore.WrapError("designs.claim",
				status.Error(codes.FailedPrecondition, fmt.Sprintf("design %s is %s", id, design.Status)))
		}

		claimed = design
		return tx.Update(docRef, []firestore.Update{
			{Path: "status", Value: string(domain.DesignStatusFinalizing)},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return domain.Design{}, err
	}
	return claimed, nil
}

// claimableForFinalize decides whether a finalize claim may proceed. A fresh
// finalizing status blocks concurrent runs; a stale one is an abandoned claim.
func claimableForFinalize(design domain.Design, now time.Time) bool {
	if design.CanFinalize() {
		return true
	}
	return design.Status == domain.DesignStatusFinalizing &&
		now.Sub(design.UpdatedAt) >= finalizeClaimTTL
}

// List pages designs for one shop, newest first.
func (r *DesignRepository) List(ctx context.Context, shopDomain string, pager domain.Pagination) (domain.CursorPage[domain.Design], error) {
	limit := pager.PageSize
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := limit + 1

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		q := query.
			Where("shopDomain", "==", strings.TrimSpace(shopDomain)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(fetchLimit)
		if token := strings.TrimSpace(pager.PageToken); token != "" {
			if createdAt, docID, err := decodeDesignToken(token); err == nil {
				q = q.StartAfter(createdAt, docID)
			}
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Design]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[fetchLimit-1]
		nextToken = encodeDesignToken(last.Data.CreatedAt, last.ID)
		docs = docs[:fetchLimit-1]
	}

	items := make([]domain.Design, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeDesign(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Design]{Items: items, NextPageToken: nextToken}, nil
}

func encodeDesign(design domain.Design) designDoc {
	return designDoc{
		ShopDomain:      design.ShopDomain,
		Concept:         design.Concept,
		Category:        design.Category,
		Status:          string(design.Status),
		ArtworkPrompt:   design.ArtworkPrompt,
		CurrentAssetID:  design.CurrentAssetID,
		Revision:        design.Revision,
		ProductID:       design.ProductID,
		ProductAdminURL: design.ProductAdminURL,
		CreatedAt:       design.CreatedAt,
		UpdatedAt:       design.UpdatedAt,
		FinalizedAt:     design.FinalizedAt,
	}
}

func decodeDesign(id string, doc designDoc) domain.Design {
	return domain.Design{
		ID:              id,
		ShopDomain:      doc.ShopDomain,
		Concept:         doc.Concept,
		Category:        doc.Category,
		Status:          domain.DesignStatus(doc.Status),
		ArtworkPrompt:   doc.ArtworkPrompt,
		CurrentAssetID:  doc.CurrentAssetID,
		Revision:        doc.Revision,
		ProductID:       doc.ProductID,
		ProductAdminURL: doc.ProductAdminURL,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		FinalizedAt:     doc.FinalizedAt,
	}
}

func encodeDesignToken(createdAt time.Time, docID string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeDesignToken(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("malformed page token")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
