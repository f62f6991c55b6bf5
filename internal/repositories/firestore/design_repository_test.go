package firestore

import (
	"testing"
	"time"

	"github.com/printloom/api/internal/domain"
)

func TestClaimableForFinalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		status    domain.DesignStatus
		updatedAt time.Time
		want      bool
	}{
		{"preview ready", domain.DesignStatusPreviewReady, now, true},
		{"mockup ready", domain.DesignStatusMockupReady, now, true},
		{"finalized", domain.DesignStatusFinalized, now, true},
		{"fresh finalizing claim blocks", domain.DesignStatusFinalizing, now.Add(-time.Minute), false},
		{"finalizing just under ttl blocks", domain.DesignStatusFinalizing, now.Add(-finalizeClaimTTL + time.Second), false},
		{"stale finalizing claim reopens", domain.DesignStatusFinalizing, now.Add(-finalizeClaimTTL), true},
		{"abandoned finalizing claim reopens", domain.DesignStatusFinalizing, now.Add(-time.Hour), true},
		{"deleted", domain.DesignStatusDeleted, now.Add(-time.Hour), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			design := domain.Design{
				ID:        "dsg_1",
				Status:    tc.status,
				UpdatedAt: tc.updatedAt,
			}
			if got := claimableForFinalize(design, now); got != tc.want {
				t.Fatalf("claimableForFinalize(%s, updated %s ago) = %v, want %v",
					tc.status, now.Sub(tc.updatedAt), got, tc.want)
			}
		})
	}
}
