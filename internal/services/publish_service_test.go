package services

import (
	"context"
	"errors"
	"testing"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/config"
	"github.com/printloom/api/internal/providers/shopify"
)

type repoNotFoundError struct{ msg string }

func (e repoNotFoundError) Error() string       { return e.msg }
func (e repoNotFoundError) IsNotFound() bool    { return true }
func (e repoNotFoundError) IsConflict() bool    { return false }
func (e repoNotFoundError) IsUnavailable() bool { return false }

type stubCredentials struct {
	credential domain.ShopCredential
	err        error
	calls      int
}

func (s *stubCredentials) Get(_ context.Context, shopDomain string) (domain.ShopCredential, error) {
	s.calls++
	if s.err != nil {
		return domain.ShopCredential{}, s.err
	}
	return s.credential, nil
}

type stubCommercePublisher struct {
	graphqlProduct shopify.Product
	graphqlErr     error
	restProduct    shopify.Product
	restErr        error
	attachErr      error

	graphqlCalls int
	restCalls    int
	restInput    shopify.ProductInput
	attached     []string
}

func (s *stubCommercePublisher) CreateProductGraphQL(_ context.Context, _ shopify.ProductInput) (shopify.Product, error) {
	s.graphqlCalls++
	if s.graphqlErr != nil {
		return shopify.Product{}, s.graphqlErr
	}
	return s.graphqlProduct, nil
}

func (s *stubCommercePublisher) CreateProductREST(_ context.Context, input shopify.ProductInput) (shopify.Product, error) {
	s.restCalls++
	s.restInput = input
	if s.restErr != nil {
		return shopify.Product{}, s.restErr
	}
	return s.restProduct, nil
}

func (s *stubCommercePublisher) AttachImage(_ context.Context, _, imageURL string) error {
	s.attached = append(s.attached, imageURL)
	return s.attachErr
}

func newPublishService(t *testing.T, credentials *stubCredentials, cfg config.ShopifyConfig, publisher *stubCommercePublisher) (PublishService, *[]string) {
	t.Helper()
	var tokens []string
	svc, err := NewPublishService(PublishServiceDeps{
		Credentials: credentials,
		Config:      cfg,
		Factory: func(shopDomain, token string) (CommercePublisher, error) {
			tokens = append(tokens, token)
			return publisher, nil
		},
	})
	if err != nil {
		t.Fatalf("NewPublishService returned error: %v", err)
	}
	return svc, &tokens
}

func TestPublishPrefersStoredCredential(t *testing.T) {
	credentials := &stubCredentials{
		credential: domain.ShopCredential{ShopDomain: "shop.example", AccessToken: "shpat_stored"},
	}
	publisher := &stubCommercePublisher{graphqlProduct: shopify.Product{ID: "42", AdminURL: "https://shop.example/admin/products/42"}}
	svc, tokens := newPublishService(t, credentials, config.ShopifyConfig{GlobalAccessToken: "shpat_global"}, publisher)

	outcome, err := svc.Publish(context.Background(), PublishCommand{
		ShopDomain: "shop.example",
		Title:      "Midnight Fox Tee",
	})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if outcome.ProductID != "42" || outcome.Mocked {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(*tokens) != 1 || (*tokens)[0] != "shpat_stored" {
		t.Fatalf("expected stored token, got %v", *tokens)
	}
}

func TestPublishFallsBackToGlobalToken(t *testing.T) {
	credentials := &stubCredentials{err: repoNotFoundError{msg: "no credential"}}
	publisher := &stubCommercePublisher{graphqlProduct: shopify.Product{ID: "7"}}
	svc, tokens := newPublishService(t, credentials, config.ShopifyConfig{GlobalAccessToken: "shpat_global"}, publisher)

	if _, err := svc.Publish(context.Background(), PublishCommand{ShopDomain: "shop.example", Title: "Tee"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(*tokens) != 1 || (*tokens)[0] != "shpat_global" {
		t.Fatalf("expected global token, got %v", *tokens)
	}
}

func TestPublishWithoutCredentialReturnsMock(t *testing.T) {
	credentials := &stubCredentials{err: repoNotFoundError{msg: "no credential"}}
	publisher := &stubCommercePublisher{}
	svc, tokens := newPublishService(t, credentials, config.ShopifyConfig{}, publisher)

	first, err := svc.Publish(context.Background(), PublishCommand{ShopDomain: "shop.example", Title: "Tee"})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if !first.Mocked || first.ProductID == "" {
		t.Fatalf("expected mock outcome, got %+v", first)
	}
	if len(*tokens) != 0 {
		t.Fatal("no client must be built without a credential")
	}

	second, err := svc.Publish(context.Background(), PublishCommand{ShopDomain: "shop.example", Title: "Tee"})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if second.ProductID != first.ProductID {
		t.Fatalf("mock product id must be deterministic: %q vs %q", first.ProductID, second.ProductID)
	}
}

func TestPublishAttachesImagesAfterGraphQL(t *testing.T) {
	credentials := &stubCredentials{
		credential: domain.ShopCredential{AccessToken: "shpat_stored"},
	}
	publisher := &stubCommercePublisher{
		graphqlProduct: shopify.Product{ID: "42"},
		attachErr:      errors.New("image fetch failed"),
	}
	svc, _ := newPublishService(t, credentials, config.ShopifyConfig{}, publisher)

	outcome, err := svc.Publish(context.Background(), PublishCommand{
		ShopDomain: "shop.example",
		Title:      "Tee",
		ImageURLs:  []string{"https://img/a.png", "", "https://img/b.png"},
	})
	if err != nil {
		t.Fatalf("attach failures must not fail the publish: %v", err)
	}
	if outcome.ProductID != "42" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(publisher.attached) != 2 {
		t.Fatalf("expected 2 attach attempts, got %v", publisher.attached)
	}
	if publisher.restCalls != 0 {
		t.Fatal("legacy create must not run when the mutation succeeds")
	}
}

func TestPublishFallsBackToRESTOnGraphQLError(t *testing.T) {
	credentials := &stubCredentials{
		credential: domain.ShopCredential{AccessToken: "shpat_stored"},
	}
	publisher := &stubCommercePublisher{
		graphqlErr:  errors.New("userErrors: title taken"),
		restProduct: shopify.Product{ID: "99"},
	}
	svc, _ := newPublishService(t, credentials, config.ShopifyConfig{}, publisher)

	outcome, err := svc.Publish(context.Background(), PublishCommand{
		ShopDomain: "shop.example",
		Title:      "Tee",
		ImageURLs:  []string{"https://img/a.png"},
	})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if outcome.ProductID != "99" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if publisher.restCalls != 1 {
		t.Fatalf("expected one legacy create, got %d", publisher.restCalls)
	}
	if len(publisher.restInput.ImageURLs) != 1 {
		t.Fatalf("legacy create must carry images inline, got %v", publisher.restInput.ImageURLs)
	}
	if len(publisher.attached) != 0 {
		t.Fatal("no per-image attach after a legacy create")
	}
}

func TestPublishBothCreatePathsFailing(t *testing.T) {
	credentials := &stubCredentials{
		credential: domain.ShopCredential{AccessToken: "shpat_stored"},
	}
	publisher := &stubCommercePublisher{
		graphqlErr: errors.New("boom"),
		restErr:    errors.New("also boom"),
	}
	svc, _ := newPublishService(t, credentials, config.ShopifyConfig{}, publisher)

	if _, err := svc.Publish(context.Background(), PublishCommand{ShopDomain: "shop.example", Title: "Tee"}); err == nil {
		t.Fatal("expected error when both create paths fail")
	}
}

func TestPublishRequiresShopDomain(t *testing.T) {
	svc, _ := newPublishService(t, &stubCredentials{}, config.ShopifyConfig{}, &stubCommercePublisher{})
	if _, err := svc.Publish(context.Background(), PublishCommand{Title: "Tee"}); !errors.Is(err, ErrMissingShopDomain) {
		t.Fatalf("expected ErrMissingShopDomain, got %v", err)
	}
}
