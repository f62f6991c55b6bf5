package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"

	"github.com/printloom/api/internal/platform/config"
)

type failingDoer struct{ t *testing.T }

func (d failingDoer) Do(*http.Request) (*http.Response, error) {
	d.t.Error("inline payloads must not be fetched over HTTP")
	return nil, errors.New("unexpected download")
}

func newUploadServer(t *testing.T, uploads *[][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read upload body: %v", err)
		}
		*uploads = append(*uploads, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"assets","name":"obj"}`))
	}))
}

func newTestPersister(t *testing.T, serverURL string, opts ...PersisterOption) *Persister {
	t.Helper()
	all := append([]PersisterOption{
		WithClientOptions(option.WithEndpoint(serverURL), option.WithoutAuthentication()),
	}, opts...)
	p, err := NewPersister(config.StorageConfig{
		AssetsBucket: "assets",
		PublicHost:   "https://cdn.example",
	}, all...)
	if err != nil {
		t.Fatalf("NewPersister returned error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPersistDecodesDataURI(t *testing.T) {
	var uploads [][]byte
	server := newUploadServer(t, &uploads)
	defer server.Close()

	payload := []byte("not really a png but good enough")
	source := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	p := newTestPersister(t, server.URL, WithHTTPClient(failingDoer{t}))
	persisted, err := p.Persist(context.Background(), source, "shops/s/designs/d/a.png")
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if persisted.PublicURL != "https://cdn.example/assets/shops/s/designs/d/a.png" {
		t.Fatalf("unexpected public url %q", persisted.PublicURL)
	}
	if persisted.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", persisted.ContentType)
	}
	if persisted.Size != int64(len(payload)) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), persisted.Size)
	}
	if len(uploads) == 0 || !bytes.Contains(uploads[0], payload) {
		t.Fatal("decoded payload must reach the bucket")
	}
}

func TestPersistRejectsMalformedDataURI(t *testing.T) {
	p, err := NewPersister(config.StorageConfig{
		AssetsBucket: "assets",
		PublicHost:   "https://cdn.example",
	}, WithHTTPClient(failingDoer{t}))
	if err != nil {
		t.Fatalf("NewPersister returned error: %v", err)
	}

	for _, source := range []string{
		"data:image/png;base64",
		"data:image/png,plain-text-payload",
		"data:image/png;base64,!!!",
		"data:image/png;base64,",
	} {
		if _, err := p.Persist(context.Background(), source, "o.png"); err == nil {
			t.Fatalf("expected error for %q", source)
		}
	}
}

func TestPersistDownloadsRemoteURL(t *testing.T) {
	var uploads [][]byte
	server := newUploadServer(t, &uploads)
	defer server.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = io.Copy(w, strings.NewReader("jpeg-bytes"))
	}))
	defer origin.Close()

	p := newTestPersister(t, server.URL)
	persisted, err := p.Persist(context.Background(), origin.URL+"/img.jpg", "shops/s/designs/d/b.png")
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if persisted.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %q", persisted.ContentType)
	}
	if len(uploads) == 0 || !bytes.Contains(uploads[0], []byte("jpeg-bytes")) {
		t.Fatal("downloaded payload must reach the bucket")
	}
}
