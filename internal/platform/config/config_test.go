package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"FIRESTORE_PROJECT_ID": "printloom-test",
		"ASSETS_BUCKET":        "printloom-assets",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.OpenAI.ImageModel != "gpt-image-1" {
		t.Fatalf("unexpected default image model %s", cfg.OpenAI.ImageModel)
	}
	if cfg.OpenAI.FallbackModel != "dall-e-3" {
		t.Fatalf("unexpected fallback model %s", cfg.OpenAI.FallbackModel)
	}
	if cfg.Kie.PollInterval != 3*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Kie.PollInterval)
	}
	if cfg.Pipeline.SceneCount != 3 {
		t.Fatalf("unexpected scene count %d", cfg.Pipeline.SceneCount)
	}
	if cfg.PubSub.ProjectID != "printloom-test" {
		t.Fatalf("expected pubsub project to fall back to firestore project, got %s", cfg.PubSub.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", fields)
	}
}

func TestLoadSecretResolution(t *testing.T) {
	env := baseEnv()
	env["OPENAI_API_KEY"] = "sm://projects/p/secrets/openai/versions/latest"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "sm://projects/p/secrets/openai/versions/latest" {
			t.Fatalf("unexpected ref %s", ref)
		}
		return "sk-resolved", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-resolved" {
		t.Fatalf("expected resolved key, got %s", cfg.OpenAI.APIKey)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["KIE_API_KEY"] = "sm://projects/p/secrets/kie/versions/1"

	if _, err := Load(context.Background(), WithEnvMap(env), WithEnvFile("")); err == nil {
		t.Fatal("expected error when secret reference has no resolver")
	}
}

func TestLoadPlainCredentialPassesThrough(t *testing.T) {
	env := baseEnv()
	env["SHOPIFY_GLOBAL_ACCESS_TOKEN"] = "shpat_abc123"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Shopify.GlobalAccessToken != "shpat_abc123" {
		t.Fatalf("unexpected token %s", cfg.Shopify.GlobalAccessToken)
	}
}

func TestDurationOrRejectsInvalid(t *testing.T) {
	env := baseEnv()
	env["KIE_POLL_INTERVAL"] = "not-a-duration"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Kie.PollInterval != 3*time.Second {
		t.Fatalf("expected fallback interval, got %s", cfg.Kie.PollInterval)
	}
}
