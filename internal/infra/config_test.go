package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("VAULT_MASTER_SECRET", "test-master-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("QUEUE_LANE_WIDTH", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.LaneWidth != 1 || cfg.MaxAttempts != 3 {
		t.Fatalf("queue policy defaults: lane=%d attempts=%d", cfg.LaneWidth, cfg.MaxAttempts)
	}
	if cfg.StorageBackend != "fs" {
		t.Fatalf("StorageBackend = %q, want fs", cfg.StorageBackend)
	}
	if cfg.WorkflowBudget != 120*time.Second {
		t.Fatalf("WorkflowBudget = %v", cfg.WorkflowBudget)
	}
}

func TestLoadConfigRequiresVaultSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("VAULT_MASTER_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without VAULT_MASTER_SECRET")
	}
}

func TestLoadConfigRequiresBucketForS3(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without S3_BUCKET")
	}

	t.Setenv("S3_BUCKET", "storyreel-assets")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.S3Bucket != "storyreel-assets" {
		t.Fatalf("S3Bucket = %q", cfg.S3Bucket)
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_LANE_WIDTH", "4")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("WORKFLOW_BUDGET_SECONDS", "300")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LaneWidth != 4 || cfg.MaxAttempts != 5 {
		t.Fatalf("queue policy overrides: lane=%d attempts=%d", cfg.LaneWidth, cfg.MaxAttempts)
	}
	if cfg.WorkflowBudget != 300*time.Second {
		t.Fatalf("WorkflowBudget = %v", cfg.WorkflowBudget)
	}
}
