// credtool stores, lists and removes provider credentials from the command
// line. It writes through the same vault the API uses, so operators can seed
// local provider endpoints (comfyui, renderd) without minting a JWT first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storyreel/internal/adapter/repo"
	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
	"storyreel/internal/vault"
)

func main() {
	var (
		userFlag     string
		providerFlag string
		secretFlag   string
		configFlag   string
		removeFlag   bool
		listFlag     bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID the credential belongs to (UUID)")
	flag.StringVar(&providerFlag, "provider", "", "provider id from the catalog")
	flag.StringVar(&secretFlag, "secret", "", "API key, or endpoint URL for local providers (falls back to CRED_SECRET)")
	flag.StringVar(&configFlag, "config", "", "extra settings as comma-separated key=value pairs")
	flag.BoolVar(&removeFlag, "remove", false, "remove the credential instead of saving")
	flag.BoolVar(&listFlag, "list", false, "list configured providers for the user")
	flag.Parse()

	if userFlag == "" {
		fatal("user id is required")
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fatal("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fatal("connect database: %v", err)
	}
	defer pool.Close()

	registry := providers.DefaultCatalog()
	v, err := vault.New(vault.Options{
		Repo:      repo.NewCredentialRepository(pool),
		Providers: registry,
		Key:       vault.DeriveKey(cfg.VaultMasterSecret, cfg.VaultKeySalt),
	})
	if err != nil {
		fatal("vault: %v", err)
	}

	switch {
	case listFlag:
		ids, err := v.ListProviders(ctx, userFlag)
		if err != nil {
			fatal("list: %v", err)
		}
		if len(ids) == 0 {
			fmt.Println("no credentials configured")
			return
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	case removeFlag:
		requireProvider(registry, providerFlag)
		if err := v.Remove(ctx, userFlag, providerFlag); err != nil {
			fatal("remove: %v", err)
		}
		fmt.Printf("removed %s credential for user %s\n", providerFlag, userFlag)
	default:
		requireProvider(registry, providerFlag)
		secret := secretFlag
		if secret == "" {
			secret = os.Getenv("CRED_SECRET")
		}
		if secret == "" {
			fatal("secret is required (flag -secret or CRED_SECRET)")
		}
		err := v.Save(ctx, userFlag, providerFlag, vault.SaveRequest{
			Mode:   domain.AuthModeAPIKey,
			Secret: secret,
			Config: parseConfig(configFlag),
		})
		if err != nil {
			fatal("save: %v", err)
		}
		fmt.Printf("stored %s credential for user %s\n", providerFlag, userFlag)
	}
}

func requireProvider(registry *providers.Registry, id string) {
	if id == "" {
		fatal("provider is required")
	}
	if _, ok := registry.Get(id); !ok {
		fatal("unknown provider %q (known: %s)", id, strings.Join(registry.IDs(), ", "))
	}
}

func parseConfig(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			fatal("malformed config entry %q, want key=value", pair)
		}
		out[k] = val
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
