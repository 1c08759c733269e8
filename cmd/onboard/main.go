// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// SATVOS — Tenant Onboarding Command
//
// Standalone CLI tool that manages tenant records in the directory used by
// the ingestion service. Creating a tenant prints the inbound address to
// hand to the customer.
//
// Usage:
//
//	go run ./cmd/onboard/ --action create --tenant acme --email svc@acme.com --password s3cret [--api-base-url https://api.acme.example]
//	go run ./cmd/onboard/ --action show --tenant acme
//	go run ./cmd/onboard/ --action enable|disable --tenant acme
//	go run ./cmd/onboard/ --action delete --tenant acme
//	go run ./cmd/onboard/ --action list
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satvos/ingestion/internal/config"
	"github.com/satvos/ingestion/internal/tenant"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	actionFlag := flag.String("action", "", "One of: create, show, enable, disable, delete, list (required)")
	tenantFlag := flag.String("tenant", "", "Tenant slug (required except for list)")
	emailFlag := flag.String("email", "", "Service account email (create)")
	passwordFlag := flag.String("password", "", "Service account password (create)")
	baseURLFlag := flag.String("api-base-url", "", "Tenant-specific API base URL (create, optional)")
	flag.Parse()

	if *actionFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --action is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *actionFlag != "list" && *tenantFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --tenant is required for action %q\n\n", *actionFlag)
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadCLI()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := tenant.NewStore(ctx, pool)
	if err != nil {
		slog.Error("failed to initialise tenant store", "error", err)
		os.Exit(1)
	}

	switch *actionFlag {
	case "create":
		if *emailFlag == "" || *passwordFlag == "" {
			fmt.Fprintf(os.Stderr, "Error: --email and --password are required for create\n")
			os.Exit(1)
		}
		if err := store.Upsert(ctx, tenant.Config{
			TenantSlug:      *tenantFlag,
			ServiceEmail:    *emailFlag,
			ServicePassword: *passwordFlag,
			Enabled:         true,
			APIBaseURL:      *baseURLFlag,
		}); err != nil {
			slog.Error("failed to create tenant", "tenant", *tenantFlag, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Tenant %q onboarded.\n", *tenantFlag)
		fmt.Printf("Inbound address: invoices@%s.satvos.com\n", *tenantFlag)
		fmt.Printf("Remember to add the MX record for %s.satvos.com pointing at SES.\n", *tenantFlag)

	case "show":
		c, err := store.Get(ctx, *tenantFlag)
		if err != nil {
			slog.Error("failed to fetch tenant", "tenant", *tenantFlag, "error", err)
			os.Exit(1)
		}
		if c == nil {
			fmt.Printf("Tenant %q not found.\n", *tenantFlag)
			os.Exit(1)
		}
		fmt.Printf("tenant_slug:   %s\n", c.TenantSlug)
		fmt.Printf("service_email: %s\n", c.ServiceEmail)
		fmt.Printf("enabled:       %t\n", c.Enabled)
		fmt.Printf("api_base_url:  %s\n", orDefaultLabel(c.APIBaseURL))

	case "enable", "disable":
		enabled := *actionFlag == "enable"
		found, err := store.SetEnabled(ctx, *tenantFlag, enabled)
		if err != nil {
			slog.Error("failed to update tenant", "tenant", *tenantFlag, "error", err)
			os.Exit(1)
		}
		if !found {
			fmt.Printf("Tenant %q not found.\n", *tenantFlag)
			os.Exit(1)
		}
		fmt.Printf("Tenant %q %sd.\n", *tenantFlag, *actionFlag)

	case "delete":
		if err := store.Delete(ctx, *tenantFlag); err != nil {
			slog.Error("failed to delete tenant", "tenant", *tenantFlag, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Tenant %q deleted.\n", *tenantFlag)

	case "list":
		records, err := store.List(ctx)
		if err != nil {
			slog.Error("failed to list tenants", "error", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("No tenants onboarded.")
			return
		}
		for _, r := range records {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-20s %-10s %s\n", r.TenantSlug, state, r.ServiceEmail)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %q\n\n", *actionFlag)
		flag.Usage()
		os.Exit(1)
	}
}

func orDefaultLabel(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}
