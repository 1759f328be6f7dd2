package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"agencyflow/backend/internal/config"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/logging"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

var (
	configFile string
	domain     string
	credits    int64
)

func main() {
	root := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with a dev tenant, demo workflows, and starting credits",
		RunE:  runSeed,
	}
	root.Flags().StringVar(&configFile, "config", "", "Path to config file")
	root.Flags().StringVar(&domain, "domain", "localhost", "Email domain of the tenant to seed")
	root.Flags().Int64Var(&credits, "credits", 1000, "Opening credit balance for the tenant")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	credLedger := ledger.NewPostgresLedger(pool)
	if err := credLedger.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	// 1. Ensure Tenant Exists
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating tenant", "domain", domain)
		tenant = &models.Tenant{
			Name:   domain,
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 2. Opening credit balance
	if credits > 0 {
		balance, err := credLedger.Balance(ctx, tenant.ID)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if balance == 0 {
			if _, err := credLedger.Deposit(ctx, tenant.ID, credits, models.TransactionPurchase, "seed opening balance"); err != nil {
				return fmt.Errorf("failed to deposit opening credits: %w", err)
			}
			logger.Info("Deposited opening credits", "amount", credits)
		} else {
			logger.Info("Tenant already has credits, skipping deposit", "balance", balance)
		}
	}

	// 3. Integration configs (credentials intentionally blank, fill in
	// via the API before running real workloads)
	for _, ic := range []models.IntegrationConfig{
		{TenantID: tenant.ID, Provider: models.IntegrationDataForSEO, Name: "DataForSEO", Active: true},
		{TenantID: tenant.ID, Provider: models.IntegrationOpenAI, Name: "OpenAI", Active: true},
		{TenantID: tenant.ID, Provider: models.IntegrationHTTP, Name: "Generic HTTP", Active: true},
	} {
		cfgCopy := ic
		if err := store.UpsertIntegrationConfig(ctx, &cfgCopy); err != nil {
			log.Printf("Failed to upsert integration config %s: %v", ic.Provider, err)
		} else {
			logger.Info("Seeded integration config", "provider", ic.Provider)
		}
	}

	// 4. Demo Workflows
	existing, err := store.ListWorkflows(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to list existing workflows: %w", err)
	}
	existingMap := make(map[string]bool)
	for _, w := range existing {
		existingMap[w.Name] = true
	}

	for _, wf := range demoWorkflows(tenant.ID) {
		if existingMap[wf.Name] {
			logger.Info("Skipping existing workflow", "name", wf.Name)
			continue
		}
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			log.Printf("Failed to create workflow %s: %v", wf.Name, err)
		} else {
			logger.Info("Seeded workflow", "name", wf.Name, "id", wf.WorkflowID)
		}
	}

	logger.Info("Seeding complete!")
	return nil
}

func demoWorkflows(tenantID string) []*models.Workflow {
	return []*models.Workflow{
		{
			TenantID:    tenantID,
			WorkflowID:  uuid.New().String(),
			Name:        "SEO Audit",
			Description: "Pulls live SERP results for a keyword and summarizes the competitive landscape.",
			Status:      "active",
			CreatedBy:   "seed-script",
			Steps: []models.WorkflowStep{
				{
					ID:          "serp",
					Name:        "Fetch SERP results",
					Integration: models.IntegrationDataForSEO,
					Params: map[string]interface{}{
						"keyword": "{{input.keyword}}",
					},
				},
				{
					ID:          "summary",
					Name:        "Summarize landscape",
					Integration: models.IntegrationOpenAI,
					Params: map[string]interface{}{
						"system_prompt": "You are an SEO analyst. Summarize the competitive landscape.",
						"user_prompt":   "Summarize the top organic results for the audited keyword.",
					},
				},
			},
		},
		{
			TenantID:    tenantID,
			WorkflowID:  uuid.New().String(),
			Name:        "Content Brief",
			Description: "Drafts a content brief, optionally notifying a webhook when one is configured.",
			Status:      "active",
			CreatedBy:   "seed-script",
			Steps: []models.WorkflowStep{
				{
					ID:          "brief",
					Name:        "Draft brief",
					Integration: models.IntegrationOpenAI,
					Params: map[string]interface{}{
						"user_prompt":   "Write a content brief for the requested topic.",
						"json_response": true,
					},
				},
				{
					ID:          "notify",
					Name:        "Notify webhook",
					Integration: models.IntegrationHTTP,
					Condition:   `has(input.webhook_url) && input.webhook_url != ""`,
					Params: map[string]interface{}{
						"method": "POST",
						"url":    "{{input.webhook_url}}",
					},
				},
			},
		},
	}
}
