// Package main seeds the first admin operator and, when SEED_DEMO is set, a
// demo merchant with provider accounts, a pool and starter rules for local
// development.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"cascade/internal/config"
	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/services/auth"
	"cascade/internal/services/rules"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func main() {
	config.LoadEnv()

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		log.Fatal("ADMIN_EMAIL and ADMIN_PASSWORD must be set in environment")
	}

	if err := repositories.InitDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer closeConnections()

	if os.Getenv("RESET_DB") != "" {
		log.Println("RESET_DB set, dropping and recreating all tables")
		if err := repositories.ResetDatabase(); err != nil {
			log.Fatal("Failed to reset database:", err)
		}
	}

	db := repositories.DB
	operatorRepo := repositories.NewOperatorRepository(db)
	keyRepo := repositories.NewServiceKeyRepository(db)
	authService := auth.NewService(operatorRepo, keyRepo, zerolog.Nop())

	op, err := authService.CreateOperator(adminEmail, "Administrator", adminPassword, models.RoleAdmin)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		log.Println("Admin operator already exists")
	case err != nil:
		log.Fatal("Failed to create admin operator:", err)
	default:
		log.Printf("Admin operator created: %s (id %d)", op.Email, op.ID)
	}

	if os.Getenv("SEED_DEMO") != "" {
		seedDemo(db, authService)
	}
}

// seedDemo builds one working routing setup: a merchant, three provider
// accounts, a weighted pool over them, starter rules and a service key. The
// key plaintext is printed once and cannot be recovered later.
func seedDemo(db *gorm.DB, authService auth.Service) {
	merchantRepo := repositories.NewMerchantRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	poolRepo := repositories.NewPoolRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)

	const demoName = "Demo Merchant"
	existing, _, err := merchantRepo.List(50, 0)
	if err != nil {
		log.Fatal("Failed to list merchants:", err)
	}
	for _, m := range existing {
		if m.Name == demoName {
			log.Println("Demo merchant already exists, skipping demo seed")
			return
		}
	}

	merchant := &models.Merchant{Name: demoName, Status: models.MerchantStatusActive}
	if err := merchantRepo.Create(merchant); err != nil {
		log.Fatal("Failed to create demo merchant:", err)
	}

	accounts := []*models.MerchantAccount{
		{
			MerchantID:    merchant.ID,
			Provider:      "stripe",
			Label:         "Stripe US",
			CredentialRef: "vault://demo/stripe",
			Status:        models.AccountStatusActive,
			FeePercent:    2.9,
			FeeFixed:      0.30,
		},
		{
			MerchantID:       merchant.ID,
			Provider:         "adyen",
			Label:            "Adyen EU",
			CredentialRef:    "vault://demo/adyen",
			Status:           models.AccountStatusActive,
			FeePercent:       2.6,
			FeeFixed:         0.25,
			DailyTxnLimit:    10000,
			DailyVolumeLimit: 250000,
		},
		{
			MerchantID:    merchant.ID,
			Provider:      "checkout",
			Label:         "Checkout fallback",
			CredentialRef: "vault://demo/checkout",
			Status:        models.AccountStatusActive,
			FeePercent:    2.4,
			FeeFixed:      0.20,
		},
	}
	for _, a := range accounts {
		if err := accountRepo.Create(a); err != nil {
			log.Fatal("Failed to create demo account:", err)
		}
	}

	pool := &models.AccountPool{
		MerchantID:       merchant.ID,
		Name:             "primary",
		Strategy:         models.StrategyWeighted,
		Status:           models.PoolStatusActive,
		FailoverEnabled:  true,
		MaxAttempts:      3,
		ExclusionSeconds: 300,
	}
	if err := poolRepo.Create(pool); err != nil {
		log.Fatal("Failed to create demo pool:", err)
	}
	weights := []int{5, 3, 2}
	for i, a := range accounts {
		member := &models.PoolMembership{
			PoolID:    pool.ID,
			AccountID: a.ID,
			Weight:    weights[i],
			Priority:  i,
			Enabled:   true,
		}
		if err := poolRepo.AddMember(member); err != nil {
			log.Fatal("Failed to add pool member:", err)
		}
	}

	merchant.DefaultPoolID = &pool.ID
	if err := merchantRepo.Update(merchant); err != nil {
		log.Fatal("Failed to set default pool:", err)
	}

	// Starter rules go through the rule engine so they are validated and
	// versioned like operator-created ones.
	ruleEngine := rules.NewService(ruleRepo, poolRepo, accountRepo, nil, rules.Config{}, zerolog.Nop(), nil)
	ctx := context.Background()

	highValueFloor := 1000.0
	starter := []*models.RoutingRule{
		{
			MerchantID:  merchant.ID,
			Name:        "Block sanctioned countries",
			Description: "Hard block before any account is considered",
			Priority:    10,
			Active:      true,
			Conditions:  models.ConditionTree{Kind: models.CondCountry, Values: []string{"KP", "IR", "CU"}},
			Actions:     models.ActionList{{Type: models.ActionBlock, Reason: "sanctioned country"}},
		},
		{
			MerchantID:  merchant.ID,
			Name:        "High value to healthiest account",
			Description: "Large charges prefer success rate over cost",
			Priority:    20,
			Active:      true,
			Conditions:  models.ConditionTree{Kind: models.CondAmount, Min: &highValueFloor},
			Actions:     models.ActionList{{Type: models.ActionRouteToPool, PoolID: pool.ID, Strategy: models.StrategyHighestSuccess}},
		},
	}
	for _, r := range starter {
		if err := ruleEngine.Create(ctx, r); err != nil {
			log.Fatal("Failed to create starter rule:", err)
		}
	}

	key, _, err := authService.CreateServiceKey(merchant.ID, "demo")
	if err != nil {
		log.Fatal("Failed to create demo service key:", err)
	}

	log.Printf("Demo merchant created (id %d, pool %d)", merchant.ID, pool.ID)
	log.Printf("Demo service key (shown once, store it now): %s", key)
}

func closeConnections() {
	if repositories.DB != nil {
		if sqlDB, err := repositories.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Printf("Failed to close postgres connection: %v", err)
			}
		}
	}
	if repositories.RedisClient != nil {
		if err := repositories.RedisClient.Close(); err != nil {
			log.Printf("Failed to close redis connection: %v", err)
		}
	}
}
