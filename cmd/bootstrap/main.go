// Package main 初始化数据库结构并签发本地调试令牌
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/wire"
	"articleforge-api/pkg/utils"
)

func main() {
	grant := flag.Int("grant", 0, "credits to add to the bootstrap user as a manual adjustment")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化持久化层
	storage, cleanup, err := wire.InitializeStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer cleanup()

	// 3. 迁移表结构
	if storage.Postgres != nil {
		fmt.Println("Running migrations...")
		if err := storage.Postgres.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	} else {
		fmt.Println("Memory driver configured, skipping migrations.")
	}

	// 4. 创建调试用户资料并签发令牌
	userID := os.Getenv("BOOTSTRAP_USER_ID")
	if userID == "" {
		userID = "local-admin"
	}
	email := os.Getenv("BOOTSTRAP_USER_EMAIL")
	if email == "" {
		email = "admin@articleforge.local"
	}

	ledger := wire.ProvideLedger(storage, cfg)
	if err := ledger.EnsureAccount(ctx, userID, email); err != nil {
		log.Fatalf("failed to create profile: %v", err)
	}
	balance, err := ledger.Balance(ctx, userID)
	if err != nil {
		log.Fatalf("failed to read balance: %v", err)
	}
	if *grant > 0 {
		balance, err = ledger.Grant(ctx, userID, *grant, entity.TransactionTypeAdjustment, "bootstrap grant")
		if err != nil {
			log.Fatalf("failed to grant credits: %v", err)
		}
		fmt.Printf("Granted %d credits.\n", *grant)
	}
	fmt.Printf("Profile %s ready with %d credits.\n", userID, balance)

	if cfg.Security.JWT.Secret != "" {
		token, err := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, cfg.Security.JWT.Audience).
			GenerateToken(userID, email, "admin", 30*24*time.Hour)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		fmt.Printf("Token (30 days):\n%s\n", token)
	}

	fmt.Println("Bootstrap completed successfully.")
}
