//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"

	"etf_dashboard/config"
	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/create_admin.go <email> [password]")
		fmt.Println("Creates the account when it does not exist, then grants the admin role.")
		os.Exit(1)
	}
	email := os.Args[1]
	password := ""
	if len(os.Args) > 2 {
		password = os.Args[2]
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, "console", os.Stderr)

	db, err := config.InitDB()
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	if err := models.MigrateAll(db); err != nil {
		fmt.Printf("Error running migrations: %v\n", err)
		os.Exit(1)
	}

	svc := auth.NewService(db, cfg.JWTSecret, cfg.JWTTTL)
	user, created, err := svc.EnsureAdmin(context.Background(), email, password)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if created {
		fmt.Printf("Created admin account %s (id %d)\n", user.Email, user.ID)
	} else {
		fmt.Printf("Granted admin role to %s (id %d)\n", user.Email, user.ID)
	}
}
