package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/omnidesk/console-server/internal/config"
	"github.com/omnidesk/console-server/internal/database"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/repository"
	"github.com/omnidesk/console-server/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/create-tenant.go <name> [rate-limit-per-minute]\n")
		os.Exit(1)
	}

	limit := config.DefaultRateLimitPerMin
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid rate limit %q\n", os.Args[2])
			os.Exit(1)
		}
		limit = n
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tenant, err := repository.NewTenantRepository(db.DB).Create(context.Background(), model.CreateTenantParams{
		Name:            os.Args[1],
		APITokenHash:    util.HashToken(token),
		RateLimitPerMin: limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("tenant: %s\n", tenant.ID)
	fmt.Printf("token:  %s\n", token)
}
