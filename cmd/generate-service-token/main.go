package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"locker-backend/internal/config"
	"locker-backend/internal/middleware"
)

func main() {
	var (
		configPath string
		service    string
		role       string
		ttl        time.Duration
	)

	flagSet := pflag.NewFlagSet("generate-service-token", pflag.ExitOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (secret and issuer are read from auth)")
	flagSet.StringVar(&service, "service", "indexer", "service name carried in the token")
	flagSet.StringVar(&role, "role", middleware.RoleService, "token role: service or operator")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = flagSet.Parse(os.Args[1:])

	if role != middleware.RoleService && role != middleware.RoleOperator {
		fmt.Fprintf(os.Stderr, "Error: unknown role %q\n", role)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	tokenString, err := middleware.GenerateServiceToken(cfg.Auth.ServiceJWTSecret, cfg.Auth.Issuer, service, role, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Service Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Println("Claims:")
	fmt.Printf("  Service: %s\n", service)
	fmt.Printf("  Role: %s\n", role)
	fmt.Printf("  Issuer: %s\n", cfg.Auth.Issuer)
	fmt.Printf("  Expires: %s\n", time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:%d/api/transfers/<id>\n", tokenString, cfg.Server.Port)
	fmt.Println()
}
