package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"chart-trade-analyzer/config"
	"chart-trade-analyzer/internal/auth"
)

// issue_token mints bearer tokens for the API. Account management lives
// outside this service, so operators hand these out directly.
func main() {
	userID := flag.String("user", "", "user id (a new UUID when empty)")
	email := flag.String("email", "", "optional email claim")
	admin := flag.Bool("admin", false, "grant admin access")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to auth.access_token_duration)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	authCfg := cfg.AuthConfig
	if *ttl > 0 {
		authCfg.AccessTokenDuration = *ttl
	}

	manager, err := auth.NewJWTManager(authCfg)
	if err != nil {
		fmt.Printf("Failed to create token manager: %v\n", err)
		fmt.Println("Set AUTH_JWT_SECRET or auth.jwt_secret in the config file")
		os.Exit(1)
	}

	if *userID == "" {
		*userID = uuid.New().String()
	}

	token, err := manager.GenerateAccessToken(auth.UserClaims{
		UserID:  *userID,
		Email:   *email,
		IsAdmin: *admin,
	})
	if err != nil {
		fmt.Printf("Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	expires := time.Now().Add(time.Duration(manager.GetAccessTokenDuration()) * time.Second)

	fmt.Println("========================================")
	fmt.Printf("  User:    %s\n", *userID)
	if *email != "" {
		fmt.Printf("  Email:   %s\n", *email)
	}
	fmt.Printf("  Admin:   %v\n", *admin)
	fmt.Printf("  Expires: %s\n", expires.Format("2006-01-02 15:04:05"))
	fmt.Println("========================================")
	fmt.Println(token)
}
