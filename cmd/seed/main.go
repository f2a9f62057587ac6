// Package main provides a utility to seed test data for development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/aldari-app/sso-gateway/internal/auth"
	"github.com/aldari-app/sso-gateway/internal/domain"
	"github.com/aldari-app/sso-gateway/internal/store/file"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	flag.Parse()

	store, err := file.NewStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	password := "password123"
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	seedUsers := []struct {
		email string
		name  string
	}{
		{"buyer@example.com", "Test Buyer"},
		{"agent@example.com", "Test Agent"},
	}

	for _, su := range seedUsers {
		now := time.Now()
		user := &domain.User{
			ID:           uuid.New().String(),
			Email:        su.email,
			PasswordHash: hash,
			DisplayName:  su.name,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := store.Users().Create(ctx, user); err != nil {
			fmt.Printf("User may already exist: %v\n", err)
		} else {
			fmt.Printf("Created user: %s (password: %s)\n", user.Email, password)
		}
	}

	fmt.Println("\nSeed data created successfully!")
	fmt.Println("\nTest with:")
	fmt.Println("  1. Start server: SSO_ENVIRONMENT=development go run ./cmd/sso")
	fmt.Println("  2. Fetch a CSRF token: curl -H 'Origin: https://auth.aldari.app' http://localhost:8080/auth/csrf")
	fmt.Println("  3. Sign in with: buyer@example.com / password123")

	os.Exit(0)
}
