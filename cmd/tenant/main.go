// Command tenant is the operator tool for managing business tenants:
// registering businesses, listing them, and minting JWTs for testing.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arash/imagina/internal/config"
	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "imagina-tenant",
	})
	logger.SetDefaultLogger(appLogger)

	action := flag.String("action", "list", "Action: create, list, or token")
	name := flag.String("name", "", "Business name (create)")
	domainName := flag.String("domain", "", "Business hostname (create, token)")
	owner := flag.String("owner", "", "Owner user id (create)")
	description := flag.String("description", "", "Business description (create)")
	user := flag.String("user", "", "User id to mint a token for (token)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime (token)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	if err := repository.Migrate(db); err != nil {
		appLogger.WithError(err).Fatal("Failed to run migrations")
	}

	businesses := repository.NewBusinessRepository(db)
	ctx := context.Background()

	switch *action {
	case "create":
		if *name == "" || *domainName == "" || *owner == "" {
			fmt.Fprintln(os.Stderr, "create requires -name, -domain, and -owner")
			os.Exit(1)
		}
		business := &domain.Business{
			ID:          uuid.New().String(),
			Name:        *name,
			Domain:      *domainName,
			OwnerUserID: *owner,
			JWTSecret:   newSecret(),
			Description: *description,
		}
		if err := businesses.Create(ctx, business); err != nil {
			appLogger.WithError(err).Fatal("Failed to create business")
		}
		fmt.Printf("created business %s\n", business.ID)
		fmt.Printf("  domain:     %s\n", business.Domain)
		fmt.Printf("  jwt secret: %s\n", business.JWTSecret)

	case "list":
		all, err := businesses.List(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list businesses")
		}
		for _, b := range all {
			fmt.Printf("%s  %s  %s  owner=%s\n", b.ID, b.Name, b.Domain, b.OwnerUserID)
		}

	case "token":
		if *domainName == "" || *user == "" {
			fmt.Fprintln(os.Stderr, "token requires -domain and -user")
			os.Exit(1)
		}
		business, err := businesses.GetByDomain(ctx, *domainName)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load business")
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": *user,
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(*ttl).Unix(),
		})
		signed, err := token.SignedString([]byte(business.JWTSecret))
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to sign token")
		}
		fmt.Println(signed)

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", *action)
		os.Exit(1)
	}
}

func newSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
