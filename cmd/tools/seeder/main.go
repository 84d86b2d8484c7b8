package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-tzsmmpay/internal/auth"
	"github.com/noah-isme/toko-tzsmmpay/internal/migrations"
	"github.com/noah-isme/toko-tzsmmpay/internal/obs"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
)

func main() {
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	issueToken := flag.String("admin-token", "", "print an admin token for the given subject")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if *migrate {
		if err := migrations.Up(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	store := order.PostgresStore{DB: pool}
	for _, o := range demoOrders() {
		if err := store.Save(ctx, o); err != nil {
			logger.Fatal().Err(err).Str("order_ref", o.Ref).Msg("seed order")
		}
		logger.Info().Str("order_ref", o.Ref).Str("total", o.Total.StringFixed(2)).Str("currency", o.Currency).Msg("order seeded")
	}

	if subject := strings.TrimSpace(*issueToken); subject != "" {
		tokens, err := auth.NewAdminTokens(os.Getenv("ADMIN_JWT_SECRET"), os.Getenv("ADMIN_JWT_ISSUER"), os.Getenv("ADMIN_JWT_AUDIENCE"), 24*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise admin tokens")
		}
		token, expiresAt, err := tokens.Issue(subject)
		if err != nil {
			logger.Fatal().Err(err).Msg("issue admin token")
		}
		fmt.Println(token)
		logger.Info().Time("expires_at", expiresAt).Msg("admin token issued")
	}

	logger.Info().Msg("seeding completed")
}

func demoOrders() []order.Order {
	return []order.Order{
		{Ref: "1042", Status: order.StatusPending, Total: decimal.RequireFromString("25.00"), Currency: "USD", CustomerName: "Budi Santoso", CustomerEmail: "budi@example.com"},
		{Ref: "1043", Status: order.StatusPending, Total: decimal.RequireFromString("149000"), Currency: "IDR", CustomerName: "Siti Aminah", CustomerEmail: "siti@example.com"},
		{Ref: "1044", Status: order.StatusFailed, Total: decimal.RequireFromString("12.50"), Currency: "USD", CustomerName: "Andi Pratama", CustomerEmail: "andi@example.com"},
		{Ref: "1045", Status: order.StatusPaid, Total: decimal.RequireFromString("7.99"), Currency: "USD", CustomerName: "Dewi Lestari", CustomerEmail: "dewi@example.com", TransactionID: "TRX-DEMO-1045"},
	}
}
