package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
	"github.com/xenking/comanda/internal/handler"
	"github.com/xenking/comanda/internal/storage/postgres"
)

type catalogJSON struct {
	Branches []branchJSON  `json:"branches"`
	Products []productJSON `json:"products"`
	APIKeys  []apiKeyJSON  `json:"api_keys"`
}

type branchJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Schedule []struct {
		Day    string `json:"day"`
		Opens  string `json:"opens"`
		Closes string `json:"closes"`
	} `json:"schedule"`
}

type productJSON struct {
	ID          string              `json:"id"`
	BranchID    string              `json:"branch_id"`
	Name        string              `json:"name"`
	Price       decimal.Decimal     `json:"price"`
	PromoPrice  decimal.NullDecimal `json:"promo_price"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
}

type apiKeyJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	UserID   string    `json:"user_id"`
	Role     auth.Role `json:"role"`
	BranchID string    `json:"branch_id"`
}

const (
	upsertBranchSQL = `INSERT INTO branches (id, name, address, phone) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, phone = EXCLUDED.phone`

	deleteScheduleSQL = `DELETE FROM branch_schedules WHERE branch_id = $1`

	insertScheduleSQL = `INSERT INTO branch_schedules (branch_id, weekday, opens_at, closes_at) VALUES ($1, $2, $3, $4)`

	upsertProductSQL = `INSERT INTO products (id, branch_id, name, price, promo_price, description, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET branch_id = EXCLUDED.branch_id, name = EXCLUDED.name,
			price = EXCLUDED.price, promo_price = EXCLUDED.promo_price,
			description = EXCLUDED.description, image = EXCLUDED.image`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, user_id, role, branch_id, active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			user_id = EXCLUDED.user_id, role = EXCLUDED.role, branch_id = EXCLUDED.branch_id, active = TRUE`
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COMANDA_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COMANDA_API_KEY_PEPPER")
	}
	if apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or COMANDA_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, pepper []byte) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := seedBranches(ctx, tx, catalog.Branches); err != nil {
			return errors.Wrap(err, "seed branches")
		}
		if err := seedProducts(ctx, tx, catalog.Products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		if err := seedAPIKeys(ctx, tx, catalog.APIKeys, pepper); err != nil {
			return errors.Wrap(err, "seed api keys")
		}
		return nil
	})
}

func seedBranches(ctx context.Context, tx pgx.Tx, branches []branchJSON) error {
	slog.Info("upserting branches", slog.Int("count", len(branches)))

	for _, b := range branches {
		if _, err := tx.Exec(ctx, upsertBranchSQL, b.ID, b.Name, b.Address, b.Phone); err != nil {
			return errors.Wrapf(err, "upsert branch %s", b.ID)
		}
		if _, err := tx.Exec(ctx, deleteScheduleSQL, b.ID); err != nil {
			return errors.Wrapf(err, "reset schedule of %s", b.ID)
		}
		for _, s := range b.Schedule {
			day, err := parseWeekday(s.Day)
			if err != nil {
				return errors.Wrapf(err, "branch %s", b.ID)
			}
			opens, err := branch.ParseClock(s.Opens)
			if err != nil {
				return errors.Wrapf(err, "branch %s", b.ID)
			}
			closes, err := branch.ParseClock(s.Closes)
			if err != nil {
				return errors.Wrapf(err, "branch %s", b.ID)
			}
			if _, err := tx.Exec(ctx, insertScheduleSQL, b.ID, int16(day), int16(opens), int16(closes)); err != nil {
				return errors.Wrapf(err, "insert schedule of %s", b.ID)
			}
		}

		slog.Info("upserted branch", slog.String("id", b.ID), slog.Int("windows", len(b.Schedule)))
	}

	return nil
}

func seedProducts(ctx context.Context, tx pgx.Tx, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.BranchID, p.Name, p.Price, p.PromoPrice, p.Description, p.Image,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("branch", p.BranchID))
	}

	return nil
}

func seedAPIKeys(ctx context.Context, tx pgx.Tx, keys []apiKeyJSON, pepper []byte) error {
	slog.Info("upserting API keys", slog.Int("count", len(keys)))

	for _, k := range keys {
		if !k.Role.Valid() {
			return errors.Errorf("api key %s: unknown role %q", k.ID, k.Role)
		}
		if _, err := tx.Exec(ctx, upsertAPIKeySQL,
			k.ID, handler.HashAPIKey(pepper, k.Key), k.Name, k.UserID, string(k.Role), k.BranchID,
		); err != nil {
			return errors.Wrapf(err, "upsert api key %s", k.ID)
		}

		slog.Info("upserted API key", slog.String("id", k.ID), slog.String("role", string(k.Role)))
	}

	return nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, errors.Errorf("unknown weekday %q", s)
}
