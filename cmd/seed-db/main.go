// Command seed-db migrates the database and upserts the demo catalog,
// coupons, users, sessions and addresses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/db"
	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/product"
	"github.com/xenking/optic-orders/internal/storage/postgres"
)

type catalogFile struct {
	Users     []userJSON    `json:"users"`
	Addresses []addressJSON `json:"addresses"`
	Products  []productJSON `json:"products"`
	Coupons   []couponJSON  `json:"coupons"`
}

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type addressJSON struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Inactive bool            `json:"inactive"`
	Variants []struct {
		ID    string           `json:"id"`
		Name  string           `json:"name"`
		Price *decimal.Decimal `json:"price"`
		Stock int              `json:"stock"`
	} `json:"variants"`
}

type couponJSON struct {
	Code        string           `json:"code"`
	Kind        string           `json:"kind"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase *decimal.Decimal `json:"minPurchase"`
	MaxDiscount *decimal.Decimal `json:"maxDiscount"`
	UsageLimit  *int             `json:"usageLimit"`
	ValidDays   int              `json:"validDays"`
}

type options struct {
	databaseURL   string
	catalogFile   string
	pepper        string
	customerToken string
	adminToken    string
	sessionTTL    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "", "path to catalog JSON file (defaults to the embedded demo catalog)")
	flag.StringVar(&opts.pepper, "session-pepper", "", "HMAC pepper for session tokens (or OPTIC_SESSION_PEPPER env)")
	flag.StringVar(&opts.customerToken, "customer-token", "", "session token for customer users (or OPTIC_SEED_CUSTOMER_TOKEN env)")
	flag.StringVar(&opts.adminToken, "admin-token", "", "session token for admin users (or OPTIC_SEED_ADMIN_TOKEN env)")
	flag.DurationVar(&opts.sessionTTL, "session-ttl", 30*24*time.Hour, "lifetime of seeded sessions")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.fromEnv()
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func (o *options) fromEnv() {
	env := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	env(&o.databaseURL, "OPTIC_DATABASE_URL")
	env(&o.databaseURL, "DATABASE_URL")
	env(&o.pepper, "OPTIC_SESSION_PEPPER")
	env(&o.customerToken, "OPTIC_SEED_CUSTOMER_TOKEN")
	env(&o.adminToken, "OPTIC_SEED_ADMIN_TOKEN")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data := db.Catalog
	if opts.catalogFile != "" {
		var err error
		if data, err = os.ReadFile(opts.catalogFile); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.Options{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	w := postgres.NewCatalogWriter(pool)
	now := time.Now().UTC()

	if err := w.UpsertProducts(ctx, catalog.products()); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(catalog.Products)))

	if err := w.UpsertCoupons(ctx, catalog.coupons(now)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Upserted coupons", zap.Int("count", len(catalog.Coupons)))

	for _, u := range catalog.Users {
		role := auth.Role(u.Role)
		if role == "" {
			role = auth.RoleCustomer
		}
		if err := w.UpsertUser(ctx, postgres.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: role}); err != nil {
			return errors.Wrap(err, "seed users")
		}

		token := opts.customerToken
		if role == auth.RoleAdmin {
			token = opts.adminToken
		}
		if token == "" {
			lg.Warn("No session token for user, skipping session", zap.String("user", u.ID), zap.String("role", string(role)))
			continue
		}
		if opts.pepper == "" {
			return errors.New("session pepper is required to seed sessions: set --session-pepper or OPTIC_SESSION_PEPPER")
		}
		// One token per role; the user id is mixed in so every user gets
		// a distinct session row.
		if err := w.UpsertSession(ctx, auth.Session{
			TokenHash: auth.HashToken([]byte(opts.pepper), token+"."+u.ID),
			UserID:    u.ID,
			ExpiresAt: now.Add(opts.sessionTTL),
		}); err != nil {
			return errors.Wrap(err, "seed sessions")
		}
		lg.Info("Upserted session", zap.String("user", u.ID), zap.String("token", token+"."+u.ID))
	}

	for _, a := range catalog.Addresses {
		if err := w.UpsertAddress(ctx, address.Address{
			ID: a.ID, UserID: a.UserID, Recipient: a.Recipient,
			Line1: a.Line1, Line2: a.Line2, City: a.City, State: a.State,
			PostalCode: a.PostalCode, Phone: a.Phone,
		}); err != nil {
			return errors.Wrap(err, "seed addresses")
		}
	}
	lg.Info("Upserted users and addresses",
		zap.Int("users", len(catalog.Users)),
		zap.Int("addresses", len(catalog.Addresses)),
	)
	return nil
}

func (c catalogFile) products() []product.Product {
	out := make([]product.Product, 0, len(c.Products))
	for _, p := range c.Products {
		dp := product.Product{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, Active: !p.Inactive}
		for _, v := range p.Variants {
			dp.Variants = append(dp.Variants, product.Variant{
				ID: v.ID, ProductID: p.ID, Name: v.Name, Price: v.Price, Stock: v.Stock,
			})
		}
		out = append(out, dp)
	}
	return out
}

func (c catalogFile) coupons(now time.Time) []coupon.Coupon {
	out := make([]coupon.Coupon, 0, len(c.Coupons))
	for _, cj := range c.Coupons {
		days := cj.ValidDays
		if days <= 0 {
			days = 365
		}
		out = append(out, coupon.Coupon{
			ID:          uuid.NewString(),
			Code:        cj.Code,
			Kind:        coupon.Kind(cj.Kind),
			Value:       cj.Value,
			MinPurchase: cj.MinPurchase,
			MaxDiscount: cj.MaxDiscount,
			UsageLimit:  cj.UsageLimit,
			StartsAt:    now.Add(-time.Hour),
			EndsAt:      now.AddDate(0, 0, days),
			Active:      true,
		})
	}
	return out
}
