//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/payment"
	"github.com/xenking/optic-orders/internal/domain/product"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("optic"),
		tcpostgres.WithUsername("optic"),
		tcpostgres.WithPassword("optic"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Printf("terminate container: %v", err)
		}
	}()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	testPool, err = NewPool(ctx, dsn, Options{MaxConns: 16})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Migrations must be idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

const (
	testUser    = "it-user"
	testAddress = "it-addr"
	testSecret  = "it-secret"
)

func resetDB(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := testPool.Exec(ctx, `TRUNCATE order_tracking, order_items, orders, coupons,
		product_variants, products, addresses, sessions, users CASCADE`)
	require.NoError(t, err)

	stmts := []string{
		`INSERT INTO users (id, email, role) VALUES ('it-user', 'it@example.com', 'customer')`,
		`INSERT INTO users (id, email, role) VALUES ('it-admin', 'admin@example.com', 'admin')`,
		`INSERT INTO addresses (id, user_id, recipient, line1, city, postal_code)
			VALUES ('it-addr', 'it-user', 'Asha', '12 MG Road', 'Pune', '411001')`,
		`INSERT INTO products (id, name, price, stock) VALUES ('frame', 'Aviator Frame', 1000, 5)`,
		`INSERT INTO products (id, name, price, stock) VALUES ('lens', 'Blue Cut Lens', 500, 1)`,
		`INSERT INTO products (id, name, price, stock) VALUES ('sunglass', 'Wayfarer', 900, 3)`,
		`INSERT INTO product_variants (id, product_id, name, price, stock) VALUES ('sg-l', 'sunglass', 'Large', 1200, 2)`,
		`INSERT INTO coupons (id, code, kind, value, usage_limit, starts_at, ends_at)
			VALUES ('c1', 'FIRST10', 'PERCENTAGE', 10, 1, now() - interval '1 day', now() + interval '1 day')`,
		`INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ('hash-1', 'it-admin', now() + interval '1 hour')`,
	}
	for _, s := range stmts {
		_, err := testPool.Exec(ctx, s)
		require.NoError(t, err, s)
	}
}

func newService(t *testing.T) (*order.Service, *payment.Verifier) {
	t.Helper()

	numbers, err := order.NewNumberGenerator(order.DefaultNumberPrefix)
	require.NoError(t, err)
	verifier := payment.NewVerifier(testSecret)

	svc, err := order.NewService(order.Deps{
		Store:     NewOrderStore(testPool),
		Products:  NewProductRepository(testPool),
		Addresses: NewAddressRepository(testPool),
		Coupons:   NewCouponRepository(testPool),
		Ledger:    NewTrackingRepository(testPool),
		Numbers:   numbers,
		Verifier:  verifier,
	})
	require.NoError(t, err)
	return svc, verifier
}

func stockOf(t *testing.T, table, id string) int {
	t.Helper()
	var stock int
	err := testPool.QueryRow(context.Background(), `SELECT stock FROM `+table+` WHERE id = $1`, id).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func countOrders(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT count(*) FROM orders`).Scan(&n))
	return n
}

func cod(items ...order.LineRequest) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		UserID:        testUser,
		AddressID:     testAddress,
		PaymentMethod: order.PaymentCOD,
		Items:         items,
	}
}

func TestOrderStore_PlaceAndRead(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)
	ctx := context.Background()

	req := cod(
		order.LineRequest{ProductID: "frame", Quantity: 2},
		order.LineRequest{ProductID: "sunglass", VariantID: "sg-l", Quantity: 1},
	)
	req.CouponCode = "first10"
	placed, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	assert.True(t, placed.Subtotal.Equal(decimal.NewFromInt(3200)))
	assert.True(t, placed.Discount.Equal(decimal.NewFromInt(320)))
	assert.True(t, placed.Total.Equal(decimal.NewFromInt(2880)))

	got, err := svc.Get(ctx, testUser, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.Number, got.Number)
	assert.Equal(t, "c1", got.CouponID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "sg-l", got.Items[1].VariantID)
	assert.True(t, got.Items[1].Price.Equal(decimal.NewFromInt(1200)))

	assert.Equal(t, 3, stockOf(t, "products", "frame"))
	assert.Equal(t, 2, stockOf(t, "products", "sunglass"))
	assert.Equal(t, 1, stockOf(t, "product_variants", "sg-l"))

	list, err := svc.List(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 2)

	events, err := svc.Tracking(ctx, testUser, placed.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, tracking.LabelPlaced, events[0].Label)
}

func TestOrderStore_OppositeOrderCarts(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)

	_, err := testPool.Exec(context.Background(), `UPDATE products SET stock = 100 WHERE id IN ('frame', 'sunglass')`)
	require.NoError(t, err)

	const pairs = 10
	forward := cod(
		order.LineRequest{ProductID: "frame", Quantity: 1},
		order.LineRequest{ProductID: "sunglass", Quantity: 1},
	)
	backward := cod(
		order.LineRequest{ProductID: "sunglass", Quantity: 1},
		order.LineRequest{ProductID: "frame", Quantity: 1},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, 2*pairs)
	)
	for range pairs {
		for _, req := range []order.PlaceOrderRequest{forward, backward} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.PlaceOrder(ctx, req)
				errs <- err
			}()
		}
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 100-2*pairs, stockOf(t, "products", "frame"))
	assert.Equal(t, 100-2*pairs, stockOf(t, "products", "sunglass"))
	assert.Equal(t, 2*pairs, countOrders(t))
}

func TestOrderStore_LastUnitRace(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)

	const buyers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		succeeded   int
		unavailable int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), cod(order.LineRequest{ProductID: "lens", Quantity: 1}))

			mu.Lock()
			defer mu.Unlock()
			var uErr *order.UnavailableError
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorAs(t, err, &uErr):
				unavailable++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, unavailable)
	assert.Equal(t, 0, stockOf(t, "products", "lens"))
	assert.Equal(t, 1, countOrders(t))
}

func TestOrderStore_CouponExhaustedRollsBack(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)
	ctx := context.Background()

	store := NewOrderStore(testPool)
	err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.ClaimCoupon(ctx, "c1")
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.DeductStock(ctx, "frame", "", 2))
		return tx.ClaimCoupon(ctx, "c1")
	})
	require.ErrorIs(t, err, coupon.ErrExhausted)
	assert.Equal(t, 5, stockOf(t, "products", "frame"), "stock deduction rolled back")

	// The read path no longer offers the exhausted coupon.
	req := cod(order.LineRequest{ProductID: "frame", Quantity: 1})
	req.CouponCode = "FIRST10"
	o, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, o.Discount.IsZero())
}

func TestOrderStore_CancelRestoresStock(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, cod(
		order.LineRequest{ProductID: "frame", Quantity: 2},
		order.LineRequest{ProductID: "sunglass", VariantID: "sg-l", Quantity: 2},
	))
	require.NoError(t, err)
	require.Equal(t, 0, stockOf(t, "product_variants", "sg-l"))

	cancelled, err := svc.Cancel(ctx, testUser, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	assert.Equal(t, 5, stockOf(t, "products", "frame"))
	assert.Equal(t, 3, stockOf(t, "products", "sunglass"))
	assert.Equal(t, 2, stockOf(t, "product_variants", "sg-l"))

	events, err := svc.Tracking(ctx, testUser, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tracking.LabelCancelled, events[1].Label)

	_, err = svc.Cancel(ctx, testUser, o.ID)
	var tErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 5, stockOf(t, "products", "frame"), "second cancel must not restock")
}

func TestOrderStore_PaymentIDUnique(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	first, verifier := newService(t)
	second, _ := newService(t)

	c := order.PaymentConfirmation{
		GatewayOrderID:   "order_it",
		GatewayPaymentID: "pay_it",
		Signature:        verifier.Sign("order_it", "pay_it"),
		Intent: order.PlaceOrderRequest{
			UserID:    testUser,
			AddressID: testAddress,
			Items:     []order.LineRequest{{ProductID: "frame", Quantity: 1}},
		},
	}
	o, err := first.ConfirmPayment(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)

	_, err = second.ConfirmPayment(ctx, c)
	require.ErrorIs(t, err, payment.ErrAlreadyUsed)
	assert.Equal(t, 1, countOrders(t))
	assert.Equal(t, 4, stockOf(t, "products", "frame"))
}

func TestOrderStore_NumberConflict(t *testing.T) {
	resetDB(t)
	svc, _ := newService(t)
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, cod(order.LineRequest{ProductID: "frame", Quantity: 1}))
	require.NoError(t, err)

	store := NewOrderStore(testPool)
	err = store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		dup := *o
		dup.ID = "other-id"
		return tx.InsertOrder(ctx, &dup)
	})
	require.ErrorIs(t, err, order.ErrNumberTaken)
}

func TestSessionRepository(t *testing.T) {
	resetDB(t)
	repo := NewSessionRepository(testPool)

	s, err := repo.FindByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "it-admin", s.UserID)
	assert.Equal(t, "admin", string(s.Role))

	_, err = repo.FindByHash(context.Background(), "nope")
	require.Error(t, err)
}

func TestCatalogWriter_Upserts(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	w := NewCatalogWriter(testPool)

	price := decimal.NewFromInt(1500)
	require.NoError(t, w.UpsertProducts(ctx, []product.Product{{
		ID: "frame", Name: "Aviator Frame v2", Price: decimal.NewFromInt(1100), Stock: 9, Active: true,
		Variants: []product.Variant{{ID: "frame-gold", Name: "Gold", Price: &price, Stock: 4}},
	}}))

	products, err := NewProductRepository(testPool).GetByIDs(ctx, []string{"frame"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Aviator Frame v2", products[0].Name)
	assert.Equal(t, 9, products[0].Stock)
	require.Len(t, products[0].Variants, 1)
	assert.True(t, products[0].Variants[0].Price.Equal(price))

	// Bump usage, then re-import: the counter must survive.
	_, err = testPool.Exec(ctx, `UPDATE coupons SET used_count = 1 WHERE id = 'c1'`)
	require.NoError(t, err)
	limit := 100
	require.NoError(t, w.UpsertCoupons(ctx, []coupon.Coupon{{
		ID: "ignored-on-conflict", Code: "first10", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(15),
		UsageLimit: &limit, StartsAt: time.Now().Add(-time.Hour), EndsAt: time.Now().Add(time.Hour), Active: true,
	}}))

	c, err := NewCouponRepository(testPool).FindByCode(ctx, "FIRST10")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.True(t, c.Value.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 1, c.UsedCount)
	require.NotNil(t, c.UsageLimit)
	assert.Equal(t, 100, *c.UsageLimit)

	require.NoError(t, w.UpsertUser(ctx, User{ID: "u2", Email: "u2@example.com", Role: auth.RoleCustomer}))
	require.NoError(t, w.UpsertSession(ctx, auth.Session{TokenHash: "hash-2", UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, w.UpsertAddress(ctx, address.Address{ID: "a2", UserID: "u2", Recipient: "Ravi", Line1: "1 Park St", City: "Kolkata", PostalCode: "700016"}))

	s, err := NewSessionRepository(testPool).FindByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, "u2", s.UserID)

	a, err := NewAddressRepository(testPool).FindForUser(ctx, "a2", "u2")
	require.NoError(t, err)
	assert.Equal(t, "Kolkata", a.City)
}
