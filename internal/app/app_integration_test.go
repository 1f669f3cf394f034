//go:build integration

package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/payment"
	"github.com/xenking/optic-orders/internal/domain/product"
	"github.com/xenking/optic-orders/internal/notify"
	"github.com/xenking/optic-orders/internal/storage/postgres"
	"github.com/xenking/optic-orders/pkg/health"
)

const (
	e2ePepper   = "e2e-pepper"
	e2eSecret   = "e2e-secret"
	e2eCustomer = "customer-session"
	e2eAdmin    = "admin-session"
)

var e2ePool *pgxpool.Pool

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
	e2ePool, err = postgres.NewPool(ctx, dsn, postgres.Options{MaxConns: 8})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer e2ePool.Close()

	if err := postgres.RunMigrations(ctx, e2ePool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx, postgres.NewCatalogWriter(e2ePool)); err != nil {
		log.Fatalf("seed: %v", err)
	}
	return m.Run()
}

func seed(ctx context.Context, w *postgres.CatalogWriter) error {
	if err := w.UpsertProducts(ctx, []product.Product{
		{ID: "frame", Name: "Aviator Frame", Price: decimal.NewFromInt(1000), Stock: 5, Active: true},
		{ID: "cloth", Name: "Lens Cloth", Price: decimal.NewFromInt(99), Stock: 50, Active: true},
	}); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := w.UpsertCoupons(ctx, []coupon.Coupon{{
		ID: "c-first10", Code: "FIRST10", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10),
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(24 * time.Hour), Active: true,
	}}); err != nil {
		return err
	}
	for _, u := range []postgres.User{
		{ID: "u-customer", Email: "c@example.com", Name: "Asha", Role: auth.RoleCustomer},
		{ID: "u-admin", Email: "a@example.com", Name: "Ops", Role: auth.RoleAdmin},
	} {
		if err := w.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for token, user := range map[string]string{e2eCustomer: "u-customer", e2eAdmin: "u-admin"} {
		if err := w.UpsertSession(ctx, auth.Session{
			TokenHash: auth.HashToken([]byte(e2ePepper), token),
			UserID:    user,
			ExpiresAt: now.Add(time.Hour),
		}); err != nil {
			return err
		}
	}
	return w.UpsertAddress(ctx, address.Address{
		ID: "a-home", UserID: "u-customer", Recipient: "Asha", Line1: "12 MG Road", City: "Pune", PostalCode: "411001",
	})
}

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }

// fakeRazorpay answers POST /orders like the Orders API.
func fakeRazorpay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var amount int64
		_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
			if key == "amount" {
				v, err := d.Int64()
				amount = v
				return err
			}
			return d.Skip()
		})
		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str("order_e2e") })
			e.Field("amount", func(e *jx.Encoder) { e.Int64(amount) })
			e.Field("currency", func(e *jx.Encoder) { e.Str("INR") })
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(e.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newE2EServer(t *testing.T) *httptest.Server {
	t.Helper()
	lg := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), lg))
	t.Cleanup(cancel)

	cfg := &Config{
		SessionPepper: e2ePepper,
		Razorpay: RazorpayConfig{
			KeyID: "rzp_test", KeySecret: e2eSecret, BaseURL: fakeRazorpay(t).URL, Currency: "INR",
		},
		Pricing:   PricingConfig{FreeShippingThreshold: "999", ShippingFee: "99"},
		Orders:    OrdersConfig{NumberPrefix: "EW"},
		Redis:     RedisConfig{ReplayTTL: time.Hour},
		RateLimit: RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
	hs := health.New(lg)
	hs.AddReadinessCheck("postgres", time.Second, health.PingCheck(e2ePool))
	hs.SetReady(true)

	api, err := newAPIHandler(ctx, cfg, apiDeps{
		Pool:      e2ePool,
		Replay:    payment.NewMemoryGuard(),
		Notifier:  notify.NewLog(lg),
		Health:    hs,
		Telemetry: noopTelemetry{},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// field extracts a top-level or order.<key> string/number value.
func field(t *testing.T, body []byte, path ...string) string {
	t.Helper()
	var out string
	var walk func(d *jx.Decoder, path []string) error
	walk = func(d *jx.Decoder, path []string) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != path[0] {
				return d.Skip()
			}
			if len(path) > 1 {
				return walk(d, path[1:])
			}
			raw, err := d.Raw()
			out = strings.Trim(raw.String(), `"`)
			return err
		})
	}
	require.NoError(t, walk(jx.DecodeBytes(body), path), string(body))
	return out
}

func frameStock(t *testing.T) int {
	t.Helper()
	var stock int
	require.NoError(t, e2ePool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = 'frame'`).Scan(&stock))
	return stock
}

func TestAPI_Health(t *testing.T) {
	srv := newE2EServer(t)

	status, _ := call(t, srv, http.MethodGet, "/livez", "", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_Unauthorized(t *testing.T) {
	srv := newE2EServer(t)

	status, body := call(t, srv, http.MethodGet, "/api/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.JSONEq(t, `{"error":"unauthorized"}`, string(body))

	status, _ = call(t, srv, http.MethodGet, "/api/orders", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_CashOnDeliveryLifecycle(t *testing.T) {
	srv := newE2EServer(t)
	before := frameStock(t)

	status, body := call(t, srv, http.MethodPost, "/api/orders", e2eCustomer, `{
		"addressId": "a-home",
		"paymentMethod": "COD",
		"couponCode": "first10",
		"items": [{"productId": "frame", "quantity": 1}]
	}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	id := field(t, body, "order", "id")
	assert.Equal(t, "900.00", field(t, body, "order", "total"))
	assert.True(t, strings.HasPrefix(field(t, body, "order", "orderNumber"), "EW"))
	assert.Equal(t, before-1, frameStock(t))

	status, body = call(t, srv, http.MethodGet, "/api/orders/"+id, e2eCustomer, "")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "PENDING", field(t, body, "order", "status"))
	assert.Equal(t, "100.00", field(t, body, "order", "discount"))
	assert.Equal(t, "0.00", field(t, body, "order", "shippingCharge"))

	status, body = call(t, srv, http.MethodGet, "/api/orders/"+id, e2eAdmin, "")
	assert.Equal(t, http.StatusNotFound, status, "other users' orders are hidden: %s", body)

	status, _ = call(t, srv, http.MethodPatch, "/api/admin/orders/"+id+"/status", e2eCustomer, `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusForbidden, status)

	for _, next := range []string{"CONFIRMED", "PROCESSING", "SHIPPED"} {
		status, body = call(t, srv, http.MethodPatch, "/api/admin/orders/"+id+"/status", e2eAdmin,
			`{"status":"`+next+`","message":"moving on"}`)
		require.Equal(t, http.StatusOK, status, string(body))
		assert.Equal(t, next, field(t, body, "order", "status"))
	}

	status, body = call(t, srv, http.MethodPatch, "/api/orders/"+id, e2eCustomer, `{"action":"cancel"}`)
	assert.Equal(t, http.StatusBadRequest, status, "shipped orders cannot be cancelled: %s", body)

	status, body = call(t, srv, http.MethodGet, "/api/orders/"+id+"/tracking", e2eCustomer, "")
	require.Equal(t, http.StatusOK, status, string(body))
	var labels []string
	require.NoError(t, jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		return d.Arr(func(d *jx.Decoder) error {
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "status" {
					return d.Skip()
				}
				s, err := d.Str()
				labels = append(labels, s)
				return err
			})
		})
	}))
	assert.Len(t, labels, 4, "placement plus three transitions: %v", labels)
}

func TestAPI_CancelRestoresStock(t *testing.T) {
	srv := newE2EServer(t)
	before := frameStock(t)

	status, body := call(t, srv, http.MethodPost, "/api/orders", e2eCustomer, `{
		"addressId": "a-home",
		"paymentMethod": "COD",
		"items": [{"productId": "frame", "quantity": 2}]
	}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	id := field(t, body, "order", "id")
	assert.Equal(t, before-2, frameStock(t))

	status, body = call(t, srv, http.MethodPatch, "/api/orders/"+id, e2eCustomer, `{"action":"cancel"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"success":true,"message":"Order cancelled successfully"}`, string(body))
	assert.Equal(t, before, frameStock(t))

	status, _ = call(t, srv, http.MethodPatch, "/api/orders/"+id, e2eCustomer, `{"action":"cancel"}`)
	assert.Equal(t, http.StatusBadRequest, status, "second cancel is an invalid transition")
}

func TestAPI_OnlinePayment(t *testing.T) {
	srv := newE2EServer(t)
	intent := `{
		"addressId": "a-home",
		"items": [{"productId": "cloth", "quantity": 2}]
	}`

	status, body := call(t, srv, http.MethodPost, "/api/payments/intent", e2eCustomer, intent)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "order_e2e", field(t, body, "razorpayOrderId"))
	// 2 x 99 + 99 shipping, in paise.
	assert.Equal(t, "29700", field(t, body, "amount"))
	assert.Equal(t, "rzp_test", field(t, body, "keyId"))

	sig := payment.NewVerifier(e2eSecret).Sign("order_e2e", "pay_e2e_1")
	verify := func(signature string) (int, []byte) {
		return call(t, srv, http.MethodPost, "/api/payments/verify", e2eCustomer, `{
			"razorpayPaymentId": "pay_e2e_1",
			"razorpayOrderId": "order_e2e",
			"razorpaySignature": "`+signature+`",
			"orderData": `+intent+`
		}`)
	}

	status, body = verify(strings.Repeat("0", len(sig)))
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	status, body = verify(sig)
	require.Equal(t, http.StatusOK, status, string(body))
	id := field(t, body, "order", "id")

	status, body = call(t, srv, http.MethodGet, "/api/orders/"+id, e2eCustomer, "")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "CONFIRMED", field(t, body, "order", "status"))
	assert.Equal(t, "PAID", field(t, body, "order", "paymentStatus"))
	assert.Equal(t, "pay_e2e_1", field(t, body, "order", "paymentId"))

	status, body = verify(sig)
	assert.Equal(t, http.StatusConflict, status, "payment ids settle once: %s", body)

	status, body = call(t, srv, http.MethodPost, "/api/admin/orders/"+id+"/refund", e2eAdmin, "")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "REFUNDED", field(t, body, "order", "paymentStatus"))
}
