package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dukaan/internal/config"
	"dukaan/internal/database"
	"dukaan/internal/events"
	"dukaan/internal/server"

	"github.com/dgrijalva/jwt-go"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test_jwt_secret"

// setupApp sets up the whole application over an in-memory SQLite database.
func setupApp(t *testing.T) (*server.Server, *events.Recorder) {
	t.Helper()
	cfg := &config.Config{
		DBDriver:          "sqlite",
		DatabaseDSN:       ":memory:",
		JWTSecret:         testJWTSecret,
		TokenTTL:          time.Hour,
		EventBroker:       "none",
		PickupOTPRequired: true,
		PickupOTPTTL:      10 * time.Minute,
	}
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseDSN)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	recorder := &events.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(cfg, db, recorder, nil, logger)
	require.NoError(t, srv.Auth.EnsureAdmin(context.Background(), "admin", "admin-password"))
	return srv, recorder
}

type result struct {
	status int
	body   map[string]any
	list   []map[string]any
	header http.Header
}

func call(t *testing.T, app *fiber.App, method, path, token string, payload any) result {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1) // -1 for no timeout
	require.NoError(t, err)
	defer resp.Body.Close()

	out := result{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '[' {
		require.NoError(t, json.Unmarshal(raw, &out.list))
	} else if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func register(t *testing.T, app *fiber.App, username, role string) {
	t.Helper()
	res := call(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"role":     role,
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
}

func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	res := call(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, res.status, res.body)
	token, _ := res.body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func userID(t *testing.T, srv *server.Server, token string) string {
	t.Helper()
	p, err := srv.Auth.ResolvePrincipal(context.Background(), token)
	require.NoError(t, err)
	return p.ID
}

func TestAuthRegisterAndLogin(t *testing.T) {
	srv, _ := setupApp(t)
	app := srv.App

	register(t, app, "testuser", "customer")

	// Test Duplicate Registration (username)
	res := call(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "other@example.com",
		"password": "password123",
		"role":     "customer",
	})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "CONFLICT", res.body["code"])

	// Admin is not a self-service role
	res = call(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "sneaky",
		"email":    "sneaky@example.com",
		"password": "password123",
		"role":     "admin",
	})
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = call(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "testuser",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	token := login(t, app, "testuser", "password123")
	claims, err := srv.Auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "testuser", claims["username"])
	assert.Equal(t, "customer", claims["role"])
}

func TestEndpointsWithoutAuth(t *testing.T) {
	srv, _ := setupApp(t)

	res := call(t, srv.App, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = call(t, srv.App, http.MethodPost, "/api/v1/orders", "not-a-token", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = call(t, srv.App, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "healthy", res.body["status"])
}

func TestSessionCookie(t *testing.T) {
	srv, _ := setupApp(t)
	app := srv.App
	register(t, app, "cookie", "customer")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"cookie","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: session.Value})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// An expired session is rejected and the cookie cleared.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID(t, srv, session.Value),
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: expiredToken})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	setCookie := resp.Header.Get("Set-Cookie")
	assert.Contains(t, setCookie, "session=;")
	assert.Contains(t, setCookie, "1970")
}

func TestRoleGates(t *testing.T) {
	srv, _ := setupApp(t)
	app := srv.App
	register(t, app, "shopper", "customer")
	token := login(t, app, "shopper", "password123")

	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodGet, "/api/v1/delivery/me", token, nil).status)
	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodPost, "/api/v1/stores", token, map[string]string{"name": "My Shop"}).status)
	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodPost, "/api/v1/admin/reconcile", token, nil).status)
}

func TestCustomerBrowsesApprovedStores(t *testing.T) {
	srv, _ := setupApp(t)
	app := srv.App

	register(t, app, "asha", "customer")
	register(t, app, "ravi", "store_owner")
	admin := login(t, app, "admin", "admin-password")
	customer := login(t, app, "asha", "password123")
	owner := login(t, app, "ravi", "password123")

	res := call(t, app, http.MethodPost, "/api/v1/stores", owner, map[string]string{"name": "Ravi General Store"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	openID := res.body["id"].(string)
	res = call(t, app, http.MethodPost, "/api/v1/stores", owner, map[string]string{"name": "Ravi Pending Store"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	res = call(t, app, http.MethodPatch, "/api/v1/admin/stores/"+openID+"/approval", admin, map[string]bool{"approved": true})
	require.Equal(t, http.StatusOK, res.status, res.body)

	res = call(t, app, http.MethodGet, "/api/v1/stores", customer, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Len(t, res.list, 1)
	assert.Equal(t, openID, res.list[0]["id"])
	assert.Equal(t, true, res.list[0]["isApproved"])

	// The owner still sees every store they run.
	res = call(t, app, http.MethodGet, "/api/v1/stores", owner, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Len(t, res.list, 2)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	srv, recorder := setupApp(t)
	app := srv.App

	register(t, app, "asha", "customer")
	register(t, app, "ravi", "store_owner")
	register(t, app, "rider1", "delivery")
	register(t, app, "rider2", "delivery")
	admin := login(t, app, "admin", "admin-password")
	customer := login(t, app, "asha", "password123")
	owner := login(t, app, "ravi", "password123")
	rider1 := login(t, app, "rider1", "password123")
	rider2 := login(t, app, "rider2", "password123")

	// Store setup
	res := call(t, app, http.MethodPost, "/api/v1/stores", owner, map[string]string{"name": "Ravi General Store"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	storeID := res.body["id"].(string)
	res = call(t, app, http.MethodPatch, "/api/v1/admin/stores/"+storeID+"/approval", admin, map[string]bool{"approved": true})
	require.Equal(t, http.StatusOK, res.status, res.body)

	res = call(t, app, http.MethodPost, "/api/v1/stores/"+storeID+"/products", owner, map[string]any{"name": "Widget", "price": 50, "stock": 10})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	productID := res.body["id"].(string)

	res = call(t, app, http.MethodGet, "/api/v1/stores/"+storeID+"/products", customer, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.list, 1)

	// Partner setup
	for _, rider := range []string{rider1, rider2} {
		id := userID(t, srv, rider)
		res = call(t, app, http.MethodPatch, "/api/v1/admin/partners/"+id+"/approval", admin, map[string]bool{"approved": true})
		require.Equal(t, http.StatusOK, res.status, res.body)
		res = call(t, app, http.MethodPatch, "/api/v1/delivery/availability", rider, map[string]bool{"active": true})
		require.Equal(t, http.StatusOK, res.status, res.body)
	}

	// Checkout
	res = call(t, app, http.MethodPost, "/api/v1/addresses", customer, map[string]string{
		"line1": "12 MG Road", "city": "Pune", "postalCode": "411001", "phone": "9876543210",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	addressID := res.body["id"].(string)

	res = call(t, app, http.MethodPost, "/api/v1/orders", customer, map[string]any{
		"storeId":       storeID,
		"addressId":     addressID,
		"items":         []map[string]any{{"productId": productID, "quantity": 2}},
		"paymentMethod": "COD",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	orderID := res.body["id"].(string)
	slug := res.body["slug"].(string)
	assert.True(t, strings.HasPrefix(slug, "widget-"))
	assert.Equal(t, 100.0, res.body["totalAmount"])
	assert.Equal(t, "PENDING", res.body["status"])
	assert.NotContains(t, res.body, "pickupOtp")

	// Not yet visible to delivery partners
	res = call(t, app, http.MethodGet, "/api/v1/orders/"+orderID, rider1, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = call(t, app, http.MethodPost, "/api/v1/orders/"+orderID+"/transitions", owner, map[string]string{"type": "ACCEPT"})
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "PROCESSING", res.body["status"])

	res = call(t, app, http.MethodGet, "/api/v1/delivery/orders/available", rider1, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Len(t, res.list, 1)
	assert.Equal(t, orderID, res.list[0]["id"])

	res = call(t, app, http.MethodPost, "/api/v1/delivery/orders/"+orderID+"/claim", rider1, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "DRIVER_ASSIGNED", res.body["status"])
	code, _ := res.body["pickupOtp"].(string)
	require.Len(t, code, 6)

	res = call(t, app, http.MethodPost, "/api/v1/delivery/orders/"+orderID+"/claim", rider2, nil)
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "ALREADY_CLAIMED", res.body["code"])

	// The store never sees the code itself
	res = call(t, app, http.MethodGet, "/api/v1/orders/"+orderID, owner, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.NotContains(t, res.body, "pickupOtp")

	res = call(t, app, http.MethodPost, "/api/v1/orders/"+orderID+"/transitions", owner, map[string]string{"type": "VERIFY_PICKUP", "otp": "12"})
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = call(t, app, http.MethodPost, "/api/v1/orders/"+orderID+"/transitions", owner, map[string]string{"type": "VERIFY_PICKUP", "otp": code})
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "OUT_FOR_DELIVERY", res.body["status"])

	res = call(t, app, http.MethodPost, "/api/v1/delivery/orders/"+orderID+"/deliver", rider2, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = call(t, app, http.MethodPost, "/api/v1/delivery/orders/"+orderID+"/deliver", rider1, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "DELIVERED", res.body["status"])

	res = call(t, app, http.MethodGet, "/api/v1/delivery/me", rider1, nil)
	require.Equal(t, http.StatusOK, res.status)
	partner := res.body["partner"].(map[string]any)
	assert.Nil(t, partner["currentOrderId"])
	assert.Equal(t, 1.0, partner["stats"].(map[string]any)["delivered"])

	res = call(t, app, http.MethodGet, "/api/v1/orders/"+slug, customer, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "DELIVERED", res.body["status"])
	timestamps := res.body["timestampsLog"].(map[string]any)
	for _, key := range []string{"createdAt", "acceptedAt", "outForDeliveryAt", "deliveredAt"} {
		assert.Contains(t, timestamps, key)
	}
	assert.NotContains(t, timestamps, "cancelledAt")

	res = call(t, app, http.MethodGet, "/api/v1/orders?filter=active", customer, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Empty(t, res.list)

	assert.Len(t, recorder.Events(), 5)
}
