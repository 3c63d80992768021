package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/ledger"
	"loyaltyd/models"
)

var testSecret = []byte("test-secret")

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	if err := models.Seed(db, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(Config{DB: db, AuthSecret: testSecret}), db
}

func token(t *testing.T, role Role) string {
	t.Helper()
	signed, err := IssueToken(testSecret, uuid.NewString(), role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return signed
}

func doRequest(handler http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder := doRequest(srv.Handler(), http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	recorder := doRequest(handler, http.MethodGet, "/api/v1/tiers", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/tiers", "not-a-jwt", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a bad token, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/tiers", token(t, RoleCustomer), "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", recorder.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	customer := token(t, RoleCustomer)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts/"+uuid.NewString()+"/adjust",
		customer, `{"delta":100,"description":"nope"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a customer on an admin route, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/hooks/order-delivered",
		customer, `{"account_id":"`+uuid.NewString()+`","order_total":10,"order_number":"ORD-1"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a customer on a service route, got %d", recorder.Code)
	}
}

func TestAccountLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	customer := token(t, RoleCustomer)
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts", customer, `{"user_id":"shopper-1"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("create account: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var snapshot ledger.AccountSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/accounts/"+snapshot.ID.String()+"/earn",
		service, `{"points":250,"source":"purchase","description":"first order"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("earn: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+snapshot.ID.String(), customer, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("get account: expected 200, got %d", recorder.Code)
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot.PointsBalance != 250 {
		t.Fatalf("expected balance 250, got %d", snapshot.PointsBalance)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+snapshot.ID.String()+"/transactions", customer, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("transactions: expected 200, got %d", recorder.Code)
	}
	var entries []models.Transaction
	if err := json.Unmarshal(recorder.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(entries))
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/accounts/"+snapshot.ID.String()+"/redeem",
		customer, `{"points":1000,"description":"too much"}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an insufficient balance, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), customer, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown account, got %d", recorder.Code)
	}
}

func TestRewardRedemptionOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	handler := srv.Handler()
	customer := token(t, RoleCustomer)
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts", customer, `{"user_id":"shopper-2"}`)
	var snapshot ledger.AccountSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	accountID := snapshot.ID.String()

	doRequest(handler, http.MethodPost, "/api/v1/accounts/"+accountID+"/earn",
		service, `{"points":1000,"source":"promotion","description":"welcome"}`)

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+accountID+"/rewards", customer, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list rewards: expected 200, got %d", recorder.Code)
	}
	var available []models.Reward
	if err := json.Unmarshal(recorder.Body.Bytes(), &available); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(available) == 0 {
		t.Fatal("expected affordable rewards at 1000 points")
	}

	var reward models.Reward
	if err := db.First(&reward, "name = ?", "$5 Off Your Order").Error; err != nil {
		t.Fatalf("load reward: %v", err)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/accounts/"+accountID+"/rewards/"+reward.ID.String(), customer, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("redeem reward: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// A repeat claim inside the cooldown window is a conflict.
	recorder = doRequest(handler, http.MethodPost, "/api/v1/accounts/"+accountID+"/rewards/"+reward.ID.String(), customer, "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 on a duplicate claim, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+accountID+"/redemptions", customer, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list redemptions: expected 200, got %d", recorder.Code)
	}
	var redemptions []models.Redemption
	if err := json.Unmarshal(recorder.Body.Bytes(), &redemptions); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(redemptions) != 1 || redemptions[0].Status != models.RedemptionActive {
		t.Fatalf("expected one active redemption, got %+v", redemptions)
	}
}

func TestCartCheckoutOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	handler := srv.Handler()
	customer := token(t, RoleCustomer)
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts", customer, `{"user_id":"shopper-3"}`)
	var snapshot ledger.AccountSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doRequest(handler, http.MethodPost, "/api/v1/accounts/"+snapshot.ID.String()+"/earn",
		service, `{"points":2000,"source":"promotion","description":"welcome"}`)

	cart := models.Cart{ID: uuid.New(), Subtotal: 60.0}
	if err := db.Create(&cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/carts/"+cart.ID.String()+"/points-discount",
		customer, `{"account_id":"`+snapshot.ID.String()+`","points":1000}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("points discount: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/carts/"+cart.ID.String()+"/total", customer, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("total: expected 200, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/carts/"+cart.ID.String()+"/checkout",
		service, `{"order_id":"ORD-9001"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/accounts/"+snapshot.ID.String(), customer, "")
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot.PointsBalance != 1000 {
		t.Fatalf("expected 1000 points after checkout, got %d", snapshot.PointsBalance)
	}
}

func TestSweepAndStatsAreAdminOnly(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	admin := token(t, RoleAdmin)
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/sweep", service, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a service token, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/sweep", admin, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d", recorder.Code)
	}
	var sweep map[string]int
	if err := json.Unmarshal(recorder.Body.Bytes(), &sweep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sweep["expired"] != 0 {
		t.Fatalf("expected no expiries on a fresh store, got %d", sweep["expired"])
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/stats", admin, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", recorder.Code)
	}
}

func TestHookAwardsPoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	customer := token(t, RoleCustomer)
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts", customer, `{"user_id":"shopper-4"}`)
	var snapshot ledger.AccountSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/hooks/order-delivered",
		service, `{"account_id":"`+snapshot.ID.String()+`","order_total":75.50,"order_number":"ORD-7001"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("hook: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result ledger.EarnResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Adjusted != 75 {
		t.Fatalf("expected 75 points for $75.50, got %d", result.Adjusted)
	}
}

func TestEarnRejectsUnknownSource(t *testing.T) {
	srv, db := newTestServer(t)
	handler := srv.Handler()
	service := token(t, RoleService)

	recorder := doRequest(handler, http.MethodPost, "/api/v1/accounts", token(t, RoleCustomer), `{"user_id":"shopper-9"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("create account: expected 200, got %d", recorder.Code)
	}
	var snapshot ledger.AccountSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	recorder = doRequest(handler, http.MethodPost, "/api/v1/accounts/"+snapshot.ID.String()+"/earn",
		service, `{"points":100,"source":"purchse","description":"typo"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if resp.Kind != "validation" {
		t.Fatalf("expected validation kind, got %q", resp.Kind)
	}

	// Nothing was written to the append-only log.
	var count int64
	if err := db.Model(&models.Transaction{}).Where("account_id = ?", snapshot.ID).Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no transactions, got %d", count)
	}
}
