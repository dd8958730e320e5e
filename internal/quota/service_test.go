package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nexuscloud/nexus/internal/auth"
	"github.com/nexuscloud/nexus/internal/classify"
)

func TestServiceGetReturnsZeroLedgerForNewOwner(t *testing.T) {
	ledgers := newFakeLedgers()
	service := NewService(ledgers, NewReconciler(ledgers, newFakeIndex(), 1, 0, nil))

	summary, err := service.Get(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if summary.StorageUsedBytes != 0 || summary.StorageUsed != "0 B" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, c := range classify.Categories() {
		if summary.CountByCategory[c] != 0 {
			t.Fatalf("expected zero count for %s", c)
		}
	}
}

func TestServiceOverviewHumanizesTotals(t *testing.T) {
	ledgers := newFakeLedgers()
	ledgers.set("a", usageOf(1024, classify.Image, 1))
	ledgers.set("b", usageOf(1024, classify.Document, 2))
	service := NewService(ledgers, nil)

	overview, err := service.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview returned error: %v", err)
	}
	if overview.Owners != 2 || overview.Files != 3 {
		t.Fatalf("unexpected totals %+v", overview.Totals)
	}
	if overview.StorageUsed != "2.0 KiB" {
		t.Fatalf("unexpected humanized size %q", overview.StorageUsed)
	}
}

func withUser(user auth.ContextUser) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth.SetUser(c, user)
		c.Next()
	}
}

func TestHTTPQuotaAndAdminRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ledgers := newFakeLedgers()
	ledgers.set("u1", usageOf(5000, classify.Video, 2))
	index := newFakeIndex()
	index.set("u1", usageOf(1000, classify.Video, 1))
	service := NewService(ledgers, NewReconciler(ledgers, index, 1, 0, nil))

	newRouter := func(user auth.ContextUser) *gin.Engine {
		r := gin.New()
		v1 := r.Group("/v1", withUser(user))
		RegisterRoutes(v1, service)
		RegisterAdminRoutes(v1, service)
		return r
	}

	user := newRouter(auth.ContextUser{ID: "u1"})
	rr := httptest.NewRecorder()
	user.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/quota", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var summary Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.OwnerID != "u1" || summary.StorageUsedBytes != 5000 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rr = httptest.NewRecorder()
	user.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/reconcile", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	admin := newRouter(auth.ContextUser{ID: "root", IsAdmin: true})
	rr = httptest.NewRecorder()
	admin.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/reconcile", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var report Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Corrected != 1 {
		t.Fatalf("expected one correction, got %+v", report)
	}
	if got := ledgers.get("u1"); got.StorageUsedBytes != 1000 {
		t.Fatalf("expected ledger reconciled to 1000, got %d", got.StorageUsedBytes)
	}

	rr = httptest.NewRecorder()
	admin.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/usage", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
