package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"go.uber.org/zap"
)

func setupMESTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, nil, zap.NewNop())
	handlers := NewHandlers(services)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	rules := api.Group("/number-rules")
	rules.GET("", handlers.Rule.List)
	rules.POST("", handlers.Rule.Create)
	rules.GET("/:id", handlers.Rule.Get)
	rules.PUT("/:id", handlers.Rule.Update)
	rules.DELETE("/:id", handlers.Rule.Deactivate)
	rules.GET("/:id/windows", handlers.Rule.Windows)

	batches := api.Group("/batches")
	batches.GET("", handlers.Batch.List)
	batches.POST("", handlers.Batch.Create)
	batches.GET("/preview-number", handlers.Batch.PreviewNumber)
	batches.GET("/number/:number", handlers.Batch.GetByNumber)
	batches.POST("/merge", handlers.Genealogy.Merge)
	batches.GET("/:id", handlers.Batch.Get)
	batches.GET("/:id/events", handlers.Batch.Events)
	batches.POST("/:id/approve", handlers.Batch.Approve)
	batches.POST("/:id/reject", handlers.Batch.Reject)
	batches.POST("/:id/consume", handlers.Batch.Consume)
	batches.POST("/:id/scrap", handlers.Batch.Scrap)
	batches.POST("/:id/split", handlers.Genealogy.Split)
	batches.GET("/:id/genealogy", handlers.Genealogy.Edges)
	batches.GET("/:id/genealogy/ancestors", handlers.Genealogy.Ancestors)
	batches.GET("/:id/genealogy/descendants", handlers.Genealogy.Descendants)

	holds := api.Group("/holds")
	holds.GET("", handlers.Hold.ListByEntity)
	holds.POST("", handlers.Hold.Apply)
	holds.GET("/:id", handlers.Hold.Get)
	holds.POST("/:id/release", handlers.Hold.Release)
	api.GET("/hold-reasons", handlers.Hold.ListReasons)
	api.POST("/hold-reasons", handlers.Hold.CreateReason)
	api.GET("/usability", handlers.Hold.Usability)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedDefaultRule(t *testing.T, env *testutil.TestEnv) *entity.BatchNumberRule {
	t.Helper()
	return testutil.SeedRule(t, env.DB, &entity.BatchNumberRule{
		Name:        "默认规则",
		Prefix:      "FUR",
		Separator:   "-",
		IncludeDate: true,
		DateFormat:  "yyyyMMdd",
		SeqLength:   4,
		ResetPolicy: entity.ResetPolicyDaily,
		CreatedBy:   "test-user",
	})
}

// TestBatchCreateWithNumbering tests that batch creation allocates a rule-based number
func TestBatchCreateWithNumbering(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	body := map[string]interface{}{
		"material_ref": "OAK-TABLE",
		"quantity":     100,
		"unit":         "pcs",
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	number := data["batch_number"].(string)
	if !strings.HasPrefix(number, "FUR-") || !strings.HasSuffix(number, "-0001") {
		t.Fatalf("unexpected batch number %s", number)
	}
	if data["status"] != entity.BatchStatusQualityPending {
		t.Fatalf("new batch should be quality pending, got %v", data["status"])
	}
	if data["remaining_qty"].(float64) != 100 {
		t.Fatalf("remaining quantity should equal initial quantity, got %v", data["remaining_qty"])
	}

	// The creation event is journaled
	batchID := data["id"].(string)
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/"+batchID+"/events", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	events := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].(map[string]interface{})["event_type"] != entity.EventTypeCreated {
		t.Fatalf("expected CREATED event, got %v", events[0])
	}

	// Lookup by number
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/number/"+number, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup by number failed: %d", w.Code)
	}
}

// TestBatchCreateNoRule tests creation failure when no rule matches
func TestBatchCreateNoRule(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()

	body := map[string]interface{}{
		"material_ref": "OAK-TABLE",
		"quantity":     10,
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches", body, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 42200 {
		t.Fatalf("expected code 42200, got %v", resp["code"])
	}
}

// TestBatchPreviewDoesNotConsume tests that previewing leaves the sequence untouched
func TestBatchPreviewDoesNotConsume(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	var first string
	for i := 0; i < 3; i++ {
		w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/preview-number", nil, token)
		if w.Code != http.StatusOK {
			t.Fatalf("preview failed: %d: %s", w.Code, w.Body.String())
		}
		number := testutil.ParseResponse(w)["data"].(map[string]interface{})["batch_number"].(string)
		if first == "" {
			first = number
		} else if number != first {
			t.Fatalf("preview consumed the sequence: %s vs %s", first, number)
		}
	}

	// The first real allocation gets the previewed number
	body := map[string]interface{}{"material_ref": "OAK-TABLE", "quantity": 1}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", w.Code)
	}
	got := testutil.ParseResponse(w)["data"].(map[string]interface{})["batch_number"].(string)
	if got != first {
		t.Fatalf("expected allocated number %s to match preview %s", got, first)
	}
}

// TestBatchLifecycle tests approve then consume down to the terminal state
func TestBatchLifecycle(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()

	batch := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9001",
		MaterialRef: "OAK-TABLE",
		Quantity:    10,
		Unit:        "pcs",
		Status:      entity.BatchStatusQualityPending,
		CreatedBy:   "test-user",
	})

	// Approve: QUALITY_PENDING -> AVAILABLE
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+batch.ID+"/approve", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("approve failed: %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != entity.BatchStatusAvailable {
		t.Fatalf("expected AVAILABLE, got %v", data["status"])
	}

	// Partial consume
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+batch.ID+"/consume",
		map[string]interface{}{"quantity": 4}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("consume failed: %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["remaining_qty"].(float64) != 6 {
		t.Fatalf("expected remaining 6, got %v", data["remaining_qty"])
	}
	if data["status"] != entity.BatchStatusAvailable {
		t.Fatalf("partially consumed batch should stay AVAILABLE, got %v", data["status"])
	}

	// Consuming the rest hits the terminal state
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+batch.ID+"/consume",
		map[string]interface{}{"quantity": 6}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("consume failed: %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != entity.BatchStatusConsumed {
		t.Fatalf("fully consumed batch should be CONSUMED, got %v", data["status"])
	}

	// Terminal state rejects further operations, state unchanged
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+batch.ID+"/consume",
		map[string]interface{}{"quantity": 1}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on consumed batch, got %d", w.Code)
	}

	var reloaded entity.Batch
	if err := env.DB.First(&reloaded, "id = ?", batch.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != entity.BatchStatusConsumed || reloaded.RemainingQty != 0 {
		t.Fatalf("rejected operation must not change state: %+v", reloaded)
	}
}

// TestBatchConsumeInsufficient tests over-consumption rejection
func TestBatchConsumeInsufficient(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()

	batch := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9002",
		MaterialRef: "OAK-TABLE",
		Quantity:    5,
		Unit:        "pcs",
		CreatedBy:   "test-user",
	})

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+batch.ID+"/consume",
		map[string]interface{}{"quantity": 6}, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 42203 {
		t.Fatalf("expected code 42203, got %v", resp["code"])
	}

	var reloaded entity.Batch
	env.DB.First(&reloaded, "id = ?", batch.ID)
	if reloaded.RemainingQty != 5 {
		t.Fatalf("failed consume must not change remaining quantity: %v", reloaded.RemainingQty)
	}
}

// TestBatchRejectAndScrap tests the quality rejection and scrap paths
func TestBatchRejectAndScrap(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()

	pending := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9003",
		MaterialRef: "OAK-TABLE",
		Quantity:    8,
		Unit:        "pcs",
		Status:      entity.BatchStatusQualityPending,
		CreatedBy:   "test-user",
	})

	// Reject requires a reason
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+pending.ID+"/reject",
		map[string]interface{}{}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+pending.ID+"/reject",
		map[string]interface{}{"reason": "尺寸超差"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("reject failed: %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != entity.BatchStatusScrapped {
		t.Fatalf("rejected batch should be SCRAPPED, got %v", data["status"])
	}
	if data["remaining_qty"].(float64) != 0 {
		t.Fatalf("rejected batch should have zero remaining, got %v", data["remaining_qty"])
	}

	// Partial scrap of an available batch
	avail := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9004",
		MaterialRef: "OAK-TABLE",
		Quantity:    10,
		Unit:        "pcs",
		CreatedBy:   "test-user",
	})
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+avail.ID+"/scrap",
		map[string]interface{}{"quantity": 3, "reason": "表面划伤"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("scrap failed: %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["remaining_qty"].(float64) != 7 || data["status"] != entity.BatchStatusAvailable {
		t.Fatalf("partial scrap should keep batch AVAILABLE with remaining 7: %v", data)
	}
}

// TestBatchListFilters tests the list endpoint filters
func TestBatchListFilters(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()

	testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9005",
		MaterialRef: "OAK-TABLE",
		Quantity:    1, Unit: "pcs", CreatedBy: "test-user",
	})
	testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-9006",
		MaterialRef: "PINE-CHAIR",
		Quantity:    1, Unit: "pcs",
		Status:      entity.BatchStatusQualityPending,
		CreatedBy:   "test-user",
	})

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches?status=QUALITY_PENDING", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total"].(float64) != 1 {
		t.Fatalf("expected 1 pending batch, got %v", data["total"])
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches?material_ref=OAK-TABLE", nil, token)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total"].(float64) != 1 {
		t.Fatalf("expected 1 oak batch, got %v", data["total"])
	}
}

// TestBatchAuthRequired tests that the API rejects unauthenticated requests
func TestBatchAuthRequired(t *testing.T) {
	env := setupMESTest(t)
	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}
