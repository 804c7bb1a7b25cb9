package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

// TestBatchSplit tests splitting an available batch into child batches
func TestBatchSplit(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	parent := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8001",
		MaterialRef: "OAK-TABLE",
		Quantity:    10,
		Unit:        "pcs",
		CreatedBy:   "test-user",
	})

	body := map[string]interface{}{
		"portions": []map[string]interface{}{
			{"quantity": 4},
			{"quantity": 5},
		},
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+parent.ID+"/split", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("split failed: %d: %s", w.Code, w.Body.String())
	}
	children := testutil.ParseResponse(w)["data"].(map[string]interface{})["children"].([]interface{})
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	for _, c := range children {
		child := c.(map[string]interface{})
		if child["status"] != entity.BatchStatusAvailable {
			t.Fatalf("child batch should be AVAILABLE, got %v", child["status"])
		}
		if child["material_ref"] != "OAK-TABLE" {
			t.Fatalf("child batch should inherit material, got %v", child["material_ref"])
		}
	}

	// Parent is now a terminal SPLIT batch with zero remaining
	var reloaded entity.Batch
	if err := env.DB.First(&reloaded, "id = ?", parent.ID).Error; err != nil {
		t.Fatalf("reload parent: %v", err)
	}
	if reloaded.Status != entity.BatchStatusSplit || reloaded.RemainingQty != 0 {
		t.Fatalf("parent should be SPLIT with zero remaining: %+v", reloaded)
	}

	// Genealogy edges recorded for both children
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/"+parent.ID+"/genealogy", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("genealogy failed: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	childEdges := data["child_edges"].([]interface{})
	if len(childEdges) != 2 {
		t.Fatalf("expected 2 child edges, got %d", len(childEdges))
	}
	if childEdges[0].(map[string]interface{})["edge_type"] != entity.EdgeTypeSplit {
		t.Fatalf("expected SPLIT edge, got %v", childEdges[0])
	}
}

// TestBatchSplitConservation tests that over-allocating portions is rejected
func TestBatchSplitConservation(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	parent := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8002",
		MaterialRef: "OAK-TABLE",
		Quantity:    10,
		Unit:        "pcs",
		CreatedBy:   "test-user",
	})

	body := map[string]interface{}{
		"portions": []map[string]interface{}{
			{"quantity": 6},
			{"quantity": 5},
		},
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+parent.ID+"/split", body, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 42202 {
		t.Fatalf("expected code 42202, got %v", resp["code"])
	}

	// Nothing changed
	var reloaded entity.Batch
	env.DB.First(&reloaded, "id = ?", parent.ID)
	if reloaded.Status != entity.BatchStatusAvailable || reloaded.RemainingQty != 10 {
		t.Fatalf("failed split must not change parent: %+v", reloaded)
	}
	var count int64
	env.DB.Model(&entity.GenealogyEdge{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed split must not create edges, got %d", count)
	}
}

// TestBatchSplitPendingRejected tests that a quality pending batch cannot be split
func TestBatchSplitPendingRejected(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	pending := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8003",
		MaterialRef: "OAK-TABLE",
		Quantity:    10,
		Unit:        "pcs",
		Status:      entity.BatchStatusQualityPending,
		CreatedBy:   "test-user",
	})

	body := map[string]interface{}{
		"portions": []map[string]interface{}{{"quantity": 5}},
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+pending.ID+"/split", body, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// TestBatchMerge tests merging available batches of the same material
func TestBatchMerge(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	a := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8004",
		MaterialRef: "OAK-TABLE", Quantity: 4, Unit: "pcs", CreatedBy: "test-user",
	})
	b := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8005",
		MaterialRef: "OAK-TABLE", Quantity: 6, Unit: "pcs", CreatedBy: "test-user",
	})

	body := map[string]interface{}{"batch_ids": []string{a.ID, b.ID}}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/merge", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("merge failed: %d: %s", w.Code, w.Body.String())
	}
	merged := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if merged["quantity"].(float64) != 10 || merged["remaining_qty"].(float64) != 10 {
		t.Fatalf("merged quantity should be the sum of sources: %v", merged)
	}
	if merged["status"] != entity.BatchStatusAvailable {
		t.Fatalf("merged batch should be AVAILABLE, got %v", merged["status"])
	}

	// Sources moved to the MERGED terminal state
	for _, src := range []string{a.ID, b.ID} {
		var reloaded entity.Batch
		env.DB.First(&reloaded, "id = ?", src)
		if reloaded.Status != entity.BatchStatusMerged {
			t.Fatalf("source %s should be MERGED, got %s", src, reloaded.Status)
		}
	}

	// Ancestors of the merged batch are exactly the two sources
	mergedID := merged["id"].(string)
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/"+mergedID+"/genealogy/ancestors", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("ancestors failed: %d", w.Code)
	}
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(items))
	}
}

// TestBatchMergeIncompatible tests that mixed materials cannot merge
func TestBatchMergeIncompatible(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	a := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8006",
		MaterialRef: "OAK-TABLE", Quantity: 4, Unit: "pcs", CreatedBy: "test-user",
	})
	b := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8007",
		MaterialRef: "PINE-CHAIR", Quantity: 6, Unit: "pcs", CreatedBy: "test-user",
	})

	body := map[string]interface{}{"batch_ids": []string{a.ID, b.ID}}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/merge", body, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 42204 {
		t.Fatalf("expected code 42204, got %v", resp["code"])
	}
}

// TestGenealogyTraversal tests multi-level ancestor and descendant traversal
func TestGenealogyTraversal(t *testing.T) {
	env := setupMESTest(t)
	token := testutil.DefaultTestToken()
	seedDefaultRule(t, env)

	root := testutil.SeedBatch(t, env.DB, &entity.Batch{
		BatchNumber: "FUR-20260210-8008",
		MaterialRef: "OAK-TABLE", Quantity: 10, Unit: "pcs", CreatedBy: "test-user",
	})

	// Split the root, then split one child again for a two-level tree
	body := map[string]interface{}{
		"portions": []map[string]interface{}{{"quantity": 4}, {"quantity": 6}},
	}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+root.ID+"/split", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("split failed: %d: %s", w.Code, w.Body.String())
	}
	children := testutil.ParseResponse(w)["data"].(map[string]interface{})["children"].([]interface{})
	childID := children[1].(map[string]interface{})["id"].(string)

	body = map[string]interface{}{
		"portions": []map[string]interface{}{{"quantity": 3}, {"quantity": 3}},
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/batches/"+childID+"/split", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("second split failed: %d: %s", w.Code, w.Body.String())
	}
	grandchildren := testutil.ParseResponse(w)["data"].(map[string]interface{})["children"].([]interface{})
	grandchildID := grandchildren[0].(map[string]interface{})["id"].(string)

	// Grandchild sees both the child and the root as ancestors
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/"+grandchildID+"/genealogy/ancestors", nil, token)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(items))
	}

	// Root sees all 4 descendants
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/batches/"+root.ID+"/genealogy/descendants", nil, token)
	items = testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 4 {
		t.Fatalf("expected 4 descendants, got %d", len(items))
	}

	// A batch is never its own ancestor
	for _, it := range items {
		if it.(map[string]interface{})["id"] == root.ID {
			t.Fatalf("root must not appear among its own descendants")
		}
	}
}
