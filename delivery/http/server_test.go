package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/infrastructure/database"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
	"github.com/shelfwise/action-engine/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubCommerce stands in for both the catalog and the commerce gateway.
// Every mutation succeeds and reports a fixed impact.
type stubCommerce struct {
	skus map[string]service.SKUSnapshot
}

func newStubCommerce() *stubCommerce {
	return &stubCommerce{
		skus: map[string]service.SKUSnapshot{
			"SKU-1": {SKU: "SKU-1", Name: "Widget", Price: 20, Currency: "USD", Quantity: 100},
		},
	}
}

func (s *stubCommerce) GetSKU(_ context.Context, sku string) (*service.SKUSnapshot, error) {
	snapshot, ok := s.skus[sku]
	if !ok {
		return nil, fmt.Errorf("sku %s not found", sku)
	}
	return &snapshot, nil
}

func (s *stubCommerce) result() (*service.ChangeResult, error) {
	impact := 10.0
	return &service.ChangeResult{
		ActualImpact:    &impact,
		AffectedSystems: []string{"commerce"},
	}, nil
}

func (s *stubCommerce) ApplyPriceChange(context.Context, string, float64) (*service.ChangeResult, error) {
	return s.result()
}

func (s *stubCommerce) ApplyStockChange(context.Context, string, int, string) (*service.ChangeResult, error) {
	return s.result()
}

func (s *stubCommerce) ApplyDiscountChange(context.Context, string, float64) (*service.ChangeResult, error) {
	return s.result()
}

func (s *stubCommerce) LaunchCampaign(context.Context, string, *entity.LaunchCampaignPayload) (*service.ChangeResult, error) {
	return s.result()
}

func (s *stubCommerce) CancelCampaign(context.Context, string) (*service.ChangeResult, error) {
	return s.result()
}

func newTestServer(t *testing.T) *ActionEngineHTTPServer {
	t.Helper()

	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("http_test")
	commerce := newStubCommerce()

	actions := database.NewMemoryActionRepository()
	approvals := database.NewMemoryApprovalRepository()
	batches := database.NewMemoryBatchRepository()
	rules := database.NewMemoryRuleRepository()
	audits := database.NewMemoryAuditRepository()

	ledger := usecase.NewAuditLedger(audits, nil, logger, collector)
	slots := usecase.NewBatchSlotRegistry()
	accountant := usecase.NewBatchAccountant(batches, actions, ledger, slots, logger, collector)
	validator := usecase.NewValidationEngine(rules, commerce, logger, collector)
	classifier := usecase.NewRiskClassifier(usecase.DefaultRiskConfig())
	locks := usecase.NewSKULockRegistry()
	executor := usecase.NewExecutor(actions, commerce, commerce, locks, ledger, logger, collector, 0)
	gate := usecase.NewApprovalGate(approvals, actions, ledger, accountant, logger, collector, usecase.ApprovalGateConfig{})
	pipeline := usecase.NewActionPipeline(validator, classifier, gate, executor, actions, ledger, accountant, slots, logger, collector)
	orchestrator := usecase.NewBatchOrchestrator(pipeline, batches, accountant, slots, ledger, logger, collector)
	rollbacks := usecase.NewRollbackManager(actions, commerce, commerce, locks, ledger, logger, collector)

	return NewActionEngineHTTPServer(
		pipeline, orchestrator, rollbacks,
		actions, batches, approvals, audits,
		nil, logger, collector, DefaultServerConfig(),
	)
}

func doJSON(t *testing.T, server *ActionEngineHTTPServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.GetRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func executeBody(overrides func(map[string]interface{})) map[string]interface{} {
	body := map[string]interface{}{
		"user_id":     "0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55",
		"action_type": "price_update",
		"target_sku":  "SKU-1",
		"payload": map[string]interface{}{
			"price_update": map[string]interface{}{
				"target_sku": "SKU-1",
				"new_price":  21.0,
			},
		},
		"confidence_score": 0.9,
		"initiated_by":     "pricing-bot",
	}
	if overrides != nil {
		overrides(body)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "action-engine", body["service"])
}

func TestExecuteActionRequiresUser(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(func(b map[string]interface{}) {
		delete(b, "user_id")
	}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExecuteActionValidationFailure(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(func(b map[string]interface{}) {
		b["payload"] = map[string]interface{}{
			"price_update": map[string]interface{}{
				"target_sku": "SKU-1",
				"new_price":  0.0,
			},
		}
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "validation failed", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestExecuteActionCompletes(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "completed", body["status"])
	require.NotNil(t, body["action"])
	assert.NotNil(t, body["change"])
}

func TestExecuteActionParkedForApproval(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(func(b map[string]interface{}) {
		b["expected_impact"] = 5000.0
	}))

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "requires_approval", body["status"])
	require.NotNil(t, body["approval"])
}

func TestResolveApprovalAndConflictOnSecondResolve(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(func(b map[string]interface{}) {
		b["expected_impact"] = 5000.0
	}))
	require.Equal(t, http.StatusAccepted, w.Code)
	approval := decodeBody(t, w)["approval"].(map[string]interface{})
	approvalID := approval["id"].(string)

	resolve := map[string]interface{}{
		"decision":    "approve",
		"approver_id": "5f0a6b6e-9a7c-44d2-8f07-3f0d1f9f7f10",
		"notes":       "reviewed",
	}

	w = doJSON(t, server, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve", resolve)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeBody(t, w)["status"])

	w = doJSON(t, server, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve", resolve)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveApprovalRejectsUnknownDecision(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/approvals/0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55/resolve", map[string]interface{}{
		"decision":    "maybe",
		"approver_id": "5f0a6b6e-9a7c-44d2-8f07-3f0d1f9f7f10",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetActionNotFound(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/api/v1/actions/0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetActionAndAuditTrail(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(nil))
	require.Equal(t, http.StatusOK, w.Code)
	action := decodeBody(t, w)["action"].(map[string]interface{})
	actionID := action["id"].(string)

	w = doJSON(t, server, http.MethodGet, "/api/v1/actions/"+actionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/v1/actions/"+actionID+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trail := decodeBody(t, w)
	assert.Equal(t, actionID, trail["action_id"])
	assert.NotZero(t, trail["count"])
}

func TestRollbackCompletedAction(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(nil))
	require.Equal(t, http.StatusOK, w.Code)
	action := decodeBody(t, w)["action"].(map[string]interface{})
	actionID := action["id"].(string)

	rollback := map[string]interface{}{
		"action_id":    actionID,
		"reason":       "price mistake",
		"initiated_by": "ops",
	}

	w = doJSON(t, server, http.MethodPost, "/api/v1/actions/rollback", rollback)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rolled_back", decodeBody(t, w)["status"])

	// a second rollback of the same action is a caller error
	w = doJSON(t, server, http.MethodPost, "/api/v1/actions/rollback", rollback)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollbackNonCompletedActionIsBadRequest(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/execute", executeBody(func(b map[string]interface{}) {
		b["expected_impact"] = 5000.0
	}))
	require.Equal(t, http.StatusAccepted, w.Code)
	action := decodeBody(t, w)["action"].(map[string]interface{})

	w = doJSON(t, server, http.MethodPost, "/api/v1/actions/rollback", map[string]interface{}{
		"action_id":    action["id"].(string),
		"reason":       "changed my mind",
		"initiated_by": "ops",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollbackRequiresInitiator(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/rollback", map[string]interface{}{
		"action_id": "0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunBatchAccepted(t *testing.T) {
	server := newTestServer(t)

	body := map[string]interface{}{
		"user_id":    "0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55",
		"batch_name": "repricing wave",
		"actions": []map[string]interface{}{
			executeBody(func(b map[string]interface{}) { delete(b, "user_id") }),
			executeBody(func(b map[string]interface{}) { delete(b, "user_id") }),
		},
	}

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/batch", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeBody(t, w)
	batch := resp["batch"].(map[string]interface{})
	assert.Equal(t, float64(2), batch["total_actions"])

	batchID := batch["id"].(string)
	w = doJSON(t, server, http.MethodGet, "/api/v1/batches/"+batchID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunBatchRejectsEmptyActions(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/actions/batch", map[string]interface{}{
		"user_id":    "0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55",
		"batch_name": "empty",
		"actions":    []map[string]interface{}{},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProposalsUnavailableWithoutProvider(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/api/v1/insights/proposals?user_id=0c8ef9c1-2f4a-4f36-b9a8-7d9f0a2e1c55", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
