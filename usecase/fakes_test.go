package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/infrastructure/database"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// fakeCatalog serves canned SKU snapshots
type fakeCatalog struct {
	mu   sync.Mutex
	skus map[string]service.SKUSnapshot
	err  error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{skus: make(map[string]service.SKUSnapshot)}
}

func (c *fakeCatalog) put(snapshot service.SKUSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skus[snapshot.SKU] = snapshot
}

func (c *fakeCatalog) GetSKU(ctx context.Context, sku string) (*service.SKUSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	snapshot, ok := c.skus[sku]
	if !ok {
		return nil, fmt.Errorf("sku %s not found", sku)
	}
	out := snapshot
	return &out, nil
}

type priceCall struct {
	SKU   string
	Price float64
}

type stockCall struct {
	SKU      string
	Quantity int
	Supplier string
}

type discountCall struct {
	SKU string
	Pct float64
}

// fakeGateway records every mutation it receives and can be told to
// fail. It also tracks how many calls run at once so concurrency bounds
// can be asserted.
type fakeGateway struct {
	mu            sync.Mutex
	priceCalls    []priceCall
	stockCalls    []stockCall
	discountCalls []discountCall
	launched      []string
	cancelled     []string

	failWith error
	impact   *float64
	delay    time.Duration

	inFlight    int32
	maxInFlight int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (g *fakeGateway) enter() {
	current := atomic.AddInt32(&g.inFlight, 1)
	for {
		max := atomic.LoadInt32(&g.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&g.maxInFlight, max, current) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
}

func (g *fakeGateway) exit() {
	atomic.AddInt32(&g.inFlight, -1)
}

func (g *fakeGateway) result() (*service.ChangeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return nil, g.failWith
	}
	return &service.ChangeResult{
		ActualImpact:    g.impact,
		AffectedSystems: []string{"commerce"},
		SyncStatus:      map[string]string{"commerce": entity.SyncStatusSynced},
		ExternalRefs:    map[string]string{},
	}, nil
}

func (g *fakeGateway) ApplyPriceChange(ctx context.Context, sku string, newPrice float64) (*service.ChangeResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	g.priceCalls = append(g.priceCalls, priceCall{SKU: sku, Price: newPrice})
	g.mu.Unlock()
	return g.result()
}

func (g *fakeGateway) ApplyStockChange(ctx context.Context, sku string, quantity int, supplierID string) (*service.ChangeResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	g.stockCalls = append(g.stockCalls, stockCall{SKU: sku, Quantity: quantity, Supplier: supplierID})
	g.mu.Unlock()
	return g.result()
}

func (g *fakeGateway) ApplyDiscountChange(ctx context.Context, sku string, discountPct float64) (*service.ChangeResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	g.discountCalls = append(g.discountCalls, discountCall{SKU: sku, Pct: discountPct})
	g.mu.Unlock()
	return g.result()
}

func (g *fakeGateway) LaunchCampaign(ctx context.Context, campaignID string, payload *entity.LaunchCampaignPayload) (*service.ChangeResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	g.launched = append(g.launched, campaignID)
	g.mu.Unlock()
	return g.result()
}

func (g *fakeGateway) CancelCampaign(ctx context.Context, campaignID string) (*service.ChangeResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	g.cancelled = append(g.cancelled, campaignID)
	g.mu.Unlock()
	return g.result()
}

func (g *fakeGateway) lastPriceCall() (priceCall, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.priceCalls) == 0 {
		return priceCall{}, false
	}
	return g.priceCalls[len(g.priceCalls)-1], true
}

// testRig assembles the whole engine on memory repositories
type testRig struct {
	actions   *database.MemoryActionRepository
	approvals *database.MemoryApprovalRepository
	batches   *database.MemoryBatchRepository
	rules     *database.MemoryRuleRepository
	audits    *database.MemoryAuditRepository

	catalog *fakeCatalog
	gateway *fakeGateway

	ledger       *AuditLedger
	validator    *ValidationEngine
	classifier   *RiskClassifier
	locks        *SKULockRegistry
	slots        *BatchSlotRegistry
	executor     *Executor
	gate         *ApprovalGate
	accountant   *BatchAccountant
	rollbacks    *RollbackManager
	pipeline     *ActionPipeline
	orchestrator *BatchOrchestrator
}

func newTestRig() *testRig {
	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("test")

	rig := &testRig{
		actions:   database.NewMemoryActionRepository(),
		approvals: database.NewMemoryApprovalRepository(),
		batches:   database.NewMemoryBatchRepository(),
		rules:     database.NewMemoryRuleRepository(),
		audits:    database.NewMemoryAuditRepository(),
		catalog:   newFakeCatalog(),
		gateway:   newFakeGateway(),
	}

	rig.catalog.put(service.SKUSnapshot{SKU: "SKU-1", Name: "Widget", Price: 20, Currency: "USD", Quantity: 100, DiscountPct: 0})
	rig.catalog.put(service.SKUSnapshot{SKU: "SKU-2", Name: "Gadget", Price: 50, Currency: "USD", Quantity: 40, DiscountPct: 10})
	rig.catalog.put(service.SKUSnapshot{SKU: "SKU-3", Name: "Gizmo", Price: 5, Currency: "USD", Quantity: 500, DiscountPct: 0})

	rig.ledger = NewAuditLedger(rig.audits, nil, logger, collector)
	rig.slots = NewBatchSlotRegistry()
	rig.accountant = NewBatchAccountant(rig.batches, rig.actions, rig.ledger, rig.slots, logger, collector)
	rig.validator = NewValidationEngine(rig.rules, rig.catalog, logger, collector)
	rig.classifier = NewRiskClassifier(DefaultRiskConfig())
	rig.locks = NewSKULockRegistry()
	rig.executor = NewExecutor(rig.actions, rig.catalog, rig.gateway, rig.locks, rig.ledger, logger, collector, 0)
	rig.gate = NewApprovalGate(rig.approvals, rig.actions, rig.ledger, rig.accountant, logger, collector, ApprovalGateConfig{
		TTL:              time.Hour,
		ReminderInterval: 10 * time.Minute,
		SweepInterval:    time.Minute,
	})
	rig.rollbacks = NewRollbackManager(rig.actions, rig.gateway, rig.catalog, rig.locks, rig.ledger, logger, collector)
	rig.pipeline = NewActionPipeline(rig.validator, rig.classifier, rig.gate, rig.executor, rig.actions, rig.ledger, rig.accountant, rig.slots, logger, collector)
	rig.orchestrator = NewBatchOrchestrator(rig.pipeline, rig.batches, rig.accountant, rig.slots, rig.ledger, logger, collector)

	return rig
}

// priceRequest builds a low-risk price update against SKU-1
func priceRequest(userID uuid.UUID, sku string, newPrice float64) *entity.ActionRequest {
	return &entity.ActionRequest{
		UserID:     userID,
		ActionType: entity.ActionTypePriceUpdate,
		TargetSKU:  sku,
		Payload: entity.ActionPayload{
			PriceUpdate: &entity.PriceUpdatePayload{TargetSKU: sku, NewPrice: newPrice, Currency: "USD"},
		},
		Reason:          "seasonal adjustment",
		ExpectedImpact:  50,
		ConfidenceScore: 0.9,
		InitiatedBy:     "tester",
	}
}

func reorderRequest(userID uuid.UUID, sku string, quantity int) *entity.ActionRequest {
	return &entity.ActionRequest{
		UserID:     userID,
		ActionType: entity.ActionTypeReorderStock,
		TargetSKU:  sku,
		Payload: entity.ActionPayload{
			ReorderStock: &entity.ReorderStockPayload{TargetSKU: sku, Quantity: quantity, SupplierID: "SUP-9"},
		},
		Reason:          "stock running low",
		ExpectedImpact:  100,
		ConfidenceScore: 0.8,
		InitiatedBy:     "tester",
	}
}

func campaignRequest(userID uuid.UUID, name string, skus []string) *entity.ActionRequest {
	return &entity.ActionRequest{
		UserID:     userID,
		ActionType: entity.ActionTypeLaunchCampaign,
		TargetSKUs: skus,
		Payload: entity.ActionPayload{
			LaunchCampaign: &entity.LaunchCampaignPayload{CampaignName: name, TargetSKUs: skus, Budget: 200, DurationDays: 7},
		},
		Reason:          "clear overstock",
		ExpectedImpact:  200,
		ConfidenceScore: 0.85,
		InitiatedBy:     "tester",
	}
}
