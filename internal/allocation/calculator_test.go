package allocation

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stanstork/stockflow-api/internal/models"
)

type pagedReceipts struct {
	receipts []models.Receipt
	failPage int
	maxLimit int // server-side cap on the page size, 0 for none
	calls    int
}

func (p *pagedReceipts) ListReceipts(_ context.Context, orderID string, page, limit int) (models.ReceiptPage, error) {
	p.calls++
	if p.failPage > 0 && page == p.failPage {
		return models.ReceiptPage{}, errors.New("connection reset")
	}
	if p.maxLimit > 0 && limit > p.maxLimit {
		limit = p.maxLimit
	}
	start := (page - 1) * limit
	if start > len(p.receipts) {
		start = len(p.receipts)
	}
	end := start + limit
	if end > len(p.receipts) {
		end = len(p.receipts)
	}
	return models.ReceiptPage{Receipts: p.receipts[start:end], Page: page, Limit: limit}, nil
}

// endlessReceipts always answers with a full page.
type endlessReceipts struct{ calls int }

func (e *endlessReceipts) ListReceipts(_ context.Context, orderID string, page, limit int) (models.ReceiptPage, error) {
	e.calls++
	out := make([]models.Receipt, limit)
	for i := range out {
		out[i] = outbound(fmt.Sprintf("r-%d-%d", page, i), orderID, models.ReceiptStatusApproved, record("P1", "1"))
	}
	return models.ReceiptPage{Receipts: out, Page: page, Limit: limit}, nil
}

type staticOrders map[string]models.Order

func (s staticOrders) GetOrder(_ context.Context, orderID string) (models.Order, error) {
	order, ok := s[orderID]
	if !ok {
		return models.Order{}, errors.New("order not found")
	}
	return order, nil
}

func record(productID, qty string) models.AllocationRecord {
	return models.AllocationRecord{ProductID: productID, RequestedQuantity: decimal.RequireFromString(qty)}
}

func outbound(id, orderID string, status models.ReceiptStatus, items ...models.AllocationRecord) models.Receipt {
	return models.Receipt{
		ID:        id,
		OrderID:   orderID,
		Direction: models.ReceiptDirectionOutbound,
		Status:    status,
		Items:     items,
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRemainingExample(t *testing.T) {
	receipts := &pagedReceipts{receipts: []models.Receipt{
		outbound("r1", "O1", models.ReceiptStatusApproved, record("P1", "4")),
		outbound("r2", "O1", models.ReceiptStatusCancelled, record("P1", "3")),
		outbound("r3", "O1", models.ReceiptStatusApproved, record("P1", "2")),
	}}
	orders := staticOrders{"O1": {ID: "O1", Items: []models.OrderLineItem{
		{ProductID: "P1", OrderedQuantity: d("10")},
	}}}
	calc := NewCalculator(receipts, orders, Options{PageSize: 2, MaxPages: 10}, zerolog.Nop())

	report, err := calc.Remaining(context.Background(), "O1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if !report.Complete {
		t.Fatal("report marked incomplete")
	}
	if len(report.Lines) != 1 {
		t.Fatalf("lines = %+v", report.Lines)
	}
	line := report.Lines[0]
	if !line.Exported.Equal(d("6")) || !line.Remaining.Equal(d("4")) || !line.Outstanding.Equal(d("4")) {
		t.Fatalf("line = exported %s remaining %s outstanding %s, want 6/4/4", line.Exported, line.Remaining, line.Outstanding)
	}
	if receipts.calls != 2 {
		t.Fatalf("pages fetched = %d, want 2", receipts.calls)
	}
}

func TestExportedFollowsServerCappedPages(t *testing.T) {
	var all []models.Receipt
	for i := 0; i < 5; i++ {
		all = append(all, outbound(fmt.Sprintf("r%d", i), "O1", models.ReceiptStatusApproved, record("P1", "1")))
	}
	receipts := &pagedReceipts{receipts: all, maxLimit: 2}
	calc := NewCalculator(receipts, staticOrders{}, Options{PageSize: 4, MaxPages: 10}, zerolog.Nop())

	agg, err := calc.Exported(context.Background(), "O1")
	if err != nil {
		t.Fatalf("Exported: %v", err)
	}
	if !agg.Complete || agg.Pages != 3 {
		t.Fatalf("complete = %v pages = %d, want true and 3", agg.Complete, agg.Pages)
	}
	if got := agg.Exported("P1"); !got.Equal(d("5")) {
		t.Fatalf("exported = %s, want 5", got)
	}
}

func TestExportedSkipsForeignAndInvalidRecords(t *testing.T) {
	cancelledLine := record("P1", "5")
	cancelledLine.RecordStatus = models.ReceiptStatusCancelled
	otherOrderLine := record("P1", "7")
	otherOrderLine.OrderID = "O2"

	inbound := outbound("in", "O1", models.ReceiptStatusApproved, record("P1", "100"))
	inbound.Direction = models.ReceiptDirectionInbound

	receipts := &pagedReceipts{receipts: []models.Receipt{
		outbound("r1", "O1", models.ReceiptStatusCompleted,
			record("P1", "1.5"),
			record("  ", "9"),
			cancelledLine,
			otherOrderLine,
			record("P2", "2"),
		),
		outbound("r2", "O2", models.ReceiptStatusApproved, record("P1", "50")),
		inbound,
	}}
	calc := NewCalculator(receipts, staticOrders{}, Options{PageSize: 10, MaxPages: 5}, zerolog.Nop())

	agg, err := calc.Exported(context.Background(), "O1")
	if err != nil {
		t.Fatalf("Exported: %v", err)
	}
	if !agg.Exported("P1").Equal(d("1.5")) {
		t.Errorf("P1 = %s, want 1.5", agg.Exported("P1"))
	}
	if !agg.Exported("P2").Equal(d("2")) {
		t.Errorf("P2 = %s, want 2", agg.Exported("P2"))
	}
	if len(agg.ByProduct) != 2 {
		t.Errorf("products = %v, want only P1 and P2", agg.ByProduct)
	}
}

func TestExportedTerminatesOnNeverShortSource(t *testing.T) {
	src := &endlessReceipts{}
	calc := NewCalculator(src, staticOrders{}, Options{PageSize: 3, MaxPages: 4}, zerolog.Nop())

	agg, err := calc.Exported(context.Background(), "O1")
	if !errors.Is(err, ErrPageLimitReached) {
		t.Fatalf("err = %v, want ErrPageLimitReached", err)
	}
	if agg.Complete {
		t.Fatal("aggregate marked complete at page bound")
	}
	if src.calls != 4 {
		t.Fatalf("pages fetched = %d, want 4", src.calls)
	}
	if !agg.Exported("P1").Equal(d("12")) {
		t.Fatalf("partial P1 = %s, want 12", agg.Exported("P1"))
	}
}

func TestExportedFailureIsNotZero(t *testing.T) {
	receipts := &pagedReceipts{
		receipts: []models.Receipt{
			outbound("r1", "O1", models.ReceiptStatusApproved, record("P1", "1")),
			outbound("r2", "O1", models.ReceiptStatusApproved, record("P1", "1")),
		},
		failPage: 2,
	}
	orders := staticOrders{"O1": {ID: "O1", Items: []models.OrderLineItem{{ProductID: "P1", OrderedQuantity: d("3")}}}}
	calc := NewCalculator(receipts, orders, Options{PageSize: 1, MaxPages: 10}, zerolog.Nop())

	report, err := calc.Remaining(context.Background(), "O1")
	if !errors.Is(err, ErrAggregationFailed) {
		t.Fatalf("err = %v, want ErrAggregationFailed", err)
	}
	var pageErr *PageError
	if !errors.As(err, &pageErr) || pageErr.Page != 2 {
		t.Fatalf("err = %v, want a PageError for page 2", err)
	}
	if report.Complete {
		t.Fatal("failed report marked complete")
	}
}

func TestRemainingOverAllocationAndExtraProducts(t *testing.T) {
	receipts := &pagedReceipts{receipts: []models.Receipt{
		outbound("r1", "O1", models.ReceiptStatusApproved, record("P1", "8"), record("P9", "1")),
	}}
	orders := staticOrders{"O1": {ID: "O1", Items: []models.OrderLineItem{
		{ProductID: "P1", OrderedQuantity: d("5")},
		{ProductID: "P2", OrderedQuantity: d("4")},
	}}}
	calc := NewCalculator(receipts, orders, Options{PageSize: 10, MaxPages: 5}, zerolog.Nop())

	report, err := calc.Remaining(context.Background(), "O1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}

	tests := []struct {
		product     string
		remaining   string
		outstanding string
		over        bool
	}{
		{"P1", "-3", "0", true},
		{"P2", "4", "4", false},
		{"P9", "-1", "0", true},
	}
	if len(report.Lines) != len(tests) {
		t.Fatalf("lines = %d, want %d", len(report.Lines), len(tests))
	}
	for i, tt := range tests {
		line := report.Lines[i]
		if line.ProductID != tt.product {
			t.Errorf("line %d product = %s, want %s", i, line.ProductID, tt.product)
			continue
		}
		if !line.Remaining.Equal(d(tt.remaining)) || !line.Outstanding.Equal(d(tt.outstanding)) || line.OverAllocated != tt.over {
			t.Errorf("%s: remaining %s outstanding %s over %v", tt.product, line.Remaining, line.Outstanding, line.OverAllocated)
		}
	}
}

func TestRemainingUnknownOrder(t *testing.T) {
	calc := NewCalculator(&pagedReceipts{}, staticOrders{}, Options{}, zerolog.Nop())
	if _, err := calc.Remaining(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown order")
	}
}
