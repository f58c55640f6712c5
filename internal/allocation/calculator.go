package allocation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stanstork/stockflow-api/internal/models"
)

var (
	ErrAggregationFailed = errors.New("allocation aggregation failed")
	ErrPageLimitReached  = errors.New("allocation page limit reached")
)

// PageError reports the receipt page that could not be fetched. It matches
// ErrAggregationFailed and unwraps to the transport error.
type PageError struct {
	OrderID string
	Page    int
	Err     error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s: order %s page %d: %v", ErrAggregationFailed, e.OrderID, e.Page, e.Err)
}

func (e *PageError) Is(target error) bool { return target == ErrAggregationFailed }

func (e *PageError) Unwrap() error { return e.Err }

// ReceiptSource lists the receipts tied to an order, one page at a time.
type ReceiptSource interface {
	ListReceipts(ctx context.Context, orderID string, page, limit int) (models.ReceiptPage, error)
}

type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
}

// Aggregate is the exported quantity per product for one order. Complete is
// false whenever pagination stopped early, so a partial sum is never mistaken
// for the full one.
type Aggregate struct {
	OrderID   string                     `json:"orderId"`
	ByProduct map[string]decimal.Decimal `json:"byProduct"`
	Complete  bool                       `json:"complete"`
	Pages     int                        `json:"pages"`
}

// Exported returns the aggregated quantity for productID, zero when absent.
func (a Aggregate) Exported(productID string) decimal.Decimal {
	if q, ok := a.ByProduct[productID]; ok {
		return q
	}
	return decimal.Zero
}

type Report struct {
	OrderID  string                  `json:"orderId"`
	Lines    []models.LineAllocation `json:"lines"`
	Complete bool                    `json:"complete"`
}

type Options struct {
	PageSize int
	MaxPages int
}

// Calculator computes how much of each ordered product has been released on
// outbound receipts.
type Calculator struct {
	receipts ReceiptSource
	orders   OrderSource
	opts     Options
	logger   zerolog.Logger
}

func NewCalculator(receipts ReceiptSource, orders OrderSource, opts Options, logger zerolog.Logger) *Calculator {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	return &Calculator{
		receipts: receipts,
		orders:   orders,
		opts:     opts,
		logger:   logger.With().Str("component", "allocation").Logger(),
	}
}

// Exported sums requested quantities of non-cancelled outbound records for
// orderID across every receipt page. Pages are fetched one after another
// until the last page or the configured page bound.
func (c *Calculator) Exported(ctx context.Context, orderID string) (Aggregate, error) {
	agg := Aggregate{OrderID: orderID, ByProduct: make(map[string]decimal.Decimal)}

	for page := 1; page <= c.opts.MaxPages; page++ {
		resp, err := c.receipts.ListReceipts(ctx, orderID, page, c.opts.PageSize)
		if err != nil {
			c.logger.Error().Err(err).Str("order_id", orderID).Int("page", page).Msg("failed to fetch receipts page")
			return agg, &PageError{OrderID: orderID, Page: page, Err: err}
		}
		agg.Pages = page
		for _, receipt := range resp.Receipts {
			c.accumulate(agg.ByProduct, orderID, receipt)
		}
		if lastReceiptPage(resp, page, c.opts.PageSize) {
			agg.Complete = true
			return agg, nil
		}
	}

	c.logger.Warn().Str("order_id", orderID).Int("max_pages", c.opts.MaxPages).Msg("receipt pagination bound reached")
	return agg, errors.Wrapf(ErrPageLimitReached, "order %s after %d pages", orderID, c.opts.MaxPages)
}

// lastReceiptPage reports whether page is the final one. The server's
// totalPages wins when present; otherwise a page shorter than the limit the
// server applied ends the listing, since servers may cap the requested size.
func lastReceiptPage(resp models.ReceiptPage, page, requested int) bool {
	if len(resp.Receipts) == 0 {
		return true
	}
	if resp.TotalPages > 0 {
		return page >= resp.TotalPages
	}
	limit := requested
	if resp.Limit > 0 && resp.Limit < limit {
		limit = resp.Limit
	}
	return len(resp.Receipts) < limit
}

func (c *Calculator) accumulate(into map[string]decimal.Decimal, orderID string, receipt models.Receipt) {
	if receipt.Direction == models.ReceiptDirectionInbound {
		return
	}
	if receipt.OrderID != "" && receipt.OrderID != orderID {
		return
	}
	for _, rec := range receipt.Items {
		if receipt.EffectiveStatus(rec) == models.ReceiptStatusCancelled {
			continue
		}
		if rec.OrderID != "" && rec.OrderID != orderID {
			continue
		}
		productID := strings.TrimSpace(rec.ProductID)
		if productID == "" {
			c.logger.Debug().Str("receipt_id", receipt.ID).Msg("skipping allocation record without product")
			continue
		}
		into[productID] = into[productID].Add(rec.RequestedQuantity)
	}
}

// Remaining joins the order's line items with the exported aggregate. The
// report is returned alongside ErrAggregationFailed or ErrPageLimitReached
// with Complete set to false.
func (c *Calculator) Remaining(ctx context.Context, orderID string) (Report, error) {
	report := Report{OrderID: orderID}

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return report, errors.Wrapf(err, "load order %s", orderID)
	}

	agg, aggErr := c.Exported(ctx, orderID)
	report.Complete = agg.Complete && aggErr == nil

	ordered := make(map[string]decimal.Decimal)
	var productOrder []string
	for _, item := range order.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			continue
		}
		if _, seen := ordered[productID]; !seen {
			productOrder = append(productOrder, productID)
		}
		ordered[productID] = ordered[productID].Add(item.OrderedQuantity)
	}

	// Products released without being on the order still show up, ordered 0.
	var extra []string
	for productID := range agg.ByProduct {
		if _, ok := ordered[productID]; !ok {
			extra = append(extra, productID)
		}
	}
	sort.Strings(extra)
	productOrder = append(productOrder, extra...)

	for _, productID := range productOrder {
		line := lineFor(productID, ordered[productID], agg.Exported(productID))
		if line.OverAllocated {
			c.logger.Warn().
				Str("order_id", orderID).
				Str("product_id", productID).
				Str("ordered", line.Ordered.String()).
				Str("exported", line.Exported.String()).
				Msg("product over-allocated")
		}
		report.Lines = append(report.Lines, line)
	}
	return report, aggErr
}

func lineFor(productID string, ordered, exported decimal.Decimal) models.LineAllocation {
	remaining := ordered.Sub(exported)
	outstanding := remaining
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	return models.LineAllocation{
		ProductID:     productID,
		Ordered:       ordered,
		Exported:      exported,
		Remaining:     remaining,
		Outstanding:   outstanding,
		OverAllocated: remaining.IsNegative(),
	}
}
