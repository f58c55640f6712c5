package models

import "github.com/shopspring/decimal"

type ReceiptDirection string

const (
	ReceiptDirectionInbound  ReceiptDirection = "inbound"
	ReceiptDirectionOutbound ReceiptDirection = "outbound"
)

type ReceiptStatus string

const (
	ReceiptStatusDraft     ReceiptStatus = "draft"
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusApproved  ReceiptStatus = "approved"
	ReceiptStatusCompleted ReceiptStatus = "completed"
	ReceiptStatusCancelled ReceiptStatus = "cancelled"
)

// AllocationRecord is one outbound-release line tying a quantity of a
// product to an order.
type AllocationRecord struct {
	OrderID           string          `json:"orderId"`
	ProductID         string          `json:"productId"`
	RequestedQuantity decimal.Decimal `json:"requestedQuantity"`
	RecordStatus      ReceiptStatus   `json:"recordStatus,omitempty"`
}

// Receipt is a warehouse receipt carrying allocation records.
type Receipt struct {
	ID        string             `json:"id"`
	Code      string             `json:"code,omitempty"`
	OrderID   string             `json:"orderId"`
	Direction ReceiptDirection   `json:"direction,omitempty"`
	Status    ReceiptStatus      `json:"status"`
	Items     []AllocationRecord `json:"items"`
}

// EffectiveStatus returns the record status, inheriting the receipt's when
// the record does not carry its own.
func (r Receipt) EffectiveStatus(rec AllocationRecord) ReceiptStatus {
	if rec.RecordStatus != "" {
		return rec.RecordStatus
	}
	return r.Status
}

// ReceiptPage is one page of GET /receipts.
type ReceiptPage struct {
	Receipts   []Receipt `json:"receipts"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"totalPages"`
}

type OrderLineItem struct {
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName,omitempty"`
	OrderedQuantity decimal.Decimal `json:"orderedQuantity"`
}

type Order struct {
	ID    string          `json:"id"`
	Code  string          `json:"code,omitempty"`
	Items []OrderLineItem `json:"items"`
}

// LineAllocation is the per-product fulfillment view of an order.
type LineAllocation struct {
	ProductID     string          `json:"productId"`
	Ordered       decimal.Decimal `json:"ordered"`
	Exported      decimal.Decimal `json:"exported"`
	Remaining     decimal.Decimal `json:"remaining"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	OverAllocated bool            `json:"overAllocated"`
}
