package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// User comes from the (external) auth subsystem; we only keep what the
// engines need for role and liveness checks.
type User struct {
	ID             int       `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Role           string    `db:"role" json:"role" validate:"required,oneof=buyer seller mediator"`
	OrganizationID int       `db:"organization_id" json:"organizationId"`
	Active         bool      `db:"active" json:"active"`
	Muted          bool      `db:"muted" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"-"`
}

type OrderItem struct {
	ID        int             `db:"id" json:"id"`
	OrderID   int             `db:"order_id" json:"orderId"`
	ProductID int             `db:"product_id" json:"productId" validate:"required"`
	Quantity  int             `db:"quantity" json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

type Order struct {
	ID           int             `db:"id" json:"id"`
	BuyerID      int             `db:"buyer_id" json:"buyerId" validate:"required"`
	SellerID     int             `db:"seller_id" json:"sellerId" validate:"required"`
	Currency     string          `db:"currency" json:"currency"`
	Total        decimal.Decimal `db:"total" json:"total"`
	Status       string          `db:"status" json:"status"`
	DeliveryMode string          `db:"delivery_mode" json:"deliveryMode"`
	Category     string          `db:"category" json:"category"`
	TrackingRef  *string         `db:"tracking_ref" json:"trackingRef,omitempty"`
	Version      int             `db:"version" json:"version"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"-"`
	ShippedAt    *time.Time      `db:"shipped_at" json:"shippedAt,omitempty"`
	DeliveredAt  *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	Items        []OrderItem     `db:"-" json:"items"`
}

// ItemsTotal recomputes the order total from its line items. It must always
// equal Total; Place refuses orders where it does not.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

type RFQ struct {
	ID               int              `db:"id" json:"id"`
	BuyerID          int              `db:"buyer_id" json:"buyerId" validate:"required"`
	Type             string           `db:"type" json:"type" validate:"required,oneof=volumeBuy service customProduct variablePrice standard"`
	Description      string           `db:"description" json:"description" validate:"required,max=1000"`
	Quantity         decimal.Decimal  `db:"quantity" json:"quantity"`
	Unit             string           `db:"unit" json:"unit"`
	Zone             string           `db:"zone" json:"zone"`
	Deadline         time.Time        `db:"deadline" json:"deadline"`
	BudgetCeiling    *decimal.Decimal `db:"budget_ceiling" json:"budgetCeiling,omitempty"`
	Status           string           `db:"status" json:"status"`
	ProformaRequired bool             `db:"proforma_required" json:"proformaRequired"`
	DepositPercent   int              `db:"deposit_percent" json:"depositPercent" validate:"min=0,max=100"`
	AcceptedOfferID  *int             `db:"accepted_offer_id" json:"acceptedOfferId,omitempty"`
	OrderID          *int             `db:"order_id" json:"orderId,omitempty"`
	Version          int              `db:"version" json:"version"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time        `db:"updated_at" json:"-"`
	Offers           []Offer          `db:"-" json:"offers,omitempty"`
}

type Offer struct {
	ID           int             `db:"id" json:"id"`
	RFQID        int             `db:"rfq_id" json:"rfqId"`
	SellerID     int             `db:"seller_id" json:"sellerId" validate:"required"`
	Price        decimal.Decimal `db:"price" json:"price"`
	LeadTimeDays int             `db:"lead_time_days" json:"leadTimeDays" validate:"min=0"`
	Terms        string          `db:"terms" json:"terms" validate:"max=1000"`
	Status       string          `db:"status" json:"status"`
	SubmittedAt  time.Time       `db:"submitted_at" json:"submittedAt"`
}

type Dispute struct {
	ID                int              `db:"id" json:"id"`
	OrderID           int              `db:"order_id" json:"orderId" validate:"required"`
	OpenedBy          int              `db:"opened_by" json:"openedBy"`
	OpenerRole        string           `db:"opener_role" json:"openerRole" validate:"oneof=buyer seller"`
	Category          string           `db:"category" json:"category" validate:"required,max=100"`
	Description       string           `db:"description" json:"description" validate:"required,max=2000"`
	EvidenceRefs      pq.StringArray   `db:"evidence_refs" json:"evidenceRefs"`
	Status            string           `db:"status" json:"status"`
	ResponseDeadline  time.Time        `db:"response_deadline" json:"responseDeadline"`
	CounterStatement  *string          `db:"counter_statement" json:"counterStatement,omitempty"`
	CounterEvidence   pq.StringArray   `db:"counter_evidence" json:"counterEvidence,omitempty"`
	ProposedAmount    *decimal.Decimal `db:"proposed_amount" json:"proposedAmount,omitempty"`
	ProposalRationale *string          `db:"proposal_rationale" json:"proposalRationale,omitempty"`
	ContestRounds     int              `db:"contest_rounds" json:"contestRounds"`
	ResolutionAmount  *decimal.Decimal `db:"resolution_amount" json:"resolutionAmount,omitempty"`
	DecidedBy         *string          `db:"decided_by" json:"decidedBy,omitempty"`
	HoldEntryID       *int64           `db:"hold_entry_id" json:"holdEntryId,omitempty"`
	Version           int              `db:"version" json:"version"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"-"`
	ResolvedAt        *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
}

type LedgerEntry struct {
	ID        int64           `db:"id" json:"id"`
	SellerID  int             `db:"seller_id" json:"sellerId"`
	OrderID   *int            `db:"order_id" json:"orderId,omitempty"`
	Kind      string          `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    string          `db:"status" json:"status"`
	Reason    *string         `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// SellerBalance is never stored; it is always a fold over ledger entries.
type SellerBalance struct {
	SellerID          int             `json:"sellerId"`
	Available         decimal.Decimal `json:"available"`
	PendingSettlement decimal.Decimal `json:"pendingSettlement"`
	Held              decimal.Decimal `json:"held"`
}

type NotificationPreference struct {
	UserID    int    `db:"user_id" json:"userId"`
	EventType string `db:"event_type" json:"eventType" validate:"required,max=100"`
	Push      bool   `db:"push" json:"push"`
	Email     bool   `db:"email" json:"email"`
	SMS       bool   `db:"sms" json:"sms"`
}

type Notification struct {
	ID        int64      `db:"id" json:"id"`
	EventID   uuid.UUID  `db:"event_id" json:"eventId"`
	UserID    int        `db:"user_id" json:"userId"`
	EventType string     `db:"event_type" json:"eventType"`
	Priority  string     `db:"priority" json:"priority"`
	Payload   []byte     `db:"payload" json:"payload"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	ReadAt    *time.Time `db:"read_at" json:"readAt,omitempty"`
}
