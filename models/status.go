package models

// Order fulfillment statuses.
const (
	OrderPlaced    = "Placed"
	OrderConfirmed = "Confirmed"
	OrderPreparing = "Preparing"
	OrderShipped   = "Shipped"
	OrderDelivered = "Delivered"
	OrderClosed    = "Closed"
	OrderCancelled = "Cancelled"
)

// Cancellation is only reachable before shipment; a shipped or delivered
// order has to go through the dispute path instead.
var orderTransitions = map[string][]string{
	OrderPlaced:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderPreparing, OrderCancelled},
	OrderPreparing: {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered},
	OrderDelivered: {OrderClosed},
}

func CanOrderTransition(from, to string) bool {
	return canTransition(orderTransitions, from, to)
}

func OrderTerminal(status string) bool {
	return status == OrderClosed || status == OrderCancelled
}

// RFQ negotiation statuses. The proforma branch extends Accepted for RFQ
// types that require a deposit before production starts.
const (
	RFQDraft          = "Draft"
	RFQPublished      = "Published"
	RFQOffersReceived = "OffersReceived"
	RFQAccepted       = "Accepted"
	RFQProformaSent   = "ProformaSent"
	RFQDepositPending = "DepositPending"
	RFQInProduction   = "InProduction"
	RFQCompleted      = "Completed"
	RFQCancelled      = "Cancelled"
	RFQExpired        = "Expired"
)

var rfqTransitions = map[string][]string{
	RFQDraft:          {RFQPublished, RFQCancelled},
	RFQPublished:      {RFQOffersReceived, RFQCancelled, RFQExpired},
	RFQOffersReceived: {RFQAccepted, RFQCancelled, RFQExpired},
	RFQAccepted:       {RFQProformaSent, RFQCompleted},
	RFQProformaSent:   {RFQDepositPending},
	RFQDepositPending: {RFQInProduction},
	RFQInProduction:   {RFQCompleted},
}

func CanRFQTransition(from, to string) bool {
	return canTransition(rfqTransitions, from, to)
}

func RFQTerminal(status string) bool {
	return status == RFQCompleted || status == RFQCancelled || status == RFQExpired
}

// RFQOpenForOffers reports whether sellers may still submit offers.
func RFQOpenForOffers(status string) bool {
	return status == RFQPublished || status == RFQOffersReceived
}

// Offer statuses.
const (
	OfferActive     = "Active"
	OfferWithdrawn  = "Withdrawn"
	OfferWinning    = "Winning"
	OfferNonWinning = "NonWinning"
)

// Dispute statuses. A dispute is created directly in AwaitingResponse; the
// counterparty has until the response deadline before the sweep times it out.
const (
	DisputeAwaitingResponse  = "AwaitingResponse"
	DisputeResponded         = "CounterpartyResponded"
	DisputeTimedOut          = "ResponseTimedOut"
	DisputeMediationProposed = "MediationProposed"
	DisputeResolved          = "Resolved"
	DisputeWithdrawn         = "Withdrawn"
)

var disputeTransitions = map[string][]string{
	DisputeAwaitingResponse:  {DisputeResponded, DisputeTimedOut, DisputeWithdrawn},
	DisputeResponded:         {DisputeMediationProposed, DisputeWithdrawn},
	DisputeTimedOut:          {DisputeMediationProposed, DisputeResolved},
	DisputeMediationProposed: {DisputeResolved},
}

func CanDisputeTransition(from, to string) bool {
	return canTransition(disputeTransitions, from, to)
}

func DisputeFinal(status string) bool {
	return status == DisputeResolved || status == DisputeWithdrawn
}

// Ledger entry kinds and statuses.
const (
	EntrySale       = "Sale"
	EntryCommission = "Commission"
	EntryPayout     = "Payout"
	EntryHold       = "Hold"
	EntryRelease    = "Release"
	EntryRefund     = "Refund"

	EntryPending    = "Pending"
	EntryProcessing = "Processing"
	EntryCompleted  = "Completed"
	EntryFailed     = "Failed"
)

// Notification priorities.
const (
	PriorityUrgent = "urgent"
	PriorityNormal = "normal"
	PriorityInfo   = "info"
)

func canTransition(table map[string][]string, from, to string) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
