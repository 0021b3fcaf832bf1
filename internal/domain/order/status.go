package order

// Status is the fulfillment stage of an order.
type Status string

const (
	// StatusWaitingPayment is the initial status of every new order.
	StatusWaitingPayment Status = "waiting_payment"
	// StatusWaitingDelivery follows a successful payment.
	StatusWaitingDelivery Status = "waiting_delivery"
	// StatusCanceled is terminal.
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaitingPayment, StatusWaitingDelivery, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
