package dispute

import "fmt"

// Resolution is the arbitrator's terminal ruling.
type Resolution string

const (
	// ResolutionRefund returns the funds to the buyer; the order is cancelled.
	ResolutionRefund Resolution = "refund"
	// ResolutionRelease pays the seller out; the order is completed.
	ResolutionRelease Resolution = "release"
)

// Valid reports whether the resolution is one of the two rulings.
func (r Resolution) Valid() bool {
	return r == ResolutionRefund || r == ResolutionRelease
}

// Disputed is the order snapshot the adjudicator rules on.
type Disputed struct {
	ID       string
	BuyerID  string
	SellerID string
	Amount   int64
	Resolved bool
}

// SupportContext tags the direct conversations the adjudicator notifies through.
const SupportContext = "support"

// rulingNotice formats the system message both participants receive.
func rulingNotice(orderID string, resolution Resolution, note string) string {
	verdict := "the funds have been returned to the buyer"
	if resolution == ResolutionRelease {
		verdict = "the funds have been released to the seller"
	}
	msg := fmt.Sprintf("Dispute on order %s has been resolved: %s.", orderID, verdict)
	if note != "" {
		msg += " Arbitrator note: " + note
	}
	return msg
}
