package toss

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const orderPrefix = "stellar"

// OrderID builds the order id of a monthly charge: stellar-{tier}-{userID}-{YYYYMM}.
// The tier segment is how webhooks recover the plan.
func OrderID(t tier.Tier, userID string, period time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s", orderPrefix, t, userID, period.UTC().Format("200601"))
}

// OrderTier reads the tier segment of an order id. Anything but pro or team is pro.
func OrderTier(orderID string) tier.Tier {
	parts := strings.Split(orderID, "-")
	if len(parts) < 2 {
		return tier.Pro
	}
	switch t := tier.Tier(parts[1]); t {
	case tier.Pro, tier.Team:
		return t
	}
	return tier.Pro
}

// OrderName is the human readable label Toss shows on receipts
func OrderName(t tier.Tier) string {
	return fmt.Sprintf("Stellar %s monthly", t)
}
