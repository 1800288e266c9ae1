package notify

import (
	"fmt"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// FormatEvent renders a marketplace event as a notification title and body.
// Settlement-bearing events get the full fee breakdown; everything else gets
// a compact detail dump.
func FormatEvent(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventItemSold, domain.EventOrderAccepted:
		if ev.Settlement != nil {
			s := ev.Settlement
			title = fmt.Sprintf("Settled: %s #%s", shortAddr(s.NFTContract.Hex()), s.TokenID)
			message = fmt.Sprintf(
				"price %s\nseller %s\nbuyer %s\nfee %s, royalty %s, proceeds %s",
				s.Price, shortAddr(s.Seller.Hex()), shortAddr(s.Buyer.Hex()),
				s.MarketplaceFee, s.RoyaltyAmount, s.SellerProceeds,
			)
			return title, message
		}
		fallthrough
	default:
		title = string(ev.Type)
		message = ""
		for k, v := range ev.Detail {
			if message != "" {
				message += "\n"
			}
			message += fmt.Sprintf("%s: %v", k, v)
		}
		return title, message
	}
}

// shortAddr abbreviates a hex address for human-facing messages.
func shortAddr(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:8] + ".." + hex[len(hex)-4:]
}
