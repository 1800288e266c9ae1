package notify

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

func TestFormatEvent(t *testing.T) {
	t.Run("settlement events include the fee breakdown", func(t *testing.T) {
		ev := domain.Event{
			Type: domain.EventItemSold,
			Settlement: &domain.Settlement{
				ID:             "s-1",
				NFTContract:    common.HexToAddress("0xC000000000000000000000000000000000000001"),
				TokenID:        big.NewInt(7),
				Price:          big.NewInt(10_000),
				Seller:         common.HexToAddress("0xA000000000000000000000000000000000000002"),
				Buyer:          common.HexToAddress("0xA000000000000000000000000000000000000003"),
				SellerProceeds: big.NewInt(9_500),
				RoyaltyAmount:  big.NewInt(250),
				MarketplaceFee: big.NewInt(250),
			},
		}
		title, message := FormatEvent(ev)
		if !strings.HasPrefix(title, "Settled:") {
			t.Errorf("title = %q, want Settled prefix", title)
		}
		if !strings.Contains(title, "#7") {
			t.Errorf("title = %q, want token id", title)
		}
		for _, want := range []string{"10000", "9500", "fee 250", "royalty 250"} {
			if !strings.Contains(message, want) {
				t.Errorf("message %q missing %q", message, want)
			}
		}
	})

	t.Run("plain events dump their detail", func(t *testing.T) {
		title, message := FormatEvent(domain.Event{
			Type:   domain.EventItemListed,
			Detail: map[string]any{"market_item_id": uint64(3)},
		})
		if title != "item_listed" {
			t.Errorf("title = %q, want item_listed", title)
		}
		if !strings.Contains(message, "market_item_id: 3") {
			t.Errorf("message = %q, want detail line", message)
		}
	})

	t.Run("sold event without settlement falls back to detail dump", func(t *testing.T) {
		title, _ := FormatEvent(domain.Event{Type: domain.EventItemSold})
		if title != "item_sold" {
			t.Errorf("title = %q, want item_sold", title)
		}
	})
}

func TestShortAddr(t *testing.T) {
	full := "0xA000000000000000000000000000000000000002"
	got := shortAddr(full)
	if len(got) >= len(full) {
		t.Errorf("shortAddr did not shorten: %q", got)
	}
	if !strings.HasPrefix(got, "0xA00000") || !strings.HasSuffix(got, "0002") {
		t.Errorf("shortAddr = %q, want head and tail preserved", got)
	}
	if short := shortAddr("0xabc"); short != "0xabc" {
		t.Errorf("shortAddr(%q) = %q, want unchanged", "0xabc", short)
	}
}
