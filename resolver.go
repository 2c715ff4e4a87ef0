package main

import "strings"

const (
	// vpCurrencyID keys Valorant Points entries in offer cost maps.
	vpCurrencyID = "85ad13f6-4d74-0de1-ffff-ffffffffffff"

	// skinLevelItemTypeID is the reward type carried by weapon-skin offers.
	skinLevelItemTypeID = "e7c63390-eda7-46e0-bb7a-a6abdacd2433"
)

// ResolvedItem is one daily offer made presentable.
type ResolvedItem struct {
	ItemID     string
	Name       string
	Icon       string
	Price      int64
	PriceKnown bool
}

// resolveStoreItems turns raw offers into named, priced items, preserving
// offer order. Offers without a weapon-skin reward are skipped; identifiers
// missing from the index keep the raw id as their name; a missing price is
// reported as unknown rather than failing the run.
func resolveStoreItems(front *Storefront, index SkinIndex) []ResolvedItem {
	offers := front.SkinsPanelLayout.SingleItemStoreOffers
	items := make([]ResolvedItem, 0, len(offers))

	for _, offer := range offers {
		itemID := skinReward(offer)
		if itemID == "" {
			continue
		}

		item := ResolvedItem{ItemID: itemID, Name: itemID}
		if info, ok := index.Lookup(itemID); ok {
			item.Name = info.Name
			item.Icon = info.Icon
		}

		if price, ok := offerPrice(offer); ok {
			item.Price = price
			item.PriceKnown = true
		}

		items = append(items, item)
	}
	return items
}

// skinReward picks the weapon-skin reward out of an offer, if any.
func skinReward(offer StoreOffer) string {
	for _, reward := range offer.Rewards {
		if strings.EqualFold(reward.ItemTypeID, skinLevelItemTypeID) {
			return reward.ItemID
		}
	}
	return ""
}

// offerPrice prefers the discounted cost map over the standard one.
func offerPrice(offer StoreOffer) (int64, bool) {
	if price, ok := lookupCurrency(offer.DiscountedCost, vpCurrencyID); ok {
		return price, ok
	}
	return lookupCurrency(offer.Cost, vpCurrencyID)
}

func lookupCurrency(costs map[string]int64, currencyID string) (int64, bool) {
	for id, amount := range costs {
		if strings.EqualFold(id, currencyID) {
			return amount, true
		}
	}
	return 0, false
}
