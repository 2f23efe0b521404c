package scan

import (
	"fmt"

	"trading-scanner/internal/model"
)

// Recommend maps a total score to buy, sell or hold and returns the summary
// line naming the threshold that decided it. Both comparisons are inclusive.
func Recommend(total float64, c *Criteria) (model.Recommendation, string) {
	switch {
	case total >= c.BuyThreshold:
		return model.RecommendBuy, fmt.Sprintf("Total score %+.4f >= buy threshold %.4f: buy", total, c.BuyThreshold)
	case total <= -c.SellThreshold:
		return model.RecommendSell, fmt.Sprintf("Total score %+.4f <= sell threshold -%.4f: sell", total, c.SellThreshold)
	default:
		return model.RecommendHold, fmt.Sprintf("Total score %+.4f is between sell threshold -%.4f and buy threshold %.4f: hold",
			total, c.SellThreshold, c.BuyThreshold)
	}
}
