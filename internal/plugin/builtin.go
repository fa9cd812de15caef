package plugin

import (
	"encoding/json"
	"fmt"
)

// tradeMessage is the wire shape a "trade" WS feed sends per message: a side
// ("buy" or "sell") and a price.
type tradeMessage struct {
	Side  string  `json:"side"`
	Price float64 `json:"price"`
}

// TradeHandler appends each message's price into the "bids" or "asks" field
// list by side (spec §9 S3: "18 trade messages during a tick, split 10 buy /
// 8 sell by the handler").
func TradeHandler(msg []byte, appendTo func(field string, value any)) error {
	var tm tradeMessage
	if err := json.Unmarshal(msg, &tm); err != nil {
		return fmt.Errorf("decode trade message: %w", err)
	}
	switch tm.Side {
	case "buy":
		appendTo("bids", tm.Price)
	case "sell":
		appendTo("asks", tm.Price)
	default:
		return fmt.Errorf("unknown trade side %q", tm.Side)
	}
	return nil
}

// MidPriceReducer computes (mean(bids)+mean(asks))/2 over the captured
// epoch (spec §9 S3: "Its reducer computes (mean(bids)+mean(asks))/2").
// An empty side is excluded from the average rather than treated as zero,
// so a one-sided epoch still yields the other side's mean.
func MidPriceReducer(epoch, _ map[string][]any) (any, error) {
	bidsMean, bidsOK := meanOf(epoch["bids"])
	asksMean, asksOK := meanOf(epoch["asks"])

	switch {
	case bidsOK && asksOK:
		return (bidsMean + asksMean) / 2, nil
	case bidsOK:
		return bidsMean, nil
	case asksOK:
		return asksMean, nil
	default:
		return nil, fmt.Errorf("mid_price: epoch has no bids or asks")
	}
}

func meanOf(values []any) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	var n int
	for _, v := range values {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RegisterBuiltins installs the reference handler/reducer pair used by
// trade-feed ws_api ingesters. Deployments with their own stream-reduction
// logic register additional plugins the same way before calling
// wsapi.SetPluginRegistry.
func RegisterBuiltins(r *Registry) {
	r.RegisterHandler("trade", TradeHandler)
	r.RegisterReducer("mid_price", MidPriceReducer)
}
