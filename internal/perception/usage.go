package perception

import "sync/atomic"

// pricing is the cost table for a model tier in USD per million tokens.
// One dollar per million tokens is exactly one microdollar per token, so
// the meter accumulates cost in integer microdollars.
type pricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

var tierPricing = map[ModelTier]pricing{
	TierFlash: {inputPerMTok: 0.10, outputPerMTok: 0.40},
	TierPro:   {inputPerMTok: 1.25, outputPerMTok: 5.00},
}

// freePricing covers the OpenRouter free-model chain.
var freePricing = pricing{}

// usageMeter accumulates token and cost totals across calls.
type usageMeter struct {
	totalTokens  atomic.Int64
	costMicroUSD atomic.Int64
}

func (u *usageMeter) record(promptTokens, completionTokens int, p pricing) {
	u.totalTokens.Add(int64(promptTokens + completionTokens))
	micro := float64(promptTokens)*p.inputPerMTok + float64(completionTokens)*p.outputPerMTok
	if micro > 0 {
		u.costMicroUSD.Add(int64(micro))
	}
}

func (u *usageMeter) tokens() int64 {
	return u.totalTokens.Load()
}

func (u *usageMeter) costUSD() float64 {
	return float64(u.costMicroUSD.Load()) / 1e6
}
