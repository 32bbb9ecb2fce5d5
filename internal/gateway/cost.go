package gateway

import "github.com/voyagerhq/voyager/pkg/models"

// Pricing contains pricing per 1M tokens for a model tier.
type Pricing struct {
	InputPerMillion  float64 // USD per 1M input tokens
	OutputPerMillion float64 // USD per 1M output tokens
}

// TierPricing maps model tiers to their pricing. Values track the models
// each tier resolves to; update alongside tierModels.
var TierPricing = map[models.ModelTier]Pricing{
	models.TierEconomy:  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	models.TierStandard: {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	models.TierPremium:  {InputPerMillion: 15.00, OutputPerMillion: 75.00},
}

// Cost computes the USD cost of a call as a pure function of token counts
// and the tier pricing table. Unknown tiers cost zero.
func Cost(tier models.ModelTier, inputTokens, outputTokens int64) float64 {
	pricing, ok := TierPricing[tier]
	if !ok {
		return 0
	}
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMillion
	return inputCost + outputCost
}
