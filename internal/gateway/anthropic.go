package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/voyagerhq/voyager/pkg/models"
)

// defaultMaxTokens bounds responses when the request does not set a limit.
const defaultMaxTokens = 4096

// tierModels resolves a model tier to a concrete Anthropic model.
var tierModels = map[models.ModelTier]anthropic.Model{
	models.TierEconomy:  anthropic.ModelClaude3_5Haiku20241022,
	models.TierStandard: anthropic.ModelClaudeSonnet4_20250514,
	models.TierPremium:  anthropic.ModelClaudeOpus4_5_20251101,
}

// AnthropicConfig contains configuration for creating an AnthropicGateway.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicGateway implements Gateway over the Anthropic SDK, optionally
// routed through AWS Bedrock.
type AnthropicGateway struct {
	inner   anthropic.Client
	bedrock bool
}

// NewAnthropicGateway creates a gateway backed by the Anthropic API or Bedrock.
func NewAnthropicGateway(cfg AnthropicConfig) (*AnthropicGateway, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicGateway{
		inner:   anthropic.NewClient(opts...),
		bedrock: cfg.UseAWSBedrock,
	}, nil
}

// Call resolves the tier to a model, issues a single message request, and
// returns the text plus usage accounting.
func (g *AnthropicGateway) Call(ctx context.Context, tier models.ModelTier, req Request) (*Response, error) {
	model, ok := tierModels[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	if g.bedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	resp, err := g.inner.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return &Response{
		Text:         text.String(),
		Model:        string(model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Latency:      latency,
		Cost:         Cost(tier, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// classifyProviderError maps SDK errors into the gateway error taxonomy.
// Rate-limit responses become ErrQuotaExceeded; everything else that is not
// a caller cancellation becomes ErrProviderUnavailable.
func classifyProviderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// translateModelForBedrock converts standard Anthropic model names to the
// Bedrock cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514: "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101: "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_5Haiku20241022: "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	// Might already be Bedrock format or a custom model.
	return model
}
