package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"precedent/internal/config"
)

// ModelClient is the single call surface the orchestrator needs.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Pinger reports reachability of the model endpoint for health checks.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// BedrockClient talks to an Anthropic model on Amazon Bedrock.
type BedrockClient struct {
	rt      *bedrockruntime.Client
	modelID string
}

var _ ModelClient = (*BedrockClient)(nil)
var _ Pinger = (*BedrockClient)(nil)

// NewBedrockClient resolves AWS credentials from the default chain and binds
// the configured region and model.
func NewBedrockClient(ctx context.Context, cfg config.ReasonerConfig) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockClient{
		rt:      bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
	}, nil
}

// ModelID returns the bound model identifier.
func (c *BedrockClient) ModelID() string { return c.modelID }

// anthropicRequest is the Bedrock invoke body for Anthropic models.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

// Complete invokes the model once and returns the concatenated text blocks.
func (c *BedrockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.invoke(ctx, prompt, 1024)
}

// Ping performs a one-token invoke to prove credentials, region, and model
// access in a single round trip.
func (c *BedrockClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.invoke(ctx, "ping", 1)
	return time.Since(start), err
}

func (c *BedrockClient) invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      0,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal invoke body: %w", err)
	}

	out, err := c.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", c.modelID, err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode invoke response: %w", err)
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
