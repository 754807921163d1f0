package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// GetParameters accepts at most 10 names per call.
const ssmMaxBatchSize = 10

// SSMClient is the subset of the SSM API used for parameter resolution.
type SSMClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMResolver resolves parameters from AWS Systems Manager Parameter Store,
// decrypting SecureString values.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a resolver backed by client.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetParametersBatch fetches paths in batches and returns path -> value.
// Any path SSM reports as invalid fails the whole call.
func (r *SSMResolver) GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))

	for start := 0; start < len(paths); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolving parameters: %w", err)
		}
		end := min(start+ssmMaxBatchSize, len(paths))

		resp, err := r.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          paths[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm GetParameters (batch %d-%d of %d): %w", start, end-1, len(paths), err)
		}
		if len(resp.InvalidParameters) > 0 {
			return nil, fmt.Errorf("ssm parameters not found: %v", resp.InvalidParameters)
		}
		for _, p := range resp.Parameters {
			if p.Name != nil && p.Value != nil {
				out[*p.Name] = *p.Value
			}
		}
	}
	return out, nil
}
