package credentials

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
)

// NewFromConfig builds the source chain named by config.Sources.
// The AWS SDK is only initialised when "ssm" is listed.
func NewFromConfig(ctx context.Context, config common.CredentialsConfig, logger arbor.ILogger) (*Chain, error) {
	var sources []interfaces.CredentialSource

	for _, name := range config.Sources {
		switch name {
		case "env":
			sources = append(sources, NewEnvSource())
		case "1password", "op":
			op := NewOnePasswordSource(config.OnePasswordItem)
			if !op.Available() {
				logger.Debug().Msg("1Password CLI not found, skipping. See: https://developer.1password.com/docs/cli/get-started/")
				continue
			}
			sources = append(sources, op)
		case "ssm":
			var opts []func(*awsconfig.LoadOptions) error
			if config.SSMRegion != "" {
				opts = append(opts, awsconfig.WithRegion(config.SSMRegion))
			}
			cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			sources = append(sources, NewSSMSource(ssm.NewFromConfig(cfg), config.SSMUsername, config.SSMPassword))
		case "prompt":
			sources = append(sources, NewPromptSource())
		default:
			return nil, fmt.Errorf("unknown credential source %q", name)
		}
	}

	if len(sources) == 0 {
		return nil, &common.CredentialUnavailableError{Source: "config", Err: fmt.Errorf("no credential sources configured")}
	}

	return NewChain(logger, sources...), nil
}
