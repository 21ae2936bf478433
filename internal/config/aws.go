package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// LoadAWS builds the SDK config. Explicit keys win over the default chain
// (env, shared config, Lambda execution role).
func (c *Config) LoadAWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWS.Region))
	}
	if c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWS.AccessKeyID, c.AWS.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecrets fills the database password from SSM Parameter Store when
// DB_PASS_PARAM is set and DB_PASS is not.
func (c *Config) ResolveSecrets(ctx context.Context, p ParameterGetter) error {
	if c.Database.PasswordParam == "" || c.Database.Password != "" {
		return nil
	}
	out, err := p.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.Database.PasswordParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("ssm GetParameter %s: %w", c.Database.PasswordParam, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return fmt.Errorf("%w: value of %s", ErrMissing, c.Database.PasswordParam)
	}
	c.Database.Password = aws.ToString(out.Parameter.Value)
	return nil
}
