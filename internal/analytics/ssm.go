package analytics

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// SSMAPI is the subset of *ssm.Client used to read the api key.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadAPIKey reads the PostHog project api key from an SSM SecureString parameter.
func LoadAPIKey(ctx context.Context, client SSMAPI, param string) (string, error) {
	if client == nil {
		return "", xerrors.New("analytics: ssm client is required")
	}
	if param == "" {
		return "", xerrors.New("analytics: ssm parameter name is required")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	key := strings.TrimSpace(*out.Parameter.Value)
	if key == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return key, nil
}
