package aws

import (
	"context"
	"encoding/json"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsClient reads credentials from Secrets Manager at startup.
type SecretsClient struct {
	client *secretsmanager.Client
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return &SecretsClient{client: secretsmanager.NewFromConfig(cfg)}
}

// GetSecret returns the string value of the named secret.
func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: sdkaws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	value := sdkaws.ToString(out.SecretString)
	if value == "" {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return value, nil
}

// GetSecretMap reads a secret holding a flat JSON object of strings, the
// shape used for credential bundles such as POSTGRES_USER/POSTGRES_PASSWORD.
func (s *SecretsClient) GetSecretMap(ctx context.Context, name string) (map[string]string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	return m, nil
}
