package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the slice of the Secrets Manager client we use.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type secretPayload struct {
	GeminiAPIKey  string `json:"gemini_api_key"`
	TTSAPIKey     string `json:"google_tts_api_key"`
	SessionSecret string `json:"session_secret"`
}

// LoadSecrets overlays API keys from AWS Secrets Manager when SecretName
// is set. Values already present from the environment win, so local
// development with plain env vars keeps working.
func (c *Config) LoadSecrets(ctx context.Context, client SecretsAPI, log *slog.Logger) error {
	if c.SecretName == "" {
		return nil
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.SecretName),
	})
	if err != nil {
		return fmt.Errorf("get secret %s: %w", c.SecretName, err)
	}
	var payload secretPayload
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &payload); err != nil {
		return fmt.Errorf("parse secret %s: %w", c.SecretName, err)
	}
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = payload.GeminiAPIKey
	}
	if c.TTSAPIKey == "" {
		c.TTSAPIKey = payload.TTSAPIKey
	}
	if c.SessionSecret == "" {
		c.SessionSecret = payload.SessionSecret
	}
	log.Info("loaded secrets", "secret", c.SecretName)
	return nil
}
