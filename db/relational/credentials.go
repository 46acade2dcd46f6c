package relational

import (
	"context"
	"fmt"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	rdsauth "github.com/aws/aws-sdk-go-v2/feature/rds/auth"
)

// SecretResolver fetches JSON secrets. The secrets package Client
// satisfies it.
type SecretResolver interface {
	GetSecretJSON(ctx context.Context, name string, v any) error
}

// dbSecret is the shape of database credential secrets. Secrets Manager
// RDS secrets store the port as either a string or a number, so it is
// decoded loosely.
type dbSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     any    `json:"port"`
	Database string `json:"dbname"`
	Engine   string `json:"engine"`
}

// resolveCredentials overlays secret-sourced connection fields onto the
// configuration.
func resolveCredentials(ctx context.Context, cfg *storeConfig) error {
	if cfg.secrets == nil || cfg.secretName == "" {
		return nil
	}

	var secret dbSecret
	if err := cfg.secrets.GetSecretJSON(ctx, cfg.secretName, &secret); err != nil {
		return fmt.Errorf("relational: resolve credentials from %q: %w", cfg.secretName, err)
	}

	if secret.Username != "" {
		cfg.user = secret.Username
	}
	if secret.Password != "" {
		cfg.password = secret.Password
	}
	if secret.Host != "" {
		cfg.host = secret.Host
	}
	if secret.Database != "" {
		cfg.database = secret.Database
	}
	if secret.Engine != "" {
		cfg.engine = Engine(secret.Engine)
	}
	if port := parsePort(secret.Port); port > 0 {
		cfg.port = port
	}
	return nil
}

func parsePort(v any) int {
	switch port := v.(type) {
	case float64:
		return int(port)
	case string:
		n, err := strconv.Atoi(port)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// buildIAMToken mints a short-lived RDS IAM authentication token used in
// place of a password.
func buildIAMToken(ctx context.Context, cfg *storeConfig) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.region))
	if err != nil {
		return "", fmt.Errorf("relational: load AWS config for IAM auth: %w", err)
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.host, cfg.port)
	token, err := rdsauth.BuildAuthToken(ctx, endpoint, cfg.region, cfg.user, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("relational: build IAM auth token: %w", err)
	}
	return token, nil
}
