// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	jsoniter "github.com/json-iterator/go"
)

const (
	// MySQLPasswordEnv bypasses every other password source when set, even to
	// an empty string.
	MySQLPasswordEnv = "LDIF_TARGET_MYSQL_PASSWORD" //nolint:gosec // env var name, not a credential

	// DefaultPasswordFile is the vault-injected password file used on Kubernetes.
	DefaultPasswordFile = "/vault/secrets/ldifmysqlpass"
)

// SecretsAPI is the Secrets Manager call used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsClient builds a Secrets Manager client from the default AWS chain.
func NewSecretsClient(ctx context.Context, region string) (SecretsAPI, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required for Secrets Manager")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("create AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// GetPasswordFromSecretsManager reads the "password" field of a JSON secret.
func GetPasswordFromSecretsManager(ctx context.Context, svc SecretsAPI, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}

	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(*out.SecretString, &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.Password == "" {
		return "", fmt.Errorf("password field empty in secret %s", secretName)
	}

	return payload.Password, nil
}

// PasswordSource lists the places a database password may come from.
type PasswordSource struct {
	Password     string
	PasswordFile string
	SecretName   string
	Region       string
}

// ResolveDBPassword picks the database password with this priority:
//  1. MySQLPasswordEnv, when set
//  2. the configured password
//  3. the password file, when it exists
//  4. Secrets Manager, when a secret name is configured
//
// An empty password is returned when none of them apply.
func ResolveDBPassword(ctx context.Context, src PasswordSource, newClient func(ctx context.Context, region string) (SecretsAPI, error)) (string, error) {
	if pwd, ok := os.LookupEnv(MySQLPasswordEnv); ok {
		return pwd, nil
	}
	if src.Password != "" {
		return src.Password, nil
	}
	if src.PasswordFile != "" {
		content, err := os.ReadFile(src.PasswordFile)
		if err == nil {
			return strings.TrimSpace(string(content)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read password file: %w", err)
		}
	}
	if src.SecretName == "" {
		return "", nil
	}
	if newClient == nil {
		newClient = NewSecretsClient
	}
	svc, err := newClient(ctx, src.Region)
	if err != nil {
		return "", err
	}
	return GetPasswordFromSecretsManager(ctx, svc, src.SecretName)
}
