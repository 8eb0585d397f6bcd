// Package secrets resolves credentials such as the receipt database DSN
// from the environment or AWS Secrets Manager.
//
// A reference has the form "env:NAME", "aws-sm:SECRET_ID" or
// "aws-sm:SECRET_ID#field". The field form reads one string member out of
// a JSON secret, which is how managed database credentials are stored.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrInvalidRef    = errors.New("secrets: invalid reference")
	ErrNotFound      = errors.New("secrets: not found")
)

const (
	SchemeEnv = "env"
	SchemeAWS = "aws-sm"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// Ref is a parsed secret reference.
type Ref struct {
	Scheme string
	Key    string
	Field  string
}

func (r Ref) String() string {
	s := r.Scheme + ":" + r.Key
	if r.Field != "" {
		s += "#" + r.Field
	}
	return s
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q has no scheme", ErrInvalidRef, s)
	}
	var r Ref
	switch scheme {
	case SchemeEnv:
		r = Ref{Scheme: scheme, Key: rest}
		if strings.Contains(rest, "#") {
			return Ref{}, fmt.Errorf("%w: env references take no field", ErrInvalidRef)
		}
	case SchemeAWS:
		key, field, _ := strings.Cut(rest, "#")
		r = Ref{Scheme: scheme, Key: key, Field: field}
		if strings.Contains(rest, "#") && field == "" {
			return Ref{}, fmt.Errorf("%w: empty field in %q", ErrInvalidRef, s)
		}
	default:
		return Ref{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidRef, scheme)
	}
	if strings.TrimSpace(r.Key) == "" || r.Key != strings.TrimSpace(r.Key) {
		return Ref{}, fmt.Errorf("%w: bad key in %q", ErrInvalidRef, s)
	}
	return r, nil
}

// Resolver dispatches references to the provider registered for their scheme.
type Resolver struct {
	providers map[string]Provider
}

func NewResolver(providers map[string]Provider) (*Resolver, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers", ErrInvalidConfig)
	}
	m := make(map[string]Provider, len(providers))
	for scheme, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: nil provider for %q", ErrInvalidConfig, scheme)
		}
		m[scheme] = p
	}
	return &Resolver{providers: m}, nil
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil resolver", ErrInvalidConfig)
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	p, ok := r.providers[parsed.Scheme]
	if !ok {
		return "", fmt.Errorf("%w: no provider for %q", ErrInvalidConfig, parsed.Scheme)
	}
	v, err := p.Get(ctx, parsed.Key)
	if err != nil {
		return "", err
	}
	if parsed.Field == "" {
		return v, nil
	}
	return jsonField(v, parsed)
}

func jsonField(v string, ref Ref) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(v), &fields); err != nil {
		return "", fmt.Errorf("%w: secret %s is not a json object", ErrNotFound, ref.Key)
	}
	raw, ok := fields[ref.Field]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is not a non-empty string", ErrNotFound, ref)
	}
	return strings.TrimSpace(s), nil
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, id string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("secrets: get %q: %w", id, err)
	}
	if out == nil {
		return "", fmt.Errorf("%w: secret %q", ErrNotFound, id)
	}
	if out.SecretString != nil {
		if v := strings.TrimSpace(*out.SecretString); v != "" {
			return v, nil
		}
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%w: secret %q is empty", ErrNotFound, id)
}

// EnvProvider reads from the process environment through lookup, which
// defaults to os.LookupEnv.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnv() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	if p == nil || p.lookup == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	v, _ := p.lookup(name)
	if v = strings.TrimSpace(v); v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, name)
	}
	return v, nil
}
