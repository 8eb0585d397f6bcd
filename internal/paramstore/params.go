package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zkledger/anondeposit/internal/noteverify"
)

const (
	VerifyingKeyKey = "deposit/groth16-bn254.vk"
	ProvingKeyKey   = "deposit/groth16-bn254.pk"
)

var ErrParamsMismatch = errors.New("paramstore: params id mismatch")

// PublishParams validates a serialized verifying key and stores it with its
// id recorded alongside.
func PublishParams(ctx context.Context, store Store, key string, vk []byte) (common.Hash, error) {
	p, err := noteverify.ParseParams(vk)
	if err != nil {
		return common.Hash{}, err
	}
	if err := store.Put(ctx, key, vk, map[string]string{metaParamsID: p.ID().Hex()}); err != nil {
		return common.Hash{}, err
	}
	return p.ID(), nil
}

// LoadParams reads and parses a verifying key. When the object carries a
// params id it must match the key's keccak256.
func LoadParams(ctx context.Context, store Store, key string) (*noteverify.Params, error) {
	obj, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := noteverify.ParseParams(obj.Data)
	if err != nil {
		return nil, err
	}
	if want := strings.TrimSpace(obj.Meta[metaParamsID]); want != "" && !strings.EqualFold(want, p.ID().Hex()) {
		return nil, fmt.Errorf("%w: stored %s, computed %s", ErrParamsMismatch, want, p.ID().Hex())
	}
	return p, nil
}

// Loader adapts LoadParams to a noteverify.ParamsCell. ctx bounds the single
// load and must outlive the first Get.
func Loader(ctx context.Context, store Store, key string) noteverify.Loader {
	return func() (*noteverify.Params, error) {
		return LoadParams(ctx, store, key)
	}
}

// Open builds a store, wiring the default AWS credential chain for the s3
// driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), DriverS3) && cfg.S3Client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("paramstore: load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return New(cfg)
}
