package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zkledger/anondeposit/internal/depositabi"
	"github.com/zkledger/anondeposit/internal/depositcircuit"
	"github.com/zkledger/anondeposit/internal/noteverify"
	"github.com/zkledger/anondeposit/internal/paramstore"
	"github.com/zkledger/anondeposit/internal/verifierservice"
)

const usage = "usage: deposit-setup keys|batch [flags]"

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	switch args[0] {
	case "keys":
		return runKeys(ctx, args[1:], stdout)
	case "batch":
		return runBatch(ctx, args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q; %s", args[0], usage)
	}
}

type storeFlags struct {
	driver string
	dir    string
	bucket string
	prefix string
	vkKey  string
	pkKey  string
}

func (s *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.driver, "params-driver", paramstore.DriverFile, "params store driver: file|s3")
	fs.StringVar(&s.dir, "params-dir", "", "params store directory (file driver)")
	fs.StringVar(&s.bucket, "params-bucket", "", "params store bucket (s3 driver)")
	fs.StringVar(&s.prefix, "params-prefix", "", "params store key prefix")
	fs.StringVar(&s.vkKey, "vk-key", paramstore.VerifyingKeyKey, "verifying key object key")
	fs.StringVar(&s.pkKey, "pk-key", paramstore.ProvingKeyKey, "proving key object key")
}

func (s *storeFlags) open(ctx context.Context) (paramstore.Store, error) {
	return paramstore.Open(ctx, paramstore.Config{
		Driver: s.driver,
		Prefix: s.prefix,
		Dir:    s.dir,
		Bucket: s.bucket,
	})
}

func runKeys(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("deposit-setup keys", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var sf storeFlags
	sf.register(fs)
	force := fs.Bool("force", false, "overwrite existing keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	if !*force {
		exists, err := store.Exists(ctx, sf.vkKey)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("verifying key %q already exists; pass --force to replace it", sf.vkKey)
		}
	}

	prover, vk, err := depositcircuit.Setup()
	if err != nil {
		return err
	}
	var pk, vkb bytes.Buffer
	if err := prover.WriteProvingKey(&pk); err != nil {
		return err
	}
	if err := depositcircuit.WriteVerifyingKey(&vkb, vk); err != nil {
		return err
	}
	// The proving key goes first so a published vk always has its pk.
	if err := store.Put(ctx, sf.pkKey, pk.Bytes(), nil); err != nil {
		return err
	}
	id, err := paramstore.PublishParams(ctx, store, sf.vkKey, vkb.Bytes())
	if err != nil {
		return err
	}

	return json.NewEncoder(stdout).Encode(struct {
		ParamsID string `json:"params_id"`
		VKKey    string `json:"vk_key"`
		PKKey    string `json:"pk_key"`
		PKBytes  int    `json:"pk_bytes"`
	}{
		ParamsID: id.Hex(),
		VKKey:    sf.vkKey,
		PKKey:    sf.pkKey,
		PKBytes:  pk.Len(),
	})
}

func runBatch(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("deposit-setup batch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var sf storeFlags
	sf.register(fs)
	count := fs.Int("count", 1, "number of deposits in the batch")
	assetHex := fs.String("asset", "0x01", "asset id as hex, left-padded to 32 bytes")
	amountDec := fs.String("amount", "1000", "amount per deposit (decimal, < 2^128)")
	memoHex := fs.String("memo", "", "memo bytes as hex, shared by every deposit")
	envelope := fs.Bool("envelope", false, "emit a "+verifierservice.RequestVersion+" message instead of raw hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count <= 0 {
		return errors.New("--count must be > 0")
	}

	asset, err := parseAsset(*assetHex)
	if err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(*amountDec))
	if err != nil {
		return fmt.Errorf("--amount: %w", err)
	}
	if amount.BitLen() > noteverify.MaxAmountBits {
		return fmt.Errorf("--amount must fit %d bits", noteverify.MaxAmountBits)
	}
	var memo []byte
	if strings.TrimSpace(*memoHex) != "" {
		if memo, err = depositabi.ParseHex(*memoHex); err != nil {
			return fmt.Errorf("--memo: %w", err)
		}
	}

	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	obj, err := store.Get(ctx, sf.pkKey)
	if err != nil {
		return fmt.Errorf("load proving key: %w", err)
	}
	prover, err := depositcircuit.LoadProver(bytes.NewReader(obj.Data))
	if err != nil {
		return err
	}

	ws := make([]depositcircuit.Witness, *count)
	for i := range ws {
		var bindingHash [32]byte
		if _, err := rand.Read(bindingHash[:]); err != nil {
			return fmt.Errorf("draw binding hash: %w", err)
		}
		w, err := depositcircuit.RandomWitness(asset, amount, bindingHash)
		if err != nil {
			return err
		}
		w.Memo = memo
		ws[i] = w
	}
	batch, err := prover.ProveBatch(ws)
	if err != nil {
		return err
	}
	payload, err := depositabi.Encode(batch)
	if err != nil {
		return err
	}

	if *envelope {
		msg, err := verifierservice.EncodeRequest(payload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(msg))
		return err
	}
	_, err = fmt.Fprintln(stdout, "0x"+hex.EncodeToString(payload))
	return err
}

func parseAsset(s string) (asset fr.Element, err error) {
	b, err := depositabi.ParseHex(s)
	if err != nil {
		return asset, fmt.Errorf("--asset: %w", err)
	}
	if len(b) == 0 || len(b) > 32 {
		return asset, errors.New("--asset must be 1 to 32 bytes")
	}
	var raw [32]byte
	copy(raw[:], common.LeftPadBytes(b, 32))
	return noteverify.DecodeAsset(raw)
}
