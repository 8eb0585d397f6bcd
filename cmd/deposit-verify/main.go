package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zkledger/anondeposit/internal/depositabi"
	"github.com/zkledger/anondeposit/internal/depositcircuit"
	"github.com/zkledger/anondeposit/internal/dispatch"
	"github.com/zkledger/anondeposit/internal/gateway"
	"github.com/zkledger/anondeposit/internal/noteverify"
	"github.com/zkledger/anondeposit/internal/paramstore"
	"github.com/zkledger/anondeposit/internal/receipt"
)

// errRejected is returned under --strict when the batch does not verify.
var errRejected = errors.New("batch rejected")

func main() {
	if err := runMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("deposit-verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	payloadHex := fs.String("payload", "", "inline 0x hex batch payload")
	payloadFile := fs.String("payload-file", "", "file holding a hex batch payload")
	vkFile := fs.String("vk-file", "", "verifying key file; overrides the params store")
	paramsDriver := fs.String("params-driver", paramstore.DriverFile, "params store driver: file|s3")
	paramsDir := fs.String("params-dir", "", "params store directory (file driver)")
	paramsBucket := fs.String("params-bucket", "", "params store bucket (s3 driver)")
	paramsPrefix := fs.String("params-prefix", "", "params store key prefix")
	paramsKey := fs.String("params-key", paramstore.VerifyingKeyKey, "verifying key object key")
	workers := fs.Int("workers", 0, "verification workers; 0 uses GOMAXPROCS, 1 verifies sequentially")
	strict := fs.Bool("strict", false, "exit non-zero when the batch is rejected")
	debug := fs.Bool("debug", false, "log per-request rejections to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers < 0 {
		return errors.New("--workers must be >= 0")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	payload, err := loadPayload(strings.TrimSpace(*payloadHex), strings.TrimSpace(*payloadFile), stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cell, err := paramsCell(ctx, *vkFile, paramstore.Config{
		Driver: *paramsDriver,
		Prefix: *paramsPrefix,
		Dir:    *paramsDir,
		Bucket: *paramsBucket,
	}, *paramsKey)
	if err != nil {
		return err
	}

	var strategy dispatch.Strategy = dispatch.Parallel{Workers: *workers}
	if *workers == 1 {
		strategy = dispatch.Sequential{}
	}
	gw, err := gateway.NewVerifier(gateway.Config{
		Params:   cell,
		Oracle:   depositcircuit.Oracle{},
		Strategy: strategy,
		Log:      log,
	})
	if err != nil {
		return err
	}

	out := gw.Run(payload)
	r := receipt.New(receipt.BatchID(payload), gw.Params().ID(), out, time.Now())
	b, err := receipt.Encode(r)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(stdout, string(b)); err != nil {
		return err
	}
	if *strict && !out.OK() {
		return fmt.Errorf("%w: %w", errRejected, out.Err())
	}
	return nil
}

func paramsCell(ctx context.Context, vkFile string, cfg paramstore.Config, key string) (*noteverify.ParamsCell, error) {
	if vkFile = strings.TrimSpace(vkFile); vkFile != "" {
		return noteverify.NewParamsCell(func() (*noteverify.Params, error) {
			b, err := os.ReadFile(vkFile)
			if err != nil {
				return nil, fmt.Errorf("read verifying key: %w", err)
			}
			return noteverify.ParseParams(b)
		}), nil
	}
	store, err := paramstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return noteverify.NewParamsCell(paramstore.Loader(ctx, store, key)), nil
}

func loadPayload(inline, file string, stdin io.Reader) ([]byte, error) {
	var text string
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use only one of --payload and --payload-file")
	case inline != "":
		text = inline
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file %q: %w", file, err)
		}
		text = string(b)
	default:
		if stdin == nil {
			return nil, errors.New("payload is required via --payload, --payload-file, or stdin")
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin payload: %w", err)
		}
		text = string(b)
	}
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return nil, errors.New("payload is required via --payload, --payload-file, or stdin")
	}
	return depositabi.ParseHex(text)
}
