package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/zkledger/anondeposit/internal/depositabi"
	"github.com/zkledger/anondeposit/internal/queue"
	"github.com/zkledger/anondeposit/internal/receipt"
	"github.com/zkledger/anondeposit/internal/verifierservice"
)

type stringListFlag []string

func (f *stringListFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(*f, ",")
}

func (f *stringListFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("value must not be empty")
	}
	*f = append(*f, v)
	return nil
}

func main() {
	if err := runMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runMain wraps hex batch payloads into verification requests and publishes
// them keyed by batch id. The batch ids go to stderr, one per line.
func runMain(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var payloads stringListFlag
	var payloadFiles stringListFlag
	fs := flag.NewFlagSet("deposit-submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	queueDriver := fs.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
	queueBrokers := fs.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
	topic := fs.String("topic", "deposits.verify.v1", "verification request topic")
	timeout := fs.Duration("timeout", 30*time.Second, "overall publish timeout")
	fs.Var(&payloads, "payload", "inline hex payload (repeatable)")
	fs.Var(&payloadFiles, "payload-file", "file with one hex payload per line (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*topic) == "" {
		return errors.New("--topic is required")
	}

	raw, err := loadPayloads(payloads, payloadFiles, stdin)
	if err != nil {
		return err
	}
	// Decode everything before publishing anything.
	batches := make([][]byte, 0, len(raw))
	for i, line := range raw {
		b, err := depositabi.ParseHex(line)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
		if len(b) == 0 {
			return fmt.Errorf("payload %d: empty", i)
		}
		batches = append(batches, b)
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:   *queueDriver,
		Brokers:  queue.SplitCommaList(*queueBrokers),
		KafkaTLS: queue.TLSFromEnv(),
		Writer:   stdout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = producer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	for _, b := range batches {
		msg, err := verifierservice.EncodeRequest(b)
		if err != nil {
			return err
		}
		id := receipt.BatchID(b)
		if err := producer.Publish(ctx, *topic, id.Bytes(), msg); err != nil {
			return fmt.Errorf("publish %s: %w", id.Hex(), err)
		}
		fmt.Fprintln(stderr, id.Hex())
	}
	return nil
}

// loadPayloads returns one entry per non-blank line across inline values,
// files and, when neither is given, stdin.
func loadPayloads(inline []string, files []string, stdin io.Reader) ([]string, error) {
	out := make([]string, 0, len(inline)+len(files))
	out = append(out, inline...)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file %q: %w", path, err)
		}
		lines, err := readLines(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read payload file %q: %w", path, err)
		}
		out = append(out, lines...)
	}
	if len(inline) == 0 && len(files) == 0 && stdin != nil {
		lines, err := readLines(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin payloads: %w", err)
		}
		out = append(out, lines...)
	}
	if len(out) == 0 {
		return nil, errors.New("payload is required via --payload, --payload-file, or stdin")
	}
	return out, nil
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 16<<20)
	var out []string
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			out = append(out, string(line))
		}
	}
	return out, sc.Err()
}
