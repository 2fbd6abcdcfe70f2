package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/accordsai/transferlane/pkg/claimhash"
	"github.com/accordsai/transferlane/pkg/client"
	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const usage = `usage:
  xferctl claim  --order <path> --instance <addr>
  xferctl sign   --order <path> --instance <addr> --key <hex>
  xferctl verify --signer <addr> --claim <hex> --signature <hex>
  xferctl keygen
  xferctl perform --url <base> --order <path> --signature <hex> --key <hex> [--strict]
  xferctl cancel  --url <base> --order <path> --key <hex>
  xferctl status  --url <base> --claim <hex>`

// summary is the single JSON line every command prints.
type summary struct {
	Protocol     string `json:"protocol"`
	Status       string `json:"status"`
	Command      string `json:"command"`
	Claim        string `json:"claim,omitempty"`
	Signer       string `json:"signer,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Address      string `json:"address,omitempty"`
	PrivateKey   string `json:"private_key,omitempty"`
	Transfer     string `json:"transfer_status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	Error        string `json:"error,omitempty"`
	TimestampUTC string `json:"timestamp_utc"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	var (
		s   summary
		err error
	)
	switch cmd {
	case "claim":
		s, err = runClaim(rest, stderr)
	case "sign":
		s, err = runSign(rest, stderr)
	case "verify":
		s, err = runVerify(rest, stderr)
	case "keygen":
		s, err = runKeygen()
	case "perform":
		s, err = runPerform(rest, stderr)
	case "cancel":
		s, err = runCancel(rest, stderr)
	case "status":
		s, err = runStatus(rest, stderr)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	s.Protocol = "transferlane"
	s.Command = cmd
	s.TimestampUTC = time.Now().UTC().Format(time.RFC3339)
	code := 0
	var uerr usageError
	switch {
	case errors.As(err, &uerr):
		s.Status, s.Error = "FAIL", err.Error()
		code = 2
	case err != nil:
		s.Status, s.Error = "FAIL", err.Error()
		s.ErrorCode = client.CodeOf(err)
		code = 1
	case s.Status == "":
		s.Status = "PASS"
	}
	if s.Status == "FAIL" && code == 0 {
		code = 1
	}
	b, _ := json.Marshal(s)
	fmt.Fprintln(stdout, string(b))
	return code
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func newFlags(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string, required map[string]*string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	var missing []string
	for name, v := range required {
		if strings.TrimSpace(*v) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return usageError{"missing required flags: " + strings.Join(missing, ", ")}
	}
	return nil
}

func runClaim(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("claim", stderr)
	orderPath := fs.String("order", "", "path to order json")
	instance := fs.String("instance", "", "settlement instance address")
	if err := parse(fs, args, map[string]*string{"order": orderPath, "instance": instance}); err != nil {
		return summary{}, err
	}
	claim, _, err := loadClaim(*orderPath, *instance)
	if err != nil {
		return summary{}, err
	}
	return summary{Claim: claim.Hex()}, nil
}

func runSign(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("sign", stderr)
	orderPath := fs.String("order", "", "path to order json")
	instance := fs.String("instance", "", "settlement instance address")
	keyHex := fs.String("key", "", "hex secp256k1 private key of the order's from")
	if err := parse(fs, args, map[string]*string{"order": orderPath, "instance": instance, "key": keyHex}); err != nil {
		return summary{}, err
	}
	claim, order, err := loadClaim(*orderPath, *instance)
	if err != nil {
		return summary{}, err
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return summary{}, err
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	if signer != order.From {
		return summary{}, fmt.Errorf("key belongs to %s, order is from %s", signer.Hex(), order.From.Hex())
	}
	sig, err := signature.Sign(claim, key)
	if err != nil {
		return summary{}, err
	}
	return summary{Claim: claim.Hex(), Signer: signer.Hex(), Signature: sig.Hex()}, nil
}

func runVerify(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("verify", stderr)
	signerHex := fs.String("signer", "", "expected signer address")
	claimHex := fs.String("claim", "", "claim hex")
	sigHex := fs.String("signature", "", "65 byte r||s||v signature hex")
	if err := parse(fs, args, map[string]*string{"signer": signerHex, "claim": claimHex, "signature": sigHex}); err != nil {
		return summary{}, err
	}
	signer, err := domain.ParseAddress(*signerHex)
	if err != nil {
		return summary{}, err
	}
	claim, err := domain.ParseClaim(*claimHex)
	if err != nil {
		return summary{}, err
	}
	sig, err := signature.ParseHex(*sigHex)
	if err != nil {
		return summary{}, err
	}
	s := summary{Claim: claim.Hex(), Signer: signer.Hex(), Signature: sig.Hex()}
	if !signature.IsValid(signer, claim, sig) {
		s.Status = "FAIL"
		s.Error = "signature does not recover to signer"
	}
	return s, nil
}

func runKeygen() (summary, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return summary{}, err
	}
	return summary{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}, nil
}

func runPerform(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("perform", stderr)
	baseURL := fs.String("url", "", "settlement service base url")
	orderPath := fs.String("order", "", "path to order json")
	sigHex := fs.String("signature", "", "sender's signature over the claim")
	keyHex := fs.String("key", "", "hex private key of the order's to")
	strict := fs.Bool("strict", false, "check fee affordability and asset approval first")
	if err := parse(fs, args, map[string]*string{"url": baseURL, "order": orderPath, "signature": sigHex, "key": keyHex}); err != nil {
		return summary{}, err
	}
	order, err := loadOrder(*orderPath)
	if err != nil {
		return summary{}, err
	}
	sig, err := signature.ParseHex(*sigHex)
	if err != nil {
		return summary{}, err
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return summary{}, err
	}
	rec, err := client.New(*baseURL, client.CallerAuth{Key: key}).Perform(context.Background(), order, sig, *strict)
	if err != nil {
		return summary{}, err
	}
	return summary{Claim: rec.Claim.Hex(), Transfer: string(rec.Status)}, nil
}

func runCancel(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("cancel", stderr)
	baseURL := fs.String("url", "", "settlement service base url")
	orderPath := fs.String("order", "", "path to order json")
	keyHex := fs.String("key", "", "hex private key of the order's from")
	if err := parse(fs, args, map[string]*string{"url": baseURL, "order": orderPath, "key": keyHex}); err != nil {
		return summary{}, err
	}
	order, err := loadOrder(*orderPath)
	if err != nil {
		return summary{}, err
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return summary{}, err
	}
	rec, err := client.New(*baseURL, client.CallerAuth{Key: key}).Cancel(context.Background(), order)
	if err != nil {
		return summary{}, err
	}
	return summary{Claim: rec.Claim.Hex(), Transfer: string(rec.Status)}, nil
}

func runStatus(args []string, stderr io.Writer) (summary, error) {
	fs := newFlags("status", stderr)
	baseURL := fs.String("url", "", "settlement service base url")
	claimHex := fs.String("claim", "", "claim hex")
	if err := parse(fs, args, map[string]*string{"url": baseURL, "claim": claimHex}); err != nil {
		return summary{}, err
	}
	claim, err := domain.ParseClaim(*claimHex)
	if err != nil {
		return summary{}, err
	}
	st, err := client.New(*baseURL, nil).Status(context.Background(), claim)
	if err != nil {
		return summary{}, err
	}
	return summary{Claim: st.Claim.Hex(), Transfer: string(st.Status)}, nil
}

func loadOrder(path string) (domain.Order, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order: %w", err)
	}
	var j domain.OrderJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return j.Order()
}

func loadClaim(path, instanceHex string) (domain.Claim, domain.Order, error) {
	instance, err := domain.ParseAddress(instanceHex)
	if err != nil {
		return domain.Claim{}, domain.Order{}, err
	}
	order, err := loadOrder(path)
	if err != nil {
		return domain.Claim{}, domain.Order{}, err
	}
	return claimhash.Compute(instance, order), order, nil
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
