package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-loan-ledger/api"
	"github.com/ruteri/confidential-loan-ledger/api/ledgerhandler"
	"github.com/ruteri/confidential-loan-ledger/cmd/flags"
	"github.com/ruteri/confidential-loan-ledger/fhe"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/urfave/cli/v2"
)

var flagLedger = &cli.StringFlag{
	Name:    "ledger",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"LEDGER_URL"},
	Usage:   "ledger server to talk to",
}

var flagSecretOut = &cli.StringFlag{
	Name:  "fhe-secret-key-out",
	Value: "fhe.sealed",
	Usage: "where to write the sealed FHE secret key",
}

var flagID = &cli.Uint64Flag{
	Name:     "id",
	Required: true,
	Usage:    "application id",
}

var flagCategory = &cli.StringFlag{
	Name:     "category",
	Required: true,
	Usage:    "category label (the revealed yield prediction)",
}

func client(cCtx *cli.Context, signed bool) (*ledgerhandler.Client, error) {
	if !signed {
		return ledgerhandler.NewClient(cCtx.String(flagLedger.Name), nil), nil
	}
	key, err := flags.LoadIdentityKey(cCtx)
	if err != nil {
		return nil, err
	}
	return ledgerhandler.NewClient(cCtx.String(flagLedger.Name), key), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "ledgerctl",
		Usage: "Client for the confidential loan-application ledger",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate the FHE key pair; the secret key is sealed with a passphrase",
				Flags: []cli.Flag{flags.FHEPublicKeyFlag, flagSecretOut, flags.FHEPassphraseFlag},
				Action: func(cCtx *cli.Context) error {
					passphrase := cCtx.String(flags.FHEPassphraseFlag.Name)
					if passphrase == "" {
						return errors.New("--fhe-passphrase is required")
					}

					params, err := fhe.DefaultParameters()
					if err != nil {
						return err
					}
					sk, pk := fhe.GenerateKeys(params)

					pkBytes, err := pk.MarshalBinary()
					if err != nil {
						return fmt.Errorf("failed to marshal public key: %w", err)
					}
					sealed, err := fhe.SealSecretKey(sk, []byte(passphrase))
					if err != nil {
						return err
					}

					if err := os.WriteFile(cCtx.String(flags.FHEPublicKeyFlag.Name), pkBytes, 0644); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagSecretOut.Name), sealed, 0600)
				},
			},
			{
				Name:  "identity",
				Usage: "generate a secp256k1 identity key and print it with its address",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"address":    crypto.PubkeyToAddress(key.PublicKey).Hex(),
						"privateKey": hex.EncodeToString(crypto.FromECDSA(key)),
					})
				},
			},
			{
				Name:  "submit",
				Usage: "encrypt and submit an application",
				Flags: []cli.Flag{
					flagLedger, flags.IdentityKeyFlag, flags.FHEPublicKeyFlag,
					&cli.StringFlag{Name: "farm-data", Required: true},
					&cli.StringFlag{Name: "yield", Required: true, Usage: "yield prediction; becomes the aggregation category"},
					&cli.Uint64Flag{Name: "loan", Required: true, Usage: "recommended loan amount"},
				},
				Action: func(cCtx *cli.Context) error {
					provider, err := flags.LoadProvider(cCtx.String(flags.FHEPublicKeyFlag.Name))
					if err != nil {
						return err
					}

					var req api.SubmitApplicationRequest
					if req.EncFarmData, err = provider.EncryptString(cCtx.String("farm-data")); err != nil {
						return err
					}
					if req.EncYield, err = provider.EncryptString(cCtx.String("yield")); err != nil {
						return err
					}
					if req.EncLoanAmount, err = provider.EncryptUint64(cCtx.Uint64("loan")); err != nil {
						return err
					}

					c, err := client(cCtx, true)
					if err != nil {
						return err
					}
					id, err := c.Submit(cCtx.Context, req)
					if err != nil {
						return err
					}
					return printJSON(api.SubmitApplicationResponse{ID: id})
				},
			},
			{
				Name:  "request",
				Usage: "ask the oracle to reveal one of your applications",
				Flags: []cli.Flag{flagLedger, flags.IdentityKeyFlag, flagID},
				Action: func(cCtx *cli.Context) error {
					c, err := client(cCtx, true)
					if err != nil {
						return err
					}
					requestID, err := c.RequestDecryption(cCtx.Context, interfaces.ApplicationID(cCtx.Uint64(flagID.Name)))
					if err != nil {
						return err
					}
					return printJSON(api.DecryptionRequestResponse{RequestID: requestID})
				},
			},
			{
				Name:  "reveal",
				Usage: "show the revealed twin of an application",
				Flags: []cli.Flag{flagLedger, flagID},
				Action: func(cCtx *cli.Context) error {
					c, _ := client(cCtx, false)
					rev, err := c.GetRevealed(cCtx.Context, interfaces.ApplicationID(cCtx.Uint64(flagID.Name)))
					if err != nil {
						return err
					}
					return printJSON(rev)
				},
			},
			{
				Name:  "categories",
				Usage: "list known categories",
				Flags: []cli.Flag{flagLedger},
				Action: func(cCtx *cli.Context) error {
					c, _ := client(cCtx, false)
					labels, err := c.Categories(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(api.CategoriesResponse{Categories: labels})
				},
			},
			{
				Name:  "counter",
				Usage: "show the encrypted counter and the last revealed count of a category",
				Flags: []cli.Flag{flagLedger, flagCategory},
				Action: func(cCtx *cli.Context) error {
					c, _ := client(cCtx, false)
					label := cCtx.String(flagCategory.Name)

					counter, err := c.GetCounter(cCtx.Context, label)
					if err != nil {
						return err
					}
					out := map[string]any{"counter": counter}

					revealed, err := c.GetRevealedCount(cCtx.Context, label)
					var statusErr *ledgerhandler.StatusError
					switch {
					case err == nil:
						out["revealed"] = revealed
					case errors.As(err, &statusErr) && statusErr.StatusCode == 404:
					default:
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:  "request-counter",
				Usage: "ask the oracle to reveal the current count of a category",
				Flags: []cli.Flag{flagLedger, flags.IdentityKeyFlag, flagCategory},
				Action: func(cCtx *cli.Context) error {
					c, err := client(cCtx, true)
					if err != nil {
						return err
					}
					requestID, err := c.RequestCounterDecryption(cCtx.Context, cCtx.String(flagCategory.Name))
					if err != nil {
						return err
					}
					return printJSON(api.DecryptionRequestResponse{RequestID: requestID})
				},
			},
			{
				Name:      "lookup-digest",
				Usage:     "resolve a category digest to its label",
				ArgsUsage: "<digest>",
				Flags:     []cli.Flag{flagLedger},
				Action: func(cCtx *cli.Context) error {
					digest, err := interfaces.NewCategoryDigestFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					c, _ := client(cCtx, false)
					label, err := c.CategoryFromDigest(cCtx.Context, digest)
					if err != nil {
						return err
					}
					return printJSON(api.CategoryLookupResponse{Digest: digest.String(), Label: label})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
