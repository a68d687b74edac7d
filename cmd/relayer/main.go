package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/api/relayerhandler"
	"github.com/ruteri/confidential-loan-ledger/cmd/flags"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/httpserver"
	"github.com/ruteri/confidential-loan-ledger/oracle"
	"github.com/ruteri/confidential-loan-ledger/storage"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = flags.ListenAddrFlagFn("127.0.0.1:8081")

var WorkersFlag = &cli.IntFlag{
	Name:  "workers",
	Value: 4,
	Usage: "number of concurrent decryption workers",
}

var QueueSizeFlag = &cli.IntFlag{
	Name:  "queue-size",
	Value: 256,
	Usage: "maximum number of queued decryption requests",
}

var MaxAttemptsFlag = &cli.IntFlag{
	Name:  "max-attempts",
	Value: 5,
	Usage: "callback delivery attempts per request",
}

var AllowedLedgerFlag = &cli.StringSliceFlag{
	Name:  "allowed-ledger",
	Usage: "address of a ledger allowed to submit requests; repeat for more, empty accepts any",
}

var AttestationFlag = &cli.StringFlag{
	Name:  "attestation",
	Value: "signature",
	Usage: "how results are proven: 'signature', 'dcap' (local TDX device) or a quote provider URL",
}

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Decrypt ledger ciphertexts and deliver proven results",
		Flags: append([]cli.Flag{
			ListenAddrFlag,
			flags.StorageFlag,
			flags.FHESecretKeyFlag,
			flags.FHEPassphraseFlag,
			flags.IdentityKeyFlag,
			WorkersFlag,
			QueueSizeFlag,
			MaxAttemptsFlag,
			AllowedLedgerFlag,
			AttestationFlag,
			flags.LogServiceFlagFn("relayer"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			blobs, err := storage.NewStorageBackendFactory(logger).FromURIs(cCtx.StringSlice(flags.StorageFlag.Name))
			if err != nil {
				logger.Error("Failed to configure ciphertext storage", "err", err)
				return err
			}

			decryptor, err := flags.LoadDecryptor(cCtx.String(flags.FHESecretKeyFlag.Name), cCtx.String(flags.FHEPassphraseFlag.Name))
			if err != nil {
				logger.Error("Failed to open FHE secret key", "err", err)
				return err
			}

			key, err := flags.LoadIdentityKey(cCtx)
			if err != nil {
				logger.Error("Failed to load oracle identity", "err", err)
				return err
			}

			signer := cryptoutils.NewSignatureProver(key)
			var prover cryptoutils.Prover = signer
			switch attestation := cCtx.String(AttestationFlag.Name); attestation {
			case "signature":
			case "dcap":
				prover = &cryptoutils.DCAPProver{Oracle: signer.Address(), Attester: cryptoutils.DCAPAttestationProvider{}}
			default:
				prover = &cryptoutils.DCAPProver{Oracle: signer.Address(), Attester: &cryptoutils.RemoteAttestationProvider{Address: attestation}}
			}

			var allowed []common.Address
			for _, addr := range cCtx.StringSlice(AllowedLedgerFlag.Name) {
				if !common.IsHexAddress(addr) {
					return fmt.Errorf("invalid --%s %q", AllowedLedgerFlag.Name, addr)
				}
				allowed = append(allowed, common.HexToAddress(addr))
			}

			deliverer := &oracle.HTTPDeliverer{Client: &http.Client{Timeout: 30 * time.Second}, Key: key}
			relayer := oracle.NewRelayer(oracle.RelayerConfig{
				Workers:     cCtx.Int(WorkersFlag.Name),
				QueueSize:   cCtx.Int(QueueSizeFlag.Name),
				MaxAttempts: cCtx.Int(MaxAttemptsFlag.Name),
			}, blobs, decryptor, prover, deliverer, logger)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name)), relayerhandler.NewHandler(relayer, allowed, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				relayer.Run(ctx)
			}()

			server.RunInBackground()
			logger.Info("Relayer identity", "oracle", signer.Address().Hex(), "attestation", cCtx.String(AttestationFlag.Name))

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			cancel()
			wg.Wait()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
