package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/cmd/flags"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/oracle"
	"github.com/urfave/cli/v2"
)

var OracleKeyFlag = &cli.StringFlag{
	Name:    "oracle-key",
	EnvVars: []string{"LEDGER_ORACLE_KEY"},
	Usage:   "hex secp256k1 key of the embedded oracle; enables in-process decryption together with --fhe-secret-key",
}

var OracleAddressFlag = &cli.StringFlag{
	Name:  "oracle-address",
	Usage: "address of the remote oracle allowed to deliver results",
}

var RelayerEndpointFlag = &cli.StringSliceFlag{
	Name:  "relayer-endpoint",
	Usage: "base URL of a remote relayer; repeat for failover",
}

var RelayerSRVFlag = &cli.StringFlag{
	Name:  "relayer-srv",
	Usage: "discover relayers through SRV records of this domain",
}

var DNSResolverFlag = &cli.StringFlag{
	Name:  "dns-resolver",
	Value: oracle.DefaultResolver,
	Usage: "DNS server used for relayer discovery",
}

var CallbackURLFlag = &cli.StringFlag{
	Name:  "callback-url",
	Usage: "URL remote relayers deliver results to, e.g. http://ledger:8080/api/decryptions",
}

var DCAPMeasurementsFlag = &cli.StringFlag{
	Name:  "dcap-measurements",
	Usage: "JSON file of expected TDX measurements; enables DCAP-attested results",
}

var OracleFlags = []cli.Flag{
	OracleKeyFlag,
	flags.FHESecretKeyFlag,
	flags.FHEPassphraseFlag,
	OracleAddressFlag,
	RelayerEndpointFlag,
	RelayerSRVFlag,
	DNSResolverFlag,
	CallbackURLFlag,
	flags.IdentityKeyFlag,
	DCAPMeasurementsFlag,
}

type oracleSetup struct {
	oracle      interfaces.Oracle
	verifier    interfaces.AttestationVerifier
	address     common.Address
	callbackURL string

	// set in embedded mode only
	local   *oracle.LocalDeliverer
	relayer *oracle.Relayer
}

// SetupOracle wires either an in-process relayer or a client for remote relayers.
func SetupOracle(cCtx *cli.Context, blobs interfaces.StorageBackend, logger *slog.Logger) (*oracleSetup, error) {
	if cCtx.IsSet(flags.FHESecretKeyFlag.Name) {
		return setupEmbeddedOracle(cCtx, blobs, logger)
	}
	return setupRemoteOracle(cCtx, logger)
}

func setupEmbeddedOracle(cCtx *cli.Context, blobs interfaces.StorageBackend, logger *slog.Logger) (*oracleSetup, error) {
	decryptor, err := flags.LoadDecryptor(cCtx.String(flags.FHESecretKeyFlag.Name), cCtx.String(flags.FHEPassphraseFlag.Name))
	if err != nil {
		return nil, err
	}
	key, err := cryptoutils.ParsePrivateKey(cCtx.String(OracleKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", OracleKeyFlag.Name, err)
	}

	prover := cryptoutils.NewSignatureProver(key)
	local := &oracle.LocalDeliverer{Identity: prover.Address()}
	relayer := oracle.NewRelayer(oracle.RelayerConfig{}, blobs, decryptor, prover, local, logger)

	logger.Info("Using embedded oracle", "oracle", prover.Address().Hex())
	return &oracleSetup{
		oracle:   relayer,
		verifier: &cryptoutils.ProofVerifier{Signature: &cryptoutils.SignatureVerifier{Signer: prover.Address()}},
		address:  prover.Address(),
		local:    local,
		relayer:  relayer,
	}, nil
}

func setupRemoteOracle(cCtx *cli.Context, logger *slog.Logger) (*oracleSetup, error) {
	if !common.IsHexAddress(cCtx.String(OracleAddressFlag.Name)) {
		return nil, errors.New("--oracle-address is required without an embedded oracle")
	}
	oracleAddr := common.HexToAddress(cCtx.String(OracleAddressFlag.Name))

	callbackURL := cCtx.String(CallbackURLFlag.Name)
	if callbackURL == "" {
		return nil, errors.New("--callback-url is required with remote relayers")
	}

	endpoints := cCtx.StringSlice(RelayerEndpointFlag.Name)
	if domain := cCtx.String(RelayerSRVFlag.Name); domain != "" {
		discovered, err := oracle.ResolveRelayers(context.Background(), domain, cCtx.String(DNSResolverFlag.Name), "http")
		if err != nil {
			return nil, err
		}
		logger.Info("Discovered relayers", "domain", domain, "endpoints", discovered)
		endpoints = append(endpoints, discovered...)
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no relayer endpoints configured")
	}

	client := oracle.NewClient(endpoints, nil)
	if cCtx.IsSet(flags.IdentityKeyFlag.Name) {
		key, err := flags.LoadIdentityKey(cCtx)
		if err != nil {
			return nil, err
		}
		client.Key = key
	}

	verifier := &cryptoutils.ProofVerifier{Signature: &cryptoutils.SignatureVerifier{Signer: oracleAddr}}
	if path := cCtx.String(DCAPMeasurementsFlag.Name); path != "" {
		measurements, err := flags.LoadMeasurements(path)
		if err != nil {
			return nil, err
		}
		verifier.DCAP = &cryptoutils.DCAPVerifier{Oracle: oracleAddr, Measurements: measurements}
	}

	logger.Info("Using remote relayers", "oracle", oracleAddr.Hex(), "endpoints", endpoints)
	return &oracleSetup{
		oracle:      client,
		verifier:    verifier,
		address:     oracleAddr,
		callbackURL: callbackURL,
	}, nil
}
