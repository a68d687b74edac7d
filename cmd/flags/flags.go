package flags

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/confidential-loan-ledger/api"
	"github.com/ruteri/confidential-loan-ledger/common"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/fhe"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadHeaderTimeout:        5 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		IdleTimeout:              120 * time.Second,
	}
}

// LoadIdentityKey reads the secp256k1 key named by IdentityKeyFlag.
func LoadIdentityKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	key, err := cryptoutils.ParsePrivateKey(cCtx.String(IdentityKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", IdentityKeyFlag.Name, err)
	}
	return key, nil
}

// LoadProvider builds the homomorphic provider from the public key file.
func LoadProvider(path string) (*fhe.Provider, error) {
	params, err := fhe.DefaultParameters()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	pk, err := fhe.ParsePublicKey(params, data)
	if err != nil {
		return nil, err
	}
	return fhe.NewProvider(params, pk)
}

// LoadDecryptor opens the sealed secret key file with passphrase.
func LoadDecryptor(path string, passphrase string) (*fhe.Decryptor, error) {
	params, err := fhe.DefaultParameters()
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed secret key: %w", err)
	}
	sk, err := fhe.OpenSecretKey(params, sealed, []byte(passphrase))
	if err != nil {
		return nil, err
	}
	return fhe.NewDecryptor(params, sk)
}

// LoadMeasurements reads expected TDX measurements as a JSON object
// mapping register index to hex value, e.g. {"0":"ab..","3":"cd.."}.
func LoadMeasurements(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading measurements: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing measurements: %w", err)
	}
	measurements := make(map[int]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid measurement register %q: %w", k, err)
		}
		measurements[idx] = v
	}
	return measurements, nil
}

var ListenAddrFlagFn = func(defaultAddr string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "listen-addr",
		Value: defaultAddr,
		Usage: "address to listen on for API",
	}
}

var StorageFlag = &cli.StringSliceFlag{
	Name:    "storage",
	Value:   cli.NewStringSlice("memory://ledger"),
	EnvVars: []string{"LEDGER_STORAGE"},
	Usage:   "ciphertext storage URI (file://, s3://, ipfs://, vault://, memory://); repeat for redundancy",
}

var IdentityKeyFlag = &cli.StringFlag{
	Name:    "identity-key",
	EnvVars: []string{"LEDGER_IDENTITY_KEY"},
	Usage:   "hex secp256k1 private key used to sign requests",
}

var FHEPublicKeyFlag = &cli.StringFlag{
	Name:  "fhe-public-key",
	Value: "fhe.pub",
	Usage: "path to the FHE public key",
}

var FHESecretKeyFlag = &cli.StringFlag{
	Name:  "fhe-secret-key",
	Usage: "path to the sealed FHE secret key",
}

var FHEPassphraseFlag = &cli.StringFlag{
	Name:    "fhe-passphrase",
	EnvVars: []string{"LEDGER_FHE_PASSPHRASE"},
	Usage:   "passphrase of the sealed FHE secret key",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
