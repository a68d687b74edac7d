package cryptoutils

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// AttestationProvider produces a TDX quote over 64 bytes of report data.
type AttestationProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// RemoteAttestationProvider asks a quote-provider sidecar for the quote.
type RemoteAttestationProvider struct {
	Address string
}

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DCAPAttestationProvider reads quotes from the local TDX guest.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// DecryptionReportData binds a decryption digest to the oracle identity:
// bytes 0..20 hold the oracle address, bytes 20..52 the digest.
func DecryptionReportData(oracle common.Address, digest common.Hash) [64]byte {
	var reportData [64]byte
	copy(reportData[:20], oracle[:])
	copy(reportData[20:52], digest[:])
	return reportData
}

// DCAPProver proves decryptions with a TDX quote, for oracles running in a TEE.
type DCAPProver struct {
	Oracle   common.Address
	Attester AttestationProvider
}

func (p *DCAPProver) Prove(requestID interfaces.RequestID, cleartexts []byte) ([]byte, error) {
	digest, err := DecryptionDigest(requestID, cleartexts)
	if err != nil {
		return nil, err
	}
	quote, err := p.Attester.Attest(DecryptionReportData(p.Oracle, digest))
	if err != nil {
		return nil, fmt.Errorf("attesting decryption: %w", err)
	}
	return append([]byte{ProofTypeDCAP}, quote...), nil
}

// DCAPVerifier accepts quotes whose report data matches the decryption and
// whose measurements include every entry of Measurements.
type DCAPVerifier struct {
	Oracle       common.Address
	Measurements map[int]string
}

func (v *DCAPVerifier) Verify(requestID interfaces.RequestID, cleartexts []byte, proof []byte) error {
	if len(proof) < 2 || proof[0] != ProofTypeDCAP {
		return fmt.Errorf("%w: not a DCAP proof", interfaces.ErrInvalidProof)
	}

	digest, err := DecryptionDigest(requestID, cleartexts)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	measurements, err := VerifyDCAPAttestation(DecryptionReportData(v.Oracle, digest), proof[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	for idx, expected := range v.Measurements {
		if measurements[idx] != expected {
			return fmt.Errorf("%w: measurement %d mismatch", interfaces.ErrInvalidProof, idx)
		}
	}
	return nil
}

// VerifyDCAPAttestation verifies a TDX v4 quote against Intel collateral and
// checks its report data. It returns MRTD, RTMR0-3 and the config/owner fields.
func VerifyDCAPAttestation(reportData [64]byte, report []byte) (map[int]string, error) {
	protoQuote, err := tdx_abi.QuoteToProto(report)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	options := verify.DefaultOptions()
	// TODO: fetch collateral before verifying to distinguish the error better
	err = verify.TdxQuote(protoQuote, options)
	if err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("invalid report data %x, expected %x", v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	measurements := map[int]string{
		0: hex.EncodeToString(v4Quote.TdQuoteBody.MrTd),
		1: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[0]),
		2: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[1]),
		3: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[2]),
		4: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[3]),
		5: hex.EncodeToString(v4Quote.TdQuoteBody.MrConfigId),
		6: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwner),
		7: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwnerConfig),
	}

	return measurements, nil
}
