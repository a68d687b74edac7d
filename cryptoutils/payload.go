package cryptoutils

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

var (
	stringTy, _ = abi.NewType("string", "", nil)
	bytesTy, _  = abi.NewType("bytes", "", nil)
	uint64Ty, _ = abi.NewType("uint64", "", nil)
)

// ApplicationCleartexts is the decoded answer to an application decryption.
type ApplicationCleartexts struct {
	FarmData        string
	YieldPrediction string
	RecommendedLoan uint64
}

// ArgumentsFor returns the ABI layout of a cleartext bundle for refs.
func ArgumentsFor(refs []interfaces.CiphertextRef) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(refs))
	for i, ref := range refs {
		switch ref.Type {
		case interfaces.StringValue:
			args = append(args, abi.Argument{Type: stringTy})
		case interfaces.Uint64Value:
			args = append(args, abi.Argument{Type: uint64Ty})
		default:
			return nil, fmt.Errorf("ciphertext %d: unsupported value type %v", i, ref.Type)
		}
	}
	return args, nil
}

// EncodeCleartexts ABI-encodes decrypted values in request order.
func EncodeCleartexts(refs []interfaces.CiphertextRef, values []any) ([]byte, error) {
	if len(refs) != len(values) {
		return nil, fmt.Errorf("got %d values for %d ciphertexts", len(values), len(refs))
	}
	args, err := ArgumentsFor(refs)
	if err != nil {
		return nil, err
	}
	return args.Pack(values...)
}

// EncodeApplicationCleartexts packs (string farmData, string yield, uint64 loan).
func EncodeApplicationCleartexts(c ApplicationCleartexts) ([]byte, error) {
	return applicationArguments().Pack(c.FarmData, c.YieldPrediction, c.RecommendedLoan)
}

// DecodeApplicationCleartexts unpacks exactly three fields. Any shape or type
// mismatch, including trailing bytes, yields ErrMalformedPayload, as does text
// that is not NUL-free UTF-8.
func DecodeApplicationCleartexts(data []byte) (ApplicationCleartexts, error) {
	args := applicationArguments()
	values, err := unpackCanonical(args, data)
	if err != nil {
		return ApplicationCleartexts{}, err
	}

	farmData, ok1 := values[0].(string)
	yield, ok2 := values[1].(string)
	loan, ok3 := values[2].(uint64)
	if !ok1 || !ok2 || !ok3 {
		return ApplicationCleartexts{}, fmt.Errorf("%w: unexpected field types", interfaces.ErrMalformedPayload)
	}

	if err := checkText("farm data", farmData); err != nil {
		return ApplicationCleartexts{}, err
	}
	if err := checkText("yield prediction", yield); err != nil {
		return ApplicationCleartexts{}, err
	}

	return ApplicationCleartexts{FarmData: farmData, YieldPrediction: yield, RecommendedLoan: loan}, nil
}

// checkText accepts UTF-8 without NUL bytes, which text columns cannot hold.
func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", interfaces.ErrMalformedPayload, field)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %s contains a NUL byte", interfaces.ErrMalformedPayload, field)
	}
	return nil
}

// EncodeCount packs a single uint64.
func EncodeCount(count uint64) ([]byte, error) {
	return abi.Arguments{{Type: uint64Ty}}.Pack(count)
}

// DecodeCount unpacks a single uint64.
func DecodeCount(data []byte) (uint64, error) {
	values, err := unpackCanonical(abi.Arguments{{Type: uint64Ty}}, data)
	if err != nil {
		return 0, err
	}
	count, ok := values[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected field type", interfaces.ErrMalformedPayload)
	}
	return count, nil
}

func applicationArguments() abi.Arguments {
	return abi.Arguments{
		{Type: stringTy},
		{Type: stringTy},
		{Type: uint64Ty},
	}
}

// unpackCanonical rejects encodings that do not re-pack to the same bytes.
func unpackCanonical(args abi.Arguments, data []byte) (values []any, err error) {
	defer func() {
		// abi decoding of hostile input has panicked in past releases
		if r := recover(); r != nil {
			values, err = nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, r)
		}
	}()

	values, err = args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	if len(values) != len(args) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", interfaces.ErrMalformedPayload, len(args), len(values))
	}

	repacked, err := args.Pack(values...)
	if err != nil || !bytes.Equal(repacked, data) {
		return nil, fmt.Errorf("%w: non-canonical encoding", interfaces.ErrMalformedPayload)
	}
	return values, nil
}
