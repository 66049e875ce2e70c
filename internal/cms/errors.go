package cms

import (
	"errors"
	"fmt"
)

// Operations reported in CMSError.Op.
const (
	OpEncrypt = "encrypt" // building EnvelopedData
	OpDecrypt = "decrypt" // opening EnvelopedData
	OpVerify  = "verify"  // checking a SignerInfo
)

// CMSError wraps a failure of one of the top-level operations. The
// cause is reachable with errors.Is and errors.As.
type CMSError struct {
	Op  string // one of OpEncrypt, OpDecrypt, OpVerify
	Err error
}

func (e *CMSError) Error() string {
	return fmt.Sprintf("cms %s: %v", e.Op, e.Err)
}

func (e *CMSError) Unwrap() error { return e.Err }

// NewCMSError tags err with the operation that produced it.
func NewCMSError(op string, err error) *CMSError {
	return &CMSError{Op: op, Err: err}
}

// Parsing. Any operation that decodes DER can report these.
var (
	ErrInvalidContent       = errors.New("invalid CMS content")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// OpEncrypt.
var (
	ErrInvalidRecipient = errors.New("invalid recipient information")
	ErrEncryptFailed    = errors.New("encryption failed")
)

// OpDecrypt.
var (
	ErrNoRecipient   = errors.New("no matching recipient")
	ErrDecryptFailed = errors.New("decryption failed")
)

// OpVerify.
var (
	ErrNoSigner         = errors.New("no signer information")
	ErrNoCertificate    = errors.New("no certificate found")
	ErrMissingAttribute = errors.New("missing signed attribute")
	ErrInvalidSignature = errors.New("invalid signature")
)
