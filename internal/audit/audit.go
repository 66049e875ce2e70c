package audit

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalWriter Writer = NopWriter{}
	enabled      bool
)

// Init installs w as the process-wide writer. A nil w disables auditing.
func Init(w Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter, enabled = NopWriter{}, false
		return
	}
	globalWriter, enabled = w, true
}

// InitFile enables auditing to the file at path. An empty path disables
// auditing.
func InitFile(path string) error {
	if path == "" {
		Init(nil)
		return nil
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	Init(w)
	return nil
}

// Close closes the process-wide writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter, enabled = NopWriter{}, false
	return err
}

// Enabled reports whether auditing is on.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes event. When auditing is on and this fails, the caller must
// fail too.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// RequestInfo describes a PKCSReq build for the audit trail.
type RequestInfo struct {
	TransactionID string
	Subject       string // CSR subject
	SignerSerial  string
	Digest        string
	Cipher        string
	Recipient     string // CA subject
	Output        string
}

// LogRequestBuilt records a successful build.
func LogRequestBuilt(info RequestInfo) error {
	return Log(NewEvent(EventRequestBuilt, ResultSuccess).
		WithObject(Object{
			Type:          "scep_request",
			TransactionID: info.TransactionID,
			Subject:       info.Subject,
			Serial:        info.SignerSerial,
			Path:          info.Output,
		}).
		WithDetails(Details{
			Digest:    info.Digest,
			Cipher:    info.Cipher,
			Recipient: info.Recipient,
		}))
}

// LogRequestFailed records a failed build with its reason.
func LogRequestFailed(info RequestInfo, cause error) error {
	return Log(NewEvent(EventRequestFailed, ResultFailure).
		WithObject(Object{
			Type:    "scep_request",
			Subject: info.Subject,
			Serial:  info.SignerSerial,
		}).
		WithDetails(Details{
			Digest: info.Digest,
			Cipher: info.Cipher,
			Reason: cause.Error(),
		}))
}

// LogInspect records a message inspection and whether its signature held.
func LogInspect(path, transactionID string, signatureValid bool) error {
	return Log(NewEvent(EventInspect, ResultSuccess).
		WithObject(Object{Type: "scep_request", TransactionID: transactionID, Path: path}).
		WithDetails(Details{Verified: signatureValid}))
}

// LogReceiptVerify records a receipt verification.
func LogReceiptVerify(path, transactionID string, err error) error {
	d := Details{Verified: err == nil}
	if err != nil {
		d.Reason = err.Error()
	}
	return Log(NewEvent(EventReceiptVerify, ResultOf(err)).
		WithObject(Object{Type: "receipt", TransactionID: transactionID, Path: path}).
		WithDetails(d))
}

// LogKeyAccessed records use of a signing or decryption key. key is a
// location such as a path or "pkcs11:label".
func LogKeyAccessed(key string, err error) error {
	d := Details{Key: key}
	if err != nil {
		d.Reason = err.Error()
	}
	return Log(NewEvent(EventKeyAccessed, ResultOf(err)).
		WithObject(Object{Type: "key"}).
		WithDetails(d))
}

// LogServiceStarted records the HTTP service coming up.
func LogServiceStarted(address, version string) error {
	return Log(NewEvent(EventServiceStarted, ResultSuccess).
		WithActor(Actor{Type: "service", ID: "qscep " + version}).
		WithObject(Object{Type: "service"}).
		WithDetails(Details{Address: address}))
}
