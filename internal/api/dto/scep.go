package dto

// SCEPRequest is the body of POST /api/v1/scep/request. All inputs are PEM.
type SCEPRequest struct {
	Certificate   string `json:"certificate"`
	PrivateKey    string `json:"private_key"`
	CACertificate string `json:"ca_certificate"`
	CSR           string `json:"csr"`

	// Digest and Cipher override the server defaults.
	Digest string `json:"digest,omitempty"`
	Cipher string `json:"cipher,omitempty"`

	// KeyPassphrase is taken literally; the env: form is not honored here.
	KeyPassphrase string `json:"key_passphrase,omitempty"`
}

// SCEPResponse is the JSON result of a build.
type SCEPResponse struct {
	Message        string `json:"message"` // PEM, "SCEP MESSAGE"
	TransactionID  string `json:"transaction_id"`
	SenderNonce    string `json:"sender_nonce"`    // hex
	RecipientNonce string `json:"recipient_nonce"` // hex
	Digest         string `json:"digest"`
	Cipher         string `json:"cipher"`
}

// InspectRequest is the body of POST /api/v1/scep/inspect.
type InspectRequest struct {
	Message string `json:"message"` // PEM or base64 DER
}

// RecipientInfo identifies an envelope recipient.
type RecipientInfo struct {
	Issuer string `json:"issuer"`
	Serial string `json:"serial"`
}

// InspectResponse describes a decoded pkiMessage.
type InspectResponse struct {
	MessageType        string           `json:"message_type"`
	PKIStatus          string           `json:"pki_status,omitempty"`
	TransactionID      string           `json:"transaction_id"`
	SenderNonce        string           `json:"sender_nonce"`
	RecipientNonce     string           `json:"recipient_nonce"`
	SigningTime        string           `json:"signing_time,omitempty"` // RFC 3339
	ContentType        string           `json:"content_type"`
	Digest             string           `json:"digest"`
	SignatureAlgorithm string           `json:"signature_algorithm"`
	Signer             *CertificateInfo `json:"signer,omitempty"`
	Cipher             string           `json:"cipher"`
	Recipients         []RecipientInfo  `json:"recipients"`
	SignatureValid     bool             `json:"signature_valid"`
	SignatureError     string           `json:"signature_error,omitempty"`
}
