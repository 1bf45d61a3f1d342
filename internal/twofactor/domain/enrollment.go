package domain

// AuthenticatorEnrollment is returned once at authenticator setup. The secret
// and QR code are never retrievable again after this response.
type AuthenticatorEnrollment struct {
	Secret     string // Base32 seed, for manual entry
	OTPAuthURL string // otpauth:// provisioning URI
	QRCode     []byte // PNG render of the provisioning URI
	Issuer     string
	Account    string
}
