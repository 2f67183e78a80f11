package truenas

// Create types accepted by the NAS certificate.create endpoint.
const (
	CreateTypeInternal    = "CERTIFICATE_CREATE_INTERNAL"
	CreateTypeImportedCSR = "CERTIFICATE_CREATE_IMPORTED_CSR"
)

type BasicConstraints struct {
	Enabled           bool `json:"enabled"`
	CA                bool `json:"ca"`
	ExtensionCritical bool `json:"extension_critical"`
}

type AuthorityKeyIdentifier struct {
	Enabled             bool `json:"enabled"`
	AuthorityCertIssuer bool `json:"authority_cert_issuer"`
	ExtensionCritical   bool `json:"extension_critical"`
}

type ExtendedKeyUsage struct {
	Enabled           bool     `json:"enabled"`
	Usages            []string `json:"usages"`
	ExtensionCritical bool     `json:"extension_critical"`
}

type KeyUsage struct {
	Enabled           bool `json:"enabled"`
	DigitalSignature  bool `json:"digital_signature"`
	KeyAgreement      bool `json:"key_agreement"`
	ExtensionCritical bool `json:"extension_critical"`
}

type CertExtensions struct {
	BasicConstraints       BasicConstraints       `json:"BasicConstraints"`
	AuthorityKeyIdentifier AuthorityKeyIdentifier `json:"AuthorityKeyIdentifier"`
	ExtendedKeyUsage       ExtendedKeyUsage       `json:"ExtendedKeyUsage"`
	KeyUsage               KeyUsage               `json:"KeyUsage"`
}

// ClientCertExtensions is the fixed extension profile applied to every
// certificate the portal asks the NAS to issue: a non-CA client-auth
// certificate signed with an issuer-keyed authority key identifier.
func ClientCertExtensions() CertExtensions {
	return CertExtensions{
		BasicConstraints: BasicConstraints{
			Enabled:           true,
			CA:                false,
			ExtensionCritical: true,
		},
		AuthorityKeyIdentifier: AuthorityKeyIdentifier{
			Enabled:             true,
			AuthorityCertIssuer: true,
			ExtensionCritical:   false,
		},
		ExtendedKeyUsage: ExtendedKeyUsage{
			Enabled:           true,
			Usages:            []string{"CLIENT_AUTH"},
			ExtensionCritical: true,
		},
		KeyUsage: KeyUsage{
			Enabled:           true,
			DigitalSignature:  true,
			KeyAgreement:      true,
			ExtensionCritical: true,
		},
	}
}

// CreateCertificateRequest is the payload of POST /certificate.
type CreateCertificateRequest struct {
	Name       string `json:"name"`
	CreateType string `json:"create_type"`

	SignedBy        int    `json:"signedby,omitempty"`
	KeyLength       int    `json:"key_length,omitempty"`
	KeyType         string `json:"key_type,omitempty"`
	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
	Lifetime        int    `json:"lifetime,omitempty"`

	Country      string `json:"country,omitempty"`
	State        string `json:"state,omitempty"`
	City         string `json:"city,omitempty"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
	Common       string `json:"common,omitempty"`

	// SAN values with their type tag already stripped.
	SAN []string `json:"san,omitempty"`

	// Imported-CSR creation only.
	CSR        string `json:"CSR,omitempty"`
	PrivateKey string `json:"privatekey,omitempty"`

	CertExtensions *CertExtensions `json:"cert_extensions,omitempty"`
}

// SignCSRRequest is the payload of POST /certificateauthority/ca_sign_csr.
type SignCSRRequest struct {
	CAID           int            `json:"ca_id"`
	CSRCertID      int            `json:"csr_cert_id"`
	Name           string         `json:"name"`
	CertExtensions CertExtensions `json:"cert_extensions"`
}
