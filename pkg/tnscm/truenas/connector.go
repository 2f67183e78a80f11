package truenas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
	"github.com/tnscm/tnscm/pkg/util"
)

// Connector is the sole gateway to the NAS certificate API.
type Connector interface {
	ListCertificateAuthorities(ctx context.Context) ([]model.CertificateAuthority, error)
	ListCertificates(ctx context.Context) ([]model.Certificate, error)

	// GetCertificateByFingerprint matches on the normalized fingerprint
	// form. The result may be served from the connector's cache.
	GetCertificateByFingerprint(ctx context.Context, fingerprint string) (model.Certificate, error)
	GetCertificateByID(ctx context.Context, id int) (model.Certificate, error)

	CreateCertificate(ctx context.Context, req CreateCertificateRequest) (model.Job, error)
	WaitForJob(ctx context.Context, jobID int64) (model.Certificate, error)

	// Renew submits an internal creation request derived from cert and waits
	// for the issuance job.
	Renew(ctx context.Context, cert model.Certificate, lifetimeDays int) (model.Certificate, error)

	// ImportCSR registers an externally produced CSR, paired with the
	// original private key, as a pending certificate.
	ImportCSR(ctx context.Context, csrPEM string, cert model.Certificate) (model.Certificate, error)

	// SignCSR asks the NAS to sign a pending CSR against the given CA.
	// A nil certificate with a nil error means the NAS declined to issue.
	SignCSR(ctx context.Context, csrCertID int, caID int, name string) (*model.Certificate, error)
}

type Config struct {
	ServerURL          string `yaml:"server_url"`
	APIKey             string `yaml:"api_key"`
	PollIntervalMillis int    `yaml:"poll_interval_millis"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

type RestConnectorOption func(c *RestConnector)

func WithHTTPClient(client *http.Client) RestConnectorOption {
	return func(c *RestConnector) {
		c.client = client
	}
}

type RestConnector struct {
	serverURL    string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration

	mu            sync.RWMutex
	byFingerprint map[string]model.Certificate
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPollTimeout  = 60 * time.Second
)

func NewRestConnectorWithConfig(cfg Config, opts ...RestConnectorOption) *RestConnector {
	c := &RestConnector{
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:        cfg.APIKey,
		client:        &http.Client{Timeout: 30 * time.Second},
		pollInterval:  defaultPollInterval,
		pollTimeout:   defaultPollTimeout,
		byFingerprint: make(map[string]model.Certificate),
	}
	if cfg.PollIntervalMillis > 0 {
		c.pollInterval = time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	}
	if cfg.PollTimeoutSeconds > 0 {
		c.pollTimeout = time.Duration(cfg.PollTimeoutSeconds) * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RestConnector) ListCertificateAuthorities(ctx context.Context) ([]model.CertificateAuthority, error) {
	cas := []model.CertificateAuthority{}
	if err := c.execute(ctx, http.MethodGet, "/certificateauthority", nil, &cas); err != nil {
		return nil, err
	}
	return cas, nil
}

func (c *RestConnector) ListCertificates(ctx context.Context) ([]model.Certificate, error) {
	certs := []model.Certificate{}
	if err := c.execute(ctx, http.MethodGet, "/certificate", nil, &certs); err != nil {
		return nil, err
	}
	return certs, nil
}

func (c *RestConnector) GetCertificateByFingerprint(ctx context.Context, fingerprint string) (model.Certificate, error) {
	normalized := model.NormalizeFingerprint(fingerprint)

	c.mu.RLock()
	cached, ok := c.byFingerprint[normalized]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	certs, err := c.ListCertificates(ctx)
	if err != nil {
		return model.Certificate{}, err
	}
	for _, cert := range certs {
		if model.NormalizeFingerprint(cert.Fingerprint) == normalized {
			// Fingerprints are derived from key material, so an entry stays
			// valid for the lifetime of the process. See DESIGN.md.
			c.mu.Lock()
			c.byFingerprint[normalized] = cert
			c.mu.Unlock()
			return cert, nil
		}
	}
	return model.Certificate{}, fmt.Errorf("no certificate with fingerprint %s%w", normalized, model.ErrNotFound)
}

func (c *RestConnector) GetCertificateByID(ctx context.Context, id int) (model.Certificate, error) {
	certs, err := c.ListCertificates(ctx)
	if err != nil {
		return model.Certificate{}, err
	}
	cert, found := lo.Find(certs, func(cert model.Certificate) bool { return cert.ID == id })
	if !found {
		return model.Certificate{}, fmt.Errorf("no certificate with id %d%w", id, model.ErrNotFound)
	}
	return cert, nil
}

func (c *RestConnector) CreateCertificate(ctx context.Context, req CreateCertificateRequest) (model.Job, error) {
	if err := ValidateCreateCertificateRequest(req); err != nil {
		return model.Job{}, err
	}

	var jobID int64
	if err := c.execute(ctx, http.MethodPost, "/certificate", util.StructToJSONReader(req), &jobID); err != nil {
		return model.Job{}, err
	}
	logrus.Debugf("certificate.create %q accepted as job %d", req.Name, jobID)
	return model.Job{ID: jobID, Method: "certificate.create", State: model.JobStateRunning}, nil
}

// errJobStillRunning marks a poll attempt that has to be retried.
var errJobStillRunning = errors.New("job still running")

func (c *RestConnector) WaitForJob(ctx context.Context, jobID int64) (model.Certificate, error) {
	attempts := uint(c.pollTimeout / c.pollInterval)
	if attempts == 0 {
		attempts = 1
	}

	var result model.Certificate
	err := retry.Do(
		func() error {
			jobs := []model.Job{}
			if err := c.execute(ctx, http.MethodGet, "/core/get_jobs", nil, &jobs); err != nil {
				return retry.Unrecoverable(err)
			}

			job, found := lo.Find(jobs, func(j model.Job) bool { return j.ID == jobID })
			if !found {
				return retry.Unrecoverable(fmt.Errorf("job %d vanished before completion%w", jobID, model.ErrJobNotFound))
			}

			switch job.State {
			case model.JobStateRunning:
				return errJobStillRunning
			case model.JobStateSuccess:
				if job.Result == nil {
					return retry.Unrecoverable(fmt.Errorf("job %d succeeded without a result%w", jobID, model.ErrRemoteJob))
				}
				result = *job.Result
				return nil
			case model.JobStateFailed:
				return retry.Unrecoverable(fmt.Errorf("job %d failed: %s%w", jobID, job.Error, model.ErrRemoteJob))
			default:
				return retry.Unrecoverable(fmt.Errorf("job %d in unexpected state %q%w", jobID, job.State, model.ErrRemoteJob))
			}
		},
		retry.Attempts(attempts),
		retry.Delay(c.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	if errors.Is(err, errJobStillRunning) {
		return model.Certificate{}, fmt.Errorf("job %d still running after %s%w", jobID, c.pollTimeout, model.ErrJobTimeout)
	}
	if err != nil {
		return model.Certificate{}, err
	}
	return result, nil
}

func (c *RestConnector) Renew(ctx context.Context, cert model.Certificate, lifetimeDays int) (model.Certificate, error) {
	signedBy := 0
	if cert.SignedBy != nil {
		signedBy = cert.SignedBy.ID
	}

	extensions := ClientCertExtensions()
	req := CreateCertificateRequest{
		Name:            GenerateName(cert.Name),
		CreateType:      CreateTypeInternal,
		SignedBy:        signedBy,
		KeyLength:       cert.KeyLength,
		KeyType:         cert.KeyType,
		DigestAlgorithm: cert.DigestAlgorithm,
		Lifetime:        lifetimeDays,
		Country:         cert.Country,
		State:           cert.State,
		City:            cert.City,
		Organization:    cert.Organization,
		Email:           cert.Email,
		Common:          cert.Common,
		SAN:             lo.Map(cert.SAN, func(entry string, _ int) string { return model.SANValue(entry) }),
		CertExtensions:  &extensions,
	}

	job, err := c.CreateCertificate(ctx, req)
	if err != nil {
		return model.Certificate{}, err
	}
	return c.WaitForJob(ctx, job.ID)
}

func (c *RestConnector) ImportCSR(ctx context.Context, csrPEM string, cert model.Certificate) (model.Certificate, error) {
	req := CreateCertificateRequest{
		Name:       GenerateName(cert.Name),
		CreateType: CreateTypeImportedCSR,
		CSR:        csrPEM,
		PrivateKey: cert.PrivateKey,
	}

	job, err := c.CreateCertificate(ctx, req)
	if err != nil {
		return model.Certificate{}, err
	}
	return c.WaitForJob(ctx, job.ID)
}

func (c *RestConnector) SignCSR(ctx context.Context, csrCertID int, caID int, name string) (*model.Certificate, error) {
	req := SignCSRRequest{
		CAID:           caID,
		CSRCertID:      csrCertID,
		Name:           name,
		CertExtensions: ClientCertExtensions(),
	}
	if err := ValidateSignCSRRequest(req); err != nil {
		return nil, err
	}

	cert := model.Certificate{}
	status, message, err := c.tryExecute(ctx, http.MethodPost, "/certificateauthority/ca_sign_csr", util.StructToJSONReader(req), &cert)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		// The NAS declining to sign is a defined outcome, not a failure.
		logrus.Warnf("ca_sign_csr declined for csr %d against ca %d: %d %s", csrCertID, caID, status, message)
		return nil, nil
	}
	return &cert, nil
}

func (c *RestConnector) api() string {
	return c.serverURL + "/api/v2.0"
}

// execute performs a request against the NAS API and decodes the 2xx
// response into result. Network failures and non-2xx statuses both surface
// as transport errors.
func (c *RestConnector) execute(ctx context.Context, method, path string, body io.Reader, result any) error {
	status, message, err := c.tryExecute(ctx, method, path, body, result)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s %s returned %d: %s%w", method, path, status, message, model.ErrTransport)
	}
	return nil
}

// tryExecute is execute without treating a non-2xx status as an error; it
// hands the status and response message back instead. SignCSR needs the
// distinction.
func (c *RestConnector) tryExecute(ctx context.Context, method, path string, body io.Reader, result any) (int, string, error) {
	endPoint := c.api() + path
	req, err := http.NewRequestWithContext(ctx, method, endPoint, body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %s%w", method, path, err.Error(), model.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		message, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(message), nil
	}

	if result == nil {
		return resp.StatusCode, "", nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, "", nil
}
