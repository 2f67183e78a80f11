package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tnscm/tnscm/pkg/tnscm/api"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
)

// RestClient talks to a running portal. The fingerprint impersonates a
// client certificate the way the TLS terminator would; it only works when
// the portal is reached over a trusted channel that strips the header
// otherwise.
type RestClient struct {
	fingerprint string
	server      string // http://server/
}

func NewRestClient(server, fingerprint string) *RestClient {
	return &RestClient{
		fingerprint: fingerprint,
		server:      server,
	}
}

func (r *RestClient) ListCertificateAuthorities() ([]model.CertificateAuthority, error) {
	cas := []model.CertificateAuthority{}
	if err := r.execute(http.MethodGet, "/ca", nil, &cas); err != nil {
		return nil, err
	}
	return cas, nil
}

func (r *RestClient) ListCertificates() ([]api.CertificateView, error) {
	certs := []api.CertificateView{}
	if err := r.execute(http.MethodGet, "/admin/certs", nil, &certs); err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *RestClient) Me() (api.MeResponse, error) {
	me := api.MeResponse{}
	if err := r.execute(http.MethodGet, "/me", nil, &me); err != nil {
		return api.MeResponse{}, err
	}
	return me, nil
}

func (r *RestClient) Renew() (api.RenewResponse, error) {
	renewed := api.RenewResponse{}
	if err := r.execute(http.MethodPost, "/renew", nil, &renewed); err != nil {
		return api.RenewResponse{}, err
	}
	return renewed, nil
}

func (r *RestClient) CreatePickupSession(certID int) (api.PickupSessionResponse, error) {
	path := fmt.Sprintf("/admin/qrcode/%d", certID)
	pickup := api.PickupSessionResponse{}
	if err := r.execute(http.MethodPost, path, nil, &pickup); err != nil {
		return api.PickupSessionResponse{}, err
	}
	return pickup, nil
}

func (r *RestClient) execute(method, path string, body io.Reader, result any) error {
	endPoint := r.server + path
	req, err := http.NewRequest(method, endPoint, body)
	if err != nil {
		return err
	}
	if r.fingerprint != "" {
		req.Header.Set(api.FINGERPRINT_HEADER, r.fingerprint)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status/100 != 2 {
		message, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", status, string(message))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return err
		}
	}
	return nil
}
