package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/tnscm/tnscm/pkg/openssl"
	"github.com/tnscm/tnscm/pkg/tnscm/auth"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
	"github.com/tnscm/tnscm/pkg/tnscm/renew"
	"github.com/tnscm/tnscm/pkg/tnscm/session"
	"github.com/tnscm/tnscm/pkg/tnscm/truenas"
)

type ContextKey string

const (
	// FINGERPRINT_HEADER carries the verified client-certificate
	// fingerprint, set by the mutual-TLS terminator in front of the portal.
	FINGERPRINT_HEADER      = "X-SSL-Client-SHA1"
	FORWARDED_HOST_HEADER   = "X-Forwarded-Host"
	FINGERPRINT_CONTEXT_KEY = ContextKey("client_fingerprint")
)

type RestServerConfig struct {
	ServerAddress string `yaml:"server_address"`
}

type RestServer struct {
	connector  truenas.Connector
	authorizer *auth.Authorizer
	renewer    *renew.Service
	sessions   *session.Store
	converter  openssl.Converter
	httpServer *http.Server
}

// ExtractFingerprint threads the upstream-verified fingerprint through the
// request context, so handlers never read it ambiently.
func ExtractFingerprint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fingerprint := r.Header.Get(FINGERPRINT_HEADER)
		ctx = context.WithValue(ctx, FINGERPRINT_CONTEXT_KEY, fingerprint)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFingerprint(ctx context.Context) string {
	fingerprint, _ := ctx.Value(FINGERPRINT_CONTEXT_KEY).(string)
	return fingerprint
}

func NewRestServer(
	connector truenas.Connector,
	authorizer *auth.Authorizer,
	renewer *renew.Service,
	sessions *session.Store,
	converter openssl.Converter,
	address string,
) *RestServer {
	restServer := &RestServer{
		connector:  connector,
		authorizer: authorizer,
		renewer:    renewer,
		sessions:   sessions,
		converter:  converter,
	}

	router := mux.NewRouter()
	router.Use(Log, ExtractFingerprint)
	router.HandleFunc("/ca", restServer.listCertificateAuthorities).Methods(http.MethodGet)
	router.HandleFunc("/me", restServer.me).Methods(http.MethodGet)
	router.HandleFunc("/remaining", restServer.remaining).Methods(http.MethodGet)
	router.HandleFunc("/pkcs12/{id}", restServer.downloadPKCS12).Methods(http.MethodGet)
	router.HandleFunc("/renew", restServer.renewCertificate).Methods(http.MethodPost)
	router.HandleFunc("/admin/certs", restServer.adminListCertificates).Methods(http.MethodGet)
	router.HandleFunc("/admin/qrcode/{id}", restServer.createPickupSession).Methods(http.MethodPost)
	router.HandleFunc("/qrcode/{key}", restServer.redeemPickupSession).Methods(http.MethodGet)

	restServer.httpServer = &http.Server{
		Addr:    address,
		Handler: router,
	}
	return restServer
}

func (s *RestServer) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *RestServer) Close(ctx context.Context) error {
	s.httpServer.SetKeepAlivesEnabled(false)
	return s.httpServer.Shutdown(ctx)
}

// CertificateView is a certificate listing entry with all private material
// stripped.
type CertificateView struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DN            string `json:"DN"`
	Fingerprint   string `json:"fingerprint"`
	From          string `json:"from"`
	Until         string `json:"until"`
	RemainingDays int    `json:"remaining_days"`
}

func toView(cert model.Certificate, now time.Time) CertificateView {
	return CertificateView{
		ID:            cert.ID,
		Name:          cert.Name,
		DN:            cert.DN,
		Fingerprint:   cert.Fingerprint,
		From:          cert.From,
		Until:         cert.Until,
		RemainingDays: cert.RemainingDays(now),
	}
}

type MeResponse struct {
	Certificate CertificateView   `json:"certificate"`
	Lineage     []CertificateView `json:"lineage"`
}

type RenewResponse struct {
	Certificate CertificateView `json:"certificate"`
	Issued      bool            `json:"issued"`
}

type PickupSessionResponse struct {
	Key              string `json:"key"`
	URL              string `json:"url"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (s *RestServer) listCertificateAuthorities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cas, err := s.connector.ListCertificateAuthorities(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list certificate authorities: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(cas)
}

func (s *RestServer) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := s.authorizer.ResolveCaller(ctx, callerFingerprint(ctx))
	if err != nil {
		http.Error(w, "Forbidden", model.ErrToHttpStatus(err))
		return
	}

	lineage, err := s.renewer.Lineage(ctx, caller.DN)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list certificates: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	now := time.Now()
	resp := MeResponse{
		Certificate: toView(caller, now),
		Lineage:     lo.Map(lineage, func(cert model.Certificate, _ int) CertificateView { return toView(cert, now) }),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *RestServer) remaining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := s.authorizer.ResolveCaller(ctx, callerFingerprint(ctx))
	if err != nil {
		http.Error(w, "Forbidden", model.ErrToHttpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%d", caller.RemainingDays(time.Now()))
}

func (s *RestServer) downloadPKCS12(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	certID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid certificate id", http.StatusBadRequest)
		return
	}

	cert, err := s.connector.GetCertificateByID(ctx, certID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Certificate not found: %d", certID), model.ErrToHttpStatus(err))
		return
	}

	if err := s.authorizer.AuthorizeDownload(ctx, cert, callerFingerprint(ctx)); err != nil {
		http.Error(w, "Forbidden", model.ErrToHttpStatus(err))
		return
	}

	s.servePKCS12(w, r, cert)
}

func (s *RestServer) renewCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cert, issued, err := s.renewer.RenewOrFetchLatest(ctx, callerFingerprint(ctx), 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("Renewal failed: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	resp := RenewResponse{Certificate: toView(cert, time.Now()), Issued: issued}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *RestServer) adminListCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.requireAdmin(w, r) {
		return
	}

	certs, err := s.connector.ListCertificates(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list certificates: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].Name < certs[j].Name })

	now := time.Now()
	views := lo.Map(certs, func(cert model.Certificate, _ int) CertificateView { return toView(cert, now) })

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(views)
}

func (s *RestServer) createPickupSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.requireAdmin(w, r) {
		return
	}

	certID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid certificate id", http.StatusBadRequest)
		return
	}
	if _, err := s.connector.GetCertificateByID(ctx, certID); err != nil {
		http.Error(w, fmt.Sprintf("Certificate not found: %d", certID), model.ErrToHttpStatus(err))
		return
	}

	issued, err := s.sessions.Issue(certID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to issue session: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	resp := PickupSessionResponse{
		Key:              issued.Key,
		URL:              fmt.Sprintf("https://%s/qrcode/%s", r.Header.Get(FORWARDED_HOST_HEADER), issued.Key),
		RemainingSeconds: int(s.sessions.Remaining(issued.Key) / time.Second),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *RestServer) redeemPickupSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Possession of a live key is the whole authorization here.
	certID, ok := s.sessions.Redeem(mux.Vars(r)["key"])
	if !ok {
		http.Error(w, "Unknown or expired session", http.StatusNotFound)
		return
	}

	cert, err := s.connector.GetCertificateByID(ctx, certID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Certificate not found: %d", certID), model.ErrToHttpStatus(err))
		return
	}

	s.servePKCS12(w, r, cert)
}

func (s *RestServer) servePKCS12(w http.ResponseWriter, r *http.Request, cert model.Certificate) {
	blob, err := s.converter.ToPKCS12(r.Context(), cert)
	if err != nil {
		http.Error(w, fmt.Sprintf("Conversion failed: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/x-pkcs12")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pfx", cert.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *RestServer) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	admin, err := s.authorizer.IsAdmin(r.Context(), callerFingerprint(r.Context()))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to check caller: %s", err.Error()), model.ErrToHttpStatus(err))
		return false
	}
	if !admin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}
