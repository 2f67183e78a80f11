package api

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/util"
)

type ResponseInterceptor struct {
	writer http.ResponseWriter
	Status int
	Body   []byte
}

func NewResponseInterceptor(w http.ResponseWriter) *ResponseInterceptor {
	return &ResponseInterceptor{writer: w}
}

func (r *ResponseInterceptor) WriteHeader(status int) {
	r.Status = status
	r.writer.WriteHeader(status)
}

func (r *ResponseInterceptor) Write(b []byte) (int, error) {
	if r.Status/100 != 2 {
		r.Body = append(r.Body, b...)
	}
	return r.writer.Write(b)
}

func (r *ResponseInterceptor) Header() http.Header {
	return r.writer.Header()
}

func (r *ResponseInterceptor) Returned() string {
	if len(r.Body) > 0 {
		return fmt.Sprintf("%d %s", r.Status, string(r.Body))
	}

	return fmt.Sprintf("%d", r.Status)
}

func (r *ResponseInterceptor) IsSystemError() bool {
	return r.Status/100 == 5
}

// Log tags every request with a correlation id and records its outcome.
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := util.NewUUID()
		log := logrus.WithField("request_id", requestID)

		interceptor := NewResponseInterceptor(w)
		w = interceptor
		log.Debugf("Request %s %s started.", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		if interceptor.IsSystemError() {
			log.Errorf("Request %s %s returned %s", r.Method, r.URL.Path, interceptor.Returned())
		} else {
			log.Debugf("Request %s %s returned %s", r.Method, r.URL.Path, interceptor.Returned())
		}
	})
}
