package model

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrInvalidParameter = errors.New("") // Base error for invalid parameter
var ErrTransport = errors.New("")        // Network failure or non-2xx from the NAS
var ErrNotFound = errors.New("")         // Base error for data not found
var ErrForbidden = errors.New("")        // Caller has no right to the resource

var ErrCertNotFound = fmt.Errorf("certificate not found%w", ErrNotFound)

// Asynchronous issuance errors.
var ErrRemoteJob = errors.New("")   // Job reached FAILED
var ErrJobNotFound = errors.New("") // Job vanished before a terminal state
var ErrJobTimeout = errors.New("")  // Job did not reach a terminal state in time

var ErrConversion = errors.New("") // The PKCS#12/CSR converter failed

func ErrToHttpStatus(err error) int {
	if errors.Is(err, ErrInvalidParameter) {
		return http.StatusBadRequest
	} else if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	} else if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	} else if errors.Is(err, ErrTransport) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
