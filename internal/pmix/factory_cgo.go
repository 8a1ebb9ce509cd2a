//go:build pmix_cgo

package pmix

import "github.com/openpmix/mpirshim/internal/pmix/cgoclient"

// NewRealClient returns the cgo-backed PMIx tool client. Available only
// when built with -tags pmix_cgo against a machine with libpmix and its
// headers installed.
func NewRealClient() (Client, error) {
	return cgoclient.New(), nil
}
