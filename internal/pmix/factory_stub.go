//go:build !pmix_cgo

package pmix

import "errors"

// NewRealClient reports that this binary was not built against libpmix.
// Rebuild with -tags pmix_cgo (and libpmix + headers installed) to get a
// real PMIx tool client; without that tag only internal/pmix/fake is
// available, which is sufficient for the shim's own test suite.
func NewRealClient() (Client, error) {
	return nil, errors.New("mpirshim: built without pmix_cgo; no real PMIx client available")
}
