//go:build !cgo

package registry

import "github.com/rotisserie/eris"

func openKuzuStore(string) (Store, error) {
	return nil, eris.New("registry: kuzu driver requires a cgo build; use driver memory or postgres")
}
