//go:build !linux

package netstat

import "errors"

// NewProvider is only supported on Linux hosts.
func NewProvider() (*Provider, error) {
	return nil, errors.New("netstat provider is supported on linux only")
}
