package proxy

import "net/http"

//go:generate mockgen -destination=mocks/mock_forwarder.go -package=mocks -source=forwarder.go Forwarder

// Forwarder sends a request to a named cluster and returns the upstream
// response without writing it anywhere.
type Forwarder interface {
	Forward(req *http.Request, cluster string) (*http.Response, error)
}
