package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrDispatch marks a command the device did not acknowledge.
var ErrDispatch = errors.New("device command failed")

// Transport delivers a single on/off command to a device.
type Transport interface {
	Command(ctx context.Context, d Device, state bool) error
}

// HTTPTransport sends GET <address><prefix>/on|off. Any 2xx answer counts
// as success. Deadlines come from ctx.
type HTTPTransport struct {
	client     *http.Client
	pathPrefix string
}

// NewHTTPTransport creates a transport. pathPrefix is inserted between the
// device address and the command, e.g. "/control" for firmware that serves
// /control/on.
func NewHTTPTransport(pathPrefix string) *HTTPTransport {
	prefix := strings.TrimRight(pathPrefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &HTTPTransport{
		client:     &http.Client{},
		pathPrefix: prefix,
	}
}

// CommandURL returns the URL hit for a state change.
func (t *HTTPTransport) CommandURL(d Device, state bool) string {
	return strings.TrimRight(d.Address, "/") + t.pathPrefix + "/" + CommandName(state)
}

// Command implements Transport.
func (t *HTTPTransport) Command(ctx context.Context, d Device, state bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.CommandURL(d, state), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDispatch, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDispatch, resp.StatusCode)
	}
	return nil
}
