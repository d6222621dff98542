package entity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
)

// defaultControlTimeout bounds one discovery exchange.
const defaultControlTimeout = 5 * time.Second

// controlPlane talks to the controller's discovery endpoint on behalf of
// one entity.
type controlPlane struct {
	url    string
	client *http.Client
}

func newControlPlane(url string) *controlPlane {
	return &controlPlane{
		url:    url,
		client: &http.Client{Timeout: defaultControlTimeout},
	}
}

// send posts one discovery command and returns the controller's response.
//
// Transport failures and non-200 statuses surface as errors; an in-band
// error response is returned as a ResponseCode for the caller to judge.
func (c *controlPlane) send(ctx context.Context, cmd *protocol.DiscoveryCommand) (*protocol.ResponseCode, error) {
	env := protocol.NewEnvelope(cmd, nil)
	data, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding discovery command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrControllerUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading discovery reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery answered %d", ErrBadReply, resp.StatusCode)
	}

	reply, err := protocol.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadReply, err)
	}
	rc, ok := reply.Payload.(*protocol.ResponseCode)
	if !ok {
		return nil, fmt.Errorf("%w: payload kind %s", ErrBadReply, reply.Payload.Kind())
	}

	return rc, nil
}
