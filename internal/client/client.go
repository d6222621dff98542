package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
)

// Sentinel errors for client operations.
var (
	// ErrUnreachable indicates the controller could not be reached.
	ErrUnreachable = errors.New("client: controller unreachable")

	// ErrBadReply indicates the controller answered with something the
	// client cannot interpret.
	ErrBadReply = errors.New("client: unexpected controller reply")
)

// defaultRequestTimeout bounds one exchange with the controller.
const defaultRequestTimeout = 10 * time.Second

// Client talks to the controller's client endpoint.
type Client struct {
	url  string
	http *http.Client
}

// New creates a client for the given endpoint URL.
func New(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Query fetches the aggregated system state.
func (c *Client) Query(ctx context.Context) (*protocol.SystemState, error) {
	reply, err := c.send(ctx, &protocol.ClientCommand{Query: &protocol.SystemStateQuery{}})
	if err != nil {
		return nil, err
	}

	state, ok := reply.Payload.(*protocol.SystemState)
	if !ok {
		return nil, fmt.Errorf("%w: payload kind %s", ErrBadReply, reply.Payload.Kind())
	}
	return state, nil
}

// SetSensorFrequency asks the named sensor to change its publish cadence.
// The returned response is the entity's own verdict, relayed unchanged.
func (c *Client) SetSensorFrequency(ctx context.Context, name string, frequency time.Duration) (*protocol.ResponseCode, error) {
	return c.update(ctx, &protocol.NamedEntityUpdate{
		EntityName: name,
		SensorConfig: &protocol.SensorConfiguration{
			UpdateFrequencyMS: frequency.Milliseconds(),
		},
	})
}

// SetLight sets the named light's brightness in [0, 1].
func (c *Client) SetLight(ctx context.Context, name string, brightness float64) (*protocol.ResponseCode, error) {
	return c.update(ctx, &protocol.NamedEntityUpdate{
		EntityName: name,
		ActuatorState: &protocol.ActuatorState{
			Variant:    protocol.ActuatorLight,
			Brightness: brightness,
		},
	})
}

// SetAirConditioning switches the named air conditioning unit on or off.
func (c *Client) SetAirConditioning(ctx context.Context, name string, on bool) (*protocol.ResponseCode, error) {
	return c.update(ctx, &protocol.NamedEntityUpdate{
		EntityName: name,
		ActuatorState: &protocol.ActuatorState{
			Variant: protocol.ActuatorAirConditioning,
			On:      on,
		},
	})
}

// update sends one targeted update and returns the relayed verdict.
func (c *Client) update(ctx context.Context, upd *protocol.NamedEntityUpdate) (*protocol.ResponseCode, error) {
	reply, err := c.send(ctx, &protocol.ClientCommand{Update: upd})
	if err != nil {
		return nil, err
	}

	rc, ok := reply.Payload.(*protocol.ResponseCode)
	if !ok {
		return nil, fmt.Errorf("%w: payload kind %s", ErrBadReply, reply.Payload.Kind())
	}
	return rc, nil
}

// send posts one client command envelope and decodes the reply.
func (c *Client) send(ctx context.Context, cmd *protocol.ClientCommand) (protocol.Envelope, error) {
	env := protocol.NewEnvelope(cmd, nil)
	data, err := env.Encode()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("encoding client command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("building client request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("reading controller reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return protocol.Envelope{}, fmt.Errorf("%w: controller answered %d", ErrBadReply, resp.StatusCode)
	}

	reply, err := protocol.Decode(body)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrBadReply, err)
	}
	return reply, nil
}
