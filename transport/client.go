// Package transport moves attestation messages between verifier and
// attester over CoAP, either plain UDP or DTLS with a pre-shared key.
//
// The wire payloads are opaque here: the client posts request bytes to
// the attestation resource and hands back response bytes, the server
// feeds request bytes to a handler. Encoding and appraisal stay with
// the wire and verifier packages.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"
)

// PathAttest is the CoAP resource attestation exchanges go through.
const PathAttest = "/attest"

// ClientConfig describes the attester endpoint to dial.
type ClientConfig struct {
	// Addr is the attester's host:port.
	Addr string
	// PSK switches the connection to DTLS. Nil dials plain UDP.
	PSK *PSK
	// Log receives connection diagnostics. May be nil.
	Log *logger.Logger
}

// Client is a connection to one attester. It implements
// verifier.Exchanger.
type Client struct {
	conn *udpclient.Conn
	log  *logger.Logger
}

// Dial connects to an attester.
func Dial(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("no attester address")
	}
	var conn *udpclient.Conn
	var err error
	if cfg.PSK != nil {
		dtlsCfg, cfgErr := cfg.PSK.clientConfig()
		if cfgErr != nil {
			return nil, cfgErr
		}
		conn, err = dtls.Dial(cfg.Addr, dtlsCfg)
	} else {
		conn, err = udp.Dial(cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn, log: cfg.Log}, nil
}

// Exchange posts one request payload and returns the response payload.
// Context errors come back as-is so callers can tell a deadline from a
// transport fault.
func (c *Client) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	resp, err := c.conn.Post(ctx, PathAttest, message.AppCBOR, bytes.NewReader(req))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("posting challenge: %w", err)
	}
	if resp.Code() != codes.Content {
		if body, err := resp.ReadBody(); err == nil && len(body) > 0 {
			return nil, fmt.Errorf("attester answered %v: %s", resp.Code(), body)
		}
		return nil, fmt.Errorf("attester answered %v", resp.Code())
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
