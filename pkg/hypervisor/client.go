/*
Package hypervisor is the concrete adapter for the injected hypervisor
capability set (§6.1): JSON-RPC calls over a websocket connection, with
exponential backoff on retryable calls. The transport idiom mirrors the
teacher SDK's v1 client (method name + params map, one shared
connection), generalized from Xen Orchestra's REST-flavored API calls
to the XAPI-flavored method names this engine needs
(vm.snapshot, vm.export, vdi.exportContent, ...).
*/
package hypervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff/v3"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/vatesfr/xobackup/internal/common/core"
	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/config"
	"go.uber.org/zap"
)

// Client is a JSON-RPC connection to a hypervisor management endpoint,
// plus a read-through object cache refreshed by xo.getAllObjects-style
// calls.
type Client struct {
	conn   *jsonrpc2.Conn
	log    *logger.Logger
	cfg    *config.Config
	retry  core.RetryMode

	mu      sync.RWMutex
	objects map[string]map[string]any
}

// NewClient dials the hypervisor endpoint and authenticates using the
// configured token or username/password pair.
func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	endpoint, err := url.Parse(cfg.HypervisorURL)
	if err != nil {
		return nil, core.ErrFailedToParseURL.WithArgs(err)
	}
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // operator opt-in via XOBACKUP_INSECURE
	}
	wsConn, _, err := dialer.DialContext(ctx, endpoint.String(), http.Header{})
	if err != nil {
		return nil, core.ErrFailedToDoRequest.WithArgs(err)
	}

	stream := wsjsonrpc2.NewObjectStream(wsConn)
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		// The hypervisor may push unsolicited notifications (object
		// cache invalidation); the core only consumes them passively
		// via the next Call, so there is nothing to do here yet.
		return nil, nil
	}))

	c := &Client{
		conn:    conn,
		log:     log,
		cfg:     cfg,
		retry:   cfg.RetryMode,
		objects: make(map[string]map[string]any),
	}

	if err := c.authenticate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) authenticate(ctx context.Context) error {
	if c.cfg.Token != "" {
		var ok bool
		return c.Call(ctx, "session.signInWithToken", map[string]any{"token": c.cfg.Token}, &ok)
	}
	var ok bool
	return c.Call(ctx, "session.signIn", map[string]any{
		"email":    c.cfg.Username,
		"password": c.cfg.Password,
	}, &ok)
}

// Call performs one JSON-RPC request, retrying per the configured
// core.RetryMode when the hypervisor reports a transient error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	invoke := func() error {
		return c.conn.Call(ctx, method, params, result)
	}

	if c.retry != core.Backoff {
		if err := invoke(); err != nil {
			return fmt.Errorf("hypervisor call %s failed: %w", method, err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.cfg.RetryMaxTime

	err := backoff.Retry(func() error {
		err := invoke()
		if err != nil {
			c.log.Debug("retrying hypervisor call", zap.String("method", method), zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("hypervisor call %s failed after retries: %w", method, err)
	}
	return nil
}

// refreshAllObjects re-populates the local object cache, the
// equivalent of the teacher client's xo.getAllObjects call.
func (c *Client) refreshAllObjects(ctx context.Context) error {
	var raw map[string]map[string]any
	if err := c.Call(ctx, "xo.getAllObjects", core.EmptyParams, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	c.objects = raw
	c.mu.Unlock()
	return nil
}

func decode(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

