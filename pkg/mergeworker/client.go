/*
Package mergeworker is the RPC client for the separate merge-worker
process that performs CPU-bound VHD coalescing (§5, §6.3). It reuses
the same JSON-RPC-over-websocket transport idiom as pkg/hypervisor,
dialed against a second endpoint so a long merge never blocks the
core's hypervisor connection.
*/
package mergeworker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/vatesfr/xobackup/internal/common/core"
	"github.com/vatesfr/xobackup/internal/common/logger"
)

// Client is a connection to the merge-worker process.
type Client struct {
	conn *jsonrpc2.Conn
	log  *logger.Logger
}

// NewClient dials the merge-worker's JSON-RPC endpoint.
func NewClient(ctx context.Context, workerURL string, log *logger.Logger, insecureSkipVerify bool) (*Client, error) {
	endpoint, err := url.Parse(workerURL)
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
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}, //nolint:gosec // operator opt-in
	}
	wsConn, _, err := dialer.DialContext(ctx, endpoint.String(), http.Header{})
	if err != nil {
		return nil, core.ErrFailedToDoRequest.WithArgs(err)
	}

	stream := wsjsonrpc2.NewObjectStream(wsConn)
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		return nil, nil
	}))

	return &Client{conn: conn, log: log}, nil
}

// mergeParams mirrors the merge-worker's expected request shape: two
// remote-scoped VHD locations, one to be read as parent and folded
// into the child.
type mergeParams struct {
	ParentRemoteID string `json:"parentRemoteId"`
	ParentPath     string `json:"parentPath"`
	ChildRemoteID  string `json:"childRemoteId"`
	ChildPath      string `json:"childPath"`
}

// MergeVHD asks the worker process to coalesce parentPath into
// childPath and blocks until it reports completion. Concurrent merges
// on the same chain are not safe; the caller (pkg/catalog) is
// responsible for serializing per-VDI merges.
func (c *Client) MergeVHD(ctx context.Context, parentRemoteID, parentPath, childRemoteID, childPath string) error {
	var ok bool
	err := c.conn.Call(ctx, "merge.vhd", mergeParams{
		ParentRemoteID: parentRemoteID,
		ParentPath:     parentPath,
		ChildRemoteID:  childRemoteID,
		ChildPath:      childPath,
	}, &ok)
	if err != nil {
		return fmt.Errorf("merge %s into %s: %w", parentPath, childPath, err)
	}
	if !ok {
		return fmt.Errorf("merge worker rejected merge of %s into %s", parentPath, childPath)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
