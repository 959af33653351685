// Package rpcclient is the concrete opaque-transport implementation
// (spec.md §6) for both the blockchain-updates stream and the point-lookup
// data API, over one JSON-RPC connection. It is grounded on the teacher's
// mive/backend.go, which holds an *ethclient.Client (itself a thin
// convenience layer over *rpc.Client) alongside the local chain database;
// here the RPC client is the only upstream collaborator, since this sidecar
// has no local chain database of its own to mirror into beyond the
// persistent caches in internal/persistent.
package rpcclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/events"
	"github.com/wavesplatform/ride-evaluator/internal/orchestrator"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

// Client implements chain.DataAPI's synchronous point lookups.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to url within timeout, mirroring ethclient.Dial's use of
// rpc.DialContext.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", url, err)
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() { c.rpc.Close() }

var _ chain.DataAPI = (*Client)(nil)

func (c *Client) Height() (chain.Height, error) {
	var h chain.Height
	err := c.rpc.CallContext(context.Background(), &h, "waves_height")
	return h, err
}

func (c *Client) ActivatedFeatures(h chain.Height) (map[int32]chain.Height, error) {
	features := make(map[int32]chain.Height)
	err := c.rpc.CallContext(context.Background(), &features, "waves_activatedFeatures", h)
	return features, err
}

func (c *Client) AccountData(addr chain.Address, key string) (remotedata.RemoteData[chain.DataEntry], error) {
	return callOptional[chain.DataEntry](c, "waves_accountData", addr.String(), key)
}

func (c *Client) AccountScript(addr chain.Address) (remotedata.RemoteData[chain.AccountScript], error) {
	return callOptional[chain.AccountScript](c, "waves_accountScript", addr.String())
}

func (c *Client) BlockHeader(h chain.Height) (remotedata.RemoteData[chain.BlockHeaderRecord], error) {
	return callOptional[chain.BlockHeaderRecord](c, "waves_blockHeader", h)
}

func (c *Client) AssetDescription(id chain.AssetID) (remotedata.RemoteData[chain.AssetDescription], error) {
	return callOptional[chain.AssetDescription](c, "waves_assetDescription", id.String())
}

func (c *Client) ResolveAlias(alias chain.Alias) (remotedata.RemoteData[chain.Address], error) {
	return callOptional[chain.Address](c, "waves_resolveAlias", string(alias))
}

func (c *Client) AccountBalance(addr chain.Address, asset chain.Asset) (remotedata.RemoteData[int64], error) {
	assetParam := "WAVES"
	if !asset.IsWaves {
		assetParam = asset.ID.String()
	}
	return callOptional[int64](c, "waves_accountBalance", addr.String(), assetParam)
}

func (c *Client) AccountLeaseBalance(addr chain.Address) (remotedata.RemoteData[chain.LeaseBalance], error) {
	return callOptional[chain.LeaseBalance](c, "waves_accountLeaseBalance", addr.String())
}

func (c *Client) Transaction(id chain.TxID) (remotedata.RemoteData[chain.TransactionMeta], error) {
	return callOptional[chain.TransactionMeta](c, "waves_transaction", id.String())
}

// callOptional issues a unary RPC whose result is either null (the
// blockchain reports the key absent) or a concrete T, mapping both onto
// RemoteData without ever producing Unknown: a completed RPC always answers
// Absent or Cached, per spec.md's I1 invariant that only an un-issued
// lookup is Unknown.
func callOptional[T any](c *Client, method string, args ...any) (remotedata.RemoteData[T], error) {
	var result *T
	if err := c.rpc.CallContext(context.Background(), &result, method, args...); err != nil {
		return remotedata.RemoteData[T]{}, err
	}
	if result == nil {
		return remotedata.AbsentValue[T](), nil
	}
	return remotedata.Of(*result), nil
}

// Stream implements orchestrator.UpdatesStream over an RPC subscription,
// the same EthSubscribe-shaped idiom ethclient.Client uses for newHeads.
type Stream struct {
	sub *rpc.ClientSubscription
	ch  chan events.BlockchainUpdated
}

// Subscribe opens the blockchain-updates stream for (fromHeight, toHeight);
// toHeight == 0 means "follow tip", per spec.md §6.
func (c *Client) Subscribe(ctx context.Context, fromHeight, toHeight chain.Height) (*Stream, error) {
	ch := make(chan events.BlockchainUpdated, 256)
	sub, err := c.rpc.Subscribe(ctx, "waves", ch, "updates", fromHeight, toHeight)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: subscribe: %w", err)
	}
	return &Stream{sub: sub, ch: ch}, nil
}

var _ orchestrator.UpdatesStream = (*Stream)(nil)

// Recv blocks for the next event, translating the subscription's Err()
// channel into the Closed/Failed framing orchestrator.UpdatesStream expects:
// a closed Err channel with nil error is Closed (io.EOF); any other error is
// Failed, with a message mentioning "timeout" mapped to the distinguished
// orchestrator.ErrUpstreamTimeout.
func (s *Stream) Recv(ctx context.Context) (events.BlockchainUpdated, error) {
	select {
	case <-ctx.Done():
		return events.BlockchainUpdated{}, ctx.Err()
	case err, ok := <-s.sub.Err():
		if !ok || err == nil {
			return events.BlockchainUpdated{}, io.EOF
		}
		if isTimeout(err) {
			return events.BlockchainUpdated{}, orchestrator.ErrUpstreamTimeout
		}
		return events.BlockchainUpdated{}, err
	case event, ok := <-s.ch:
		if !ok {
			return events.BlockchainUpdated{}, io.EOF
		}
		return event, nil
	}
}

// Unsubscribe tears down the subscription.
func (s *Stream) Unsubscribe() { s.sub.Unsubscribe() }

func isTimeout(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
