package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
	"github.com/wavesplatform/ride-evaluator/internal/rideeval"
)

type fakeDataAPI struct {
	script remotedata.RemoteData[chain.AccountScript]
	entry  remotedata.RemoteData[chain.DataEntry]
}

func (f fakeDataAPI) Height() (chain.Height, error) { return 10, nil }
func (fakeDataAPI) ActivatedFeatures(chain.Height) (map[int32]chain.Height, error) {
	return map[int32]chain.Height{}, nil
}
func (f fakeDataAPI) AccountData(chain.Address, string) (remotedata.RemoteData[chain.DataEntry], error) {
	return f.entry, nil
}
func (f fakeDataAPI) AccountScript(chain.Address) (remotedata.RemoteData[chain.AccountScript], error) {
	return f.script, nil
}
func (fakeDataAPI) BlockHeader(chain.Height) (remotedata.RemoteData[chain.BlockHeaderRecord], error) {
	return remotedata.AbsentValue[chain.BlockHeaderRecord](), nil
}
func (fakeDataAPI) AssetDescription(chain.AssetID) (remotedata.RemoteData[chain.AssetDescription], error) {
	return remotedata.AbsentValue[chain.AssetDescription](), nil
}
func (fakeDataAPI) ResolveAlias(chain.Alias) (remotedata.RemoteData[chain.Address], error) {
	return remotedata.AbsentValue[chain.Address](), nil
}
func (fakeDataAPI) AccountBalance(chain.Address, chain.Asset) (remotedata.RemoteData[int64], error) {
	return remotedata.AbsentValue[int64](), nil
}
func (fakeDataAPI) AccountLeaseBalance(chain.Address) (remotedata.RemoteData[chain.LeaseBalance], error) {
	return remotedata.AbsentValue[chain.LeaseBalance](), nil
}
func (fakeDataAPI) Transaction(chain.TxID) (remotedata.RemoteData[chain.TransactionMeta], error) {
	return remotedata.AbsentValue[chain.TransactionMeta](), nil
}

type countingEvaluator struct {
	calls int32
}

func (e *countingEvaluator) Evaluate(view chain.Blockchain, address chain.Address, request rideeval.Request) (json.RawMessage, error) {
	atomic.AddInt32(&e.calls, 1)
	return json.Marshal(map[string]any{"result": map[string]any{"type": "Boolean", "value": true}})
}

type testProvider struct {
	data   *chain.SharedBlockchainData
	height chain.Height
}

func (p *testProvider) Data() *chain.SharedBlockchainData { return p.data }
func (p *testProvider) Height() chain.Height               { return p.height }

func newTestRegistry(t *testing.T, evaluator rideeval.Evaluator, api fakeDataAPI) (*Registry, *testProvider) {
	t.Helper()
	store, err := persistent.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	data := chain.New(store, api)
	provider := &testProvider{data: data, height: 10}
	return New(evaluator, provider, 4), provider
}

func alice() chain.Address {
	var a chain.Address
	copy(a[:], []byte("alice-account-0000000000"))
	return a
}

func TestGetCachedResultOrRunRegistersAndRuns(t *testing.T) {
	eval := &countingEvaluator{}
	api := fakeDataAPI{script: remotedata.Of(chain.AccountScript{})}
	r, _ := newTestRegistry(t, eval, api)

	a := alice()
	requestJSON := `{"expr":"true"}`

	result, err := r.GetCachedResultOrRun(context.Background(), a, requestJSON)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Contains(t, decoded, "__lastUpdated")
	require.EqualValues(t, 1, atomic.LoadInt32(&eval.calls))

	// Second call for the same key hits the registered script's cached
	// result rather than evaluating again.
	_, err = r.GetCachedResultOrRun(context.Background(), a, requestJSON)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&eval.calls))
}

func TestGetCachedResultOrRunRejectsNonDApp(t *testing.T) {
	eval := &countingEvaluator{}
	api := fakeDataAPI{script: remotedata.AbsentValue[chain.AccountScript]()}
	r, _ := newTestRegistry(t, eval, api)

	result, err := r.GetCachedResultOrRun(context.Background(), alice(), `{"expr":"true"}`)
	require.NoError(t, err)

	var errResult rideeval.ErrorResult
	require.NoError(t, json.Unmarshal(result, &errResult))
	require.Equal(t, 306, errResult.Error)
	require.Zero(t, atomic.LoadInt32(&eval.calls))
}

func TestRunScriptsForceAllRunsEveryRegisteredScript(t *testing.T) {
	eval := &countingEvaluator{}
	api := fakeDataAPI{script: remotedata.Of(chain.AccountScript{})}
	r, provider := newTestRegistry(t, eval, api)

	keys := []RequestKey{
		{Address: alice(), RequestJSON: `{"expr":"a"}`},
		{Address: alice(), RequestJSON: `{"expr":"b"}`},
	}
	r.PreloadKnownRequests(keys)

	require.NoError(t, r.RunScripts(context.Background(), true, nil))
	require.EqualValues(t, 2, atomic.LoadInt32(&eval.calls))

	affected := map[chain.Tag]struct{}{keys[0].Tag(): {}}
	require.NoError(t, r.RunScripts(context.Background(), false, affected))
	require.EqualValues(t, 3, atomic.LoadInt32(&eval.calls))
	_ = provider
}
