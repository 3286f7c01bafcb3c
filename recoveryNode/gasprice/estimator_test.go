package gasprice

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	if h := args.Get(0); h != nil {
		return h.(*types.Header), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if tip := args.Get(0); tip != nil {
		return tip.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestParseGwei(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000"},
		{"30.123456789123", "30123456789"},
		{"1.5e-9", "1"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := ParseGwei(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}

	_, err := ParseGwei("abc")
	assert.Error(t, err)
	_, err = ParseGwei("-1")
	assert.Error(t, err)
}

func TestScaleBigInt(t *testing.T) {
	assert.Equal(t, "150", ScaleBigInt(big.NewInt(100), 1.5).String())
	assert.Equal(t, "125", ScaleBigInt(big.NewInt(100), 1.25).String())
	assert.Nil(t, ScaleBigInt(nil, 2))
}

func TestNewForChain_AutoSelection(t *testing.T) {
	provider := &mockProvider{}

	tests := []struct {
		chainID uint64
		want    any
	}{
		{1, &InfuraSource{}},
		{11155111, &InfuraSource{}},
		{137, &PolygonSource{}},
		{80002, &PolygonSource{}},
		{31337, &ProviderSource{}},
	}
	for _, tt := range tests {
		est, err := NewForChain(tt.chainID, "auto", 1, provider, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, tt.want, est.source, "chain %d", tt.chainID)
	}

	est, err := NewForChain(80002, "", 1, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, polygonTestnetURL, est.source.(*PolygonSource).url)

	_, err = NewForChain(31337, "provider", 1, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewForChain(1, "bogus", 1, provider, zerolog.Nop())
	assert.Error(t, err)
}

func TestInfuraSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"estimatedBaseFee":"10.5","high":{"suggestedMaxFeePerGas":"25.0000000019","suggestedMaxPriorityFeePerGas":"2"}}`))
	}))
	defer server.Close()

	src := NewInfuraSource(1, zerolog.Nop())
	src.url = server.URL

	est := New(src, 2, zerolog.Nop())
	fees, err := est.Estimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "21000000000", fees.BaseFee.String())
	assert.Equal(t, "50000000002", fees.MaxFeePerGas.String())
	assert.Equal(t, "4000000000", fees.MaxPriorityFeePerGas.String())
}

func TestPolygonSource_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"estimatedBaseFee":1.2e-7,"fast":{"maxFee":40.5,"maxPriorityFee":30}}`))
	}))
	defer server.Close()

	src := NewPolygonSource(false, zerolog.Nop())
	src.url = server.URL

	fees, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "120", fees.BaseFee.String())
	assert.Equal(t, "40500000000", fees.MaxFeePerGas.String())
	assert.Equal(t, "30000000000", fees.MaxPriorityFeePerGas.String())
}

func TestHTTPSource_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := NewInfuraSource(999, zerolog.Nop())
	src.url = server.URL

	_, err := src.Fetch(context.Background())
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProviderSource(t *testing.T) {
	provider := &mockProvider{}
	provider.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(100)}, nil).Once()
	provider.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(7), nil).Once()

	fees, err := NewProviderSource(provider).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), fees.BaseFee.Int64())
	assert.Equal(t, int64(207), fees.MaxFeePerGas.Int64())
	assert.Equal(t, int64(7), fees.MaxPriorityFeePerGas.Int64())

	provider.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil).Once()
	_, err = NewProviderSource(provider).Fetch(context.Background())
	assert.ErrorContains(t, err, "no base fee")

	provider.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(nil, errors.New("down")).Once()
	_, err = NewProviderSource(provider).Fetch(context.Background())
	assert.ErrorContains(t, err, "down")
}
