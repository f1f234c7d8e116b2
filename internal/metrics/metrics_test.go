package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/marketalloc/internal/domain/auctions"
	"github.com/floroz/marketalloc/internal/domain/borrows"
)

var (
	_ auctions.Metrics = (*Recorder)(nil)
	_ borrows.Metrics  = (*Recorder)(nil)
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.BidAccepted()
	r.BidAccepted()
	r.BidRejected("BID_TOO_LOW")
	r.AuctionExtended()
	r.AuctionFinalized(true)
	r.AuctionFinalized(false)
	r.AuctionFinalized(false)
	r.WaitlistJoined()
	r.BorrowAssigned()
	r.BorrowReleased()
	r.SweepFailed("auction")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.bids.WithLabelValues("accepted", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bids.WithLabelValues("rejected", "BID_TOO_LOW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.extensions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finalized.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.finalized.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.borrowEvents.WithLabelValues("waitlist_joined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.borrowEvents.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.borrowEvents.WithLabelValues("released")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepFailures.WithLabelValues("auction")))
}

func TestRecorder_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.AuctionExtended()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "marketalloc_auction_extensions_total 1"))
}
