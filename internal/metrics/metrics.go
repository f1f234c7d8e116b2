package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketalloc"

// Recorder implements auctions.Metrics and borrows.Metrics on Prometheus
type Recorder struct {
	bids          *prometheus.CounterVec
	extensions    prometheus.Counter
	finalized     *prometheus.CounterVec
	borrowEvents  *prometheus.CounterVec
	sweepFailures *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "bids_total",
			Help:      "Bids processed, by result and rejection reason",
		}, []string{"result", "reason"}),
		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "extensions_total",
			Help:      "Deadlines pushed back by late bids",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "finalized_total",
			Help:      "Auctions finalized, by whether a winner was recorded",
		}, []string{"has_winner"}),
		borrowEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "borrow",
			Name:      "events_total",
			Help:      "Waitlist and borrow allocation events, by type",
		}, []string{"event"}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "failures_total",
			Help:      "Sweep steps that failed, by target",
		}, []string{"target"}),
	}
	reg.MustRegister(r.bids, r.extensions, r.finalized, r.borrowEvents, r.sweepFailures)
	return r
}

func (r *Recorder) BidAccepted() {
	r.bids.WithLabelValues("accepted", "").Inc()
}

func (r *Recorder) BidRejected(reason string) {
	r.bids.WithLabelValues("rejected", reason).Inc()
}

func (r *Recorder) AuctionExtended() {
	r.extensions.Inc()
}

func (r *Recorder) AuctionFinalized(hasWinner bool) {
	r.finalized.WithLabelValues(strconv.FormatBool(hasWinner)).Inc()
}

func (r *Recorder) WaitlistJoined() {
	r.borrowEvents.WithLabelValues("waitlist_joined").Inc()
}

func (r *Recorder) BorrowAssigned() {
	r.borrowEvents.WithLabelValues("assigned").Inc()
}

func (r *Recorder) BorrowReleased() {
	r.borrowEvents.WithLabelValues("released").Inc()
}

// SweepFailed counts a failed sweep step for target ("auction" or "borrowable")
func (r *Recorder) SweepFailed(target string) {
	r.sweepFailures.WithLabelValues(target).Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
