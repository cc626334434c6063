// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/drivevm/execution"
)

const namespace = "drivevm"

type metrics struct {
	transitionsValid   prometheus.Counter
	transitionsInvalid prometheus.Counter
	blocksCommitted    prometheus.Counter
	blocksRolledBack   prometheus.Counter
	feesProcessing     prometheus.Counter
	feesStorage        prometheus.Counter
	blockDuration      prometheus.Histogram
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		transitionsValid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_valid",
			Help:      "Number of transitions applied",
		}),
		transitionsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_invalid",
			Help:      "Number of transitions rejected with a consensus error",
		}),
		blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_committed",
			Help:      "Number of blocks committed",
		}),
		blocksRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_rolled_back",
			Help:      "Number of open blocks discarded",
		}),
		feesProcessing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_processing",
			Help:      "Processing fees charged, in credits",
		}),
		feesStorage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_storage",
			Help:      "Storage fees charged, in credits",
		}),
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_duration_seconds",
			Help:      "Time from begin block to commit",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.transitionsValid),
		registerer.Register(m.transitionsInvalid),
		registerer.Register(m.blocksCommitted),
		registerer.Register(m.blocksRolledBack),
		registerer.Register(m.feesProcessing),
		registerer.Register(m.feesStorage),
		registerer.Register(m.blockDuration),
	)
	return m, errs.Err
}

// observe records one transition result. Only charged fees count.
func (m *metrics) observe(r *execution.Result) {
	if r.Valid() {
		m.transitionsValid.Inc()
	} else {
		m.transitionsInvalid.Inc()
	}
	if r.Charged {
		m.feesProcessing.Add(float64(r.Fee.ProcessingFee))
		m.feesStorage.Add(float64(r.Fee.StorageFee))
	}
}
