package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sebastianharko/surge-go/config"
	"github.com/sebastianharko/surge-go/txnproducer"
)

// KgoHandleFactory returns a HandleFactory backed by a fresh *txnproducer.KgoHandle
// on every call, the way Recovering expects: each rebuild dials a brand new
// *kgo.Client under the same transactional id rather than reusing a client
// that may have observed a fencing error. reg and logger may be nil.
func KgoHandleFactory(cfg config.Client, logger *zap.Logger, reg prometheus.Registerer) HandleFactory {
	return func() (txnproducer.Handle, error) {
		return txnproducer.NewKgoHandle(cfg, logger, reg)
	}
}
