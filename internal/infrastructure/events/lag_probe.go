package events

import (
	"context"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// LagProbe reads topic high-watermarks so the hourly verification check can
// compare queue position against the max persisted sequence per tenant.
type LagProbe struct {
	brokers []string
	dialer  *kafka.Dialer
	timeout func(ctx context.Context) (context.Context, context.CancelFunc)
}

// NewLagProbe creates the probe with the configured probe timeout.
func NewLagProbe(cfg *config.Kafka) *LagProbe {
	timeout := cfg.ProbeTimeout
	return &LagProbe{
		brokers: cfg.Brokers,
		dialer:  kafka.DefaultDialer,
		timeout: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithTimeout(ctx, timeout)
		},
	}
}

// HighWatermark sums the last offsets across a topic's partitions.
func (p *LagProbe) HighWatermark(ctx context.Context, topic string) (int64, error) {
	if len(p.brokers) == 0 {
		return 0, errors.NewValidationError("NO_BROKERS", "no kafka brokers configured")
	}

	probeCtx, cancel := p.timeout(ctx)
	defer cancel()

	conn, err := p.dialer.DialContext(probeCtx, "tcp", p.brokers[0])
	if err != nil {
		return 0, errors.NewExternalError("kafka", "failed to dial broker").WithCause(err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, errors.NewExternalError("kafka", "failed to read partitions").WithCause(err)
	}

	var total int64
	for _, partition := range partitions {
		leader := net.JoinHostPort(partition.Leader.Host, strconv.Itoa(partition.Leader.Port))
		pc, err := p.dialer.DialLeader(probeCtx, "tcp", leader, topic, partition.ID)
		if err != nil {
			return 0, errors.NewExternalError("kafka", "failed to dial partition leader").WithCause(err)
		}
		last, err := pc.ReadLastOffset()
		pc.Close()
		if err != nil {
			return 0, errors.NewExternalError("kafka", "failed to read last offset").WithCause(err)
		}
		total += last
	}
	return total, nil
}
