package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"poolScope/internal/model"
	"poolScope/internal/pubsub"
)

var _ pubsub.Publisher = (*Publisher)(nil)

// Publisher publishes pool snapshots on <prefix>.<chainID>.<pool>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if prefix == "" {
		prefix = "poolscope.pools"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("poolscope"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to nats", zap.String("url", url))
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}, nil
}

// Subject returns the subject a snapshot is published on.
func (p *Publisher) Subject(chainID uint64, pool string) string {
	return fmt.Sprintf("%s.%d.%s", p.prefix, chainID, model.NormalizeAddress(pool))
}

func (p *Publisher) Publish(_ context.Context, snapshot model.PoolSnapshot) error {
	if p.nc == nil {
		return errors.New("nats connection is closed")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.nc.Publish(p.Subject(snapshot.ChainID, snapshot.Pool), data); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (p *Publisher) Ready() bool {
	return p.nc != nil && p.nc.Status() == nats.CONNECTED
}

func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.Status() == nats.CLOSED {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}
	p.logger.Info("nats connection closed")
	return nil
}
