package runner

import (
	"context"
	"net"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const (
	ProbeTCP = "tcp"
	ProbeS3  = "s3"
)

// Prober waits until a started service answers
type Prober interface {
	Ready(ctx context.Context) error
}

// NewProber builds the readiness check described by cfg
func NewProber(cfg ProbeConfig) (Prober, error) {
	switch cfg.Kind {
	case ProbeTCP:
		return &tcpProber{address: cfg.Address}, nil
	case ProbeS3:
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create s3 client")
		}
		return &s3Prober{client: client}, nil
	default:
		return nil, errors.Errorf("unsupported probe kind %q", cfg.Kind)
	}
}

type tcpProber struct {
	address string
}

func (p *tcpProber) Ready(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return err
	}
	return conn.Close()
}

type s3Prober struct {
	client *minio.Client
}

func (p *s3Prober) Ready(ctx context.Context) error {
	_, err := p.client.ListBuckets(ctx)
	return err
}

// waitReady polls prober until it succeeds or timeout elapses
func waitReady(ctx context.Context, prober Prober, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, interval)
		lastErr = prober.Ready(attemptCtx)
		attemptCancel()
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(lastErr, "service not ready after %s", timeout)
		case <-ticker.C:
		}
	}
}
