package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/ingest"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/store/files"
	"github.com/rchs819/leela-zero-server/internal/weights"
)

// NetworkMeta is the optional information sent with a network upload.
type NetworkMeta struct {
	TrainingCount *int64
	TrainingSteps *int64
	Description   string
	UploaderID    string
}

// IngestedNetwork is an upload that was parsed and hashed and waits in a
// temporary file to be registered or discarded.
type IngestedNetwork struct {
	Hash         string
	Architecture weights.Architecture
	Size         int64
	staged       *files.Staged
	started      time.Time
}

// NetworkResult reports a registered upload.
type NetworkResult struct {
	Hash         string
	Architecture weights.Architecture
	// Created is false when the network was already stored.
	Created bool
}

// IngestNetwork streams a gzip weights upload into a temporary artifact while
// hashing and parsing the decompressed bytes. On failure the temporary file
// is removed.
func (d *Dispatcher) IngestNetwork(ctx context.Context, body io.Reader) (*IngestedNetwork, error) {
	started := time.Now()
	staged, err := d.artifacts.Stage()
	if err != nil {
		metrics.NetworksUploaded.WithLabelValues("failed").Inc()
		return nil, err
	}
	res, err := ingest.Network(ctx, body, staged)
	if err != nil {
		if derr := staged.Discard(); derr != nil {
			d.logger.Warn("discard upload failed", "path", staged.Name(), "error", derr)
		}
		outcome := "failed"
		if errors.Is(err, weights.ErrMalformedWeights) {
			outcome = "malformed"
		}
		metrics.NetworksUploaded.WithLabelValues(outcome).Inc()
		return nil, err
	}
	return &IngestedNetwork{
		Hash:         res.Hash,
		Architecture: res.Architecture,
		Size:         res.Size,
		staged:       staged,
		started:      started,
	}, nil
}

// DiscardNetwork drops an ingested upload that will not be registered.
func (d *Dispatcher) DiscardNetwork(in *IngestedNetwork) {
	if in == nil || in.staged == nil {
		return
	}
	if err := in.staged.Discard(); err != nil {
		d.logger.Warn("discard upload failed", "network_hash", in.Hash, "error", err)
	}
}

// RegisterNetwork moves an ingested upload into place and stores its record.
// Uploading the same content twice stores it once.
func (d *Dispatcher) RegisterNetwork(ctx context.Context, in *IngestedNetwork, meta NetworkMeta) (NetworkResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.SubmitNetwork")
	defer span.End()
	span.SetAttributes(attribute.String("network_hash", in.Hash), attribute.String("architecture", in.Architecture.String()))

	existed, err := in.staged.Commit(in.Hash)
	if err != nil {
		metrics.NetworksUploaded.WithLabelValues("failed").Inc()
		return NetworkResult{}, fail(span, err)
	}
	// An artifact this upload put in place must not outlive a failed insert.
	abandon := func(err error) (NetworkResult, error) {
		metrics.NetworksUploaded.WithLabelValues("failed").Inc()
		if !existed {
			if rerr := d.artifacts.Remove(in.Hash); rerr != nil {
				d.logger.Warn("remove orphaned artifact failed", "network_hash", in.Hash, "error", rerr)
			}
		}
		return NetworkResult{}, fail(span, err)
	}

	trainingCount := int64(0)
	if meta.TrainingCount != nil {
		trainingCount = *meta.TrainingCount
	} else {
		n, err := storeCall(d, func() (int64, error) { return d.repos.Games.Count(ctx) })
		if err != nil {
			return abandon(fmt.Errorf("count games: %w", err))
		}
		trainingCount = n
	}

	n := &model.Network{
		Hash:          in.Hash,
		Filters:       in.Architecture.Filters,
		Blocks:        in.Architecture.Blocks,
		TrainingCount: trainingCount,
		TrainingSteps: meta.TrainingSteps,
		Description:   meta.Description,
		UploaderID:    meta.UploaderID,
		UploadedAt:    d.now().UTC(),
	}
	var created bool
	err = d.withRetry(ctx, "insert_network", func(ctx context.Context) error {
		var err error
		created, err = storeCall(d, func() (bool, error) { return d.repos.Networks.Insert(ctx, n) })
		return err
	})
	if err != nil {
		return abandon(fmt.Errorf("store network: %w", err))
	}

	metrics.NetworkUploadLatency.Observe(time.Since(in.started).Seconds())
	if created {
		metrics.NetworksUploaded.WithLabelValues("created").Inc()
		d.logger.Info("network uploaded",
			"network_hash", in.Hash,
			"architecture", in.Architecture.String(),
			"training_count", trainingCount,
			"uploader_id", meta.UploaderID,
		)
		d.publish(ctx, model.Event{Type: model.EventNetworkUploaded, NetworkHash: in.Hash})
	} else {
		metrics.NetworksUploaded.WithLabelValues("exists").Inc()
		d.logger.Info("network already stored", "network_hash", in.Hash)
	}
	return NetworkResult{Hash: in.Hash, Architecture: in.Architecture, Created: created}, nil
}

// SubmitNetwork ingests and registers an upload in one step.
func (d *Dispatcher) SubmitNetwork(ctx context.Context, body io.Reader, meta NetworkMeta) (NetworkResult, error) {
	in, err := d.IngestNetwork(ctx, body)
	if err != nil {
		return NetworkResult{}, err
	}
	res, err := d.RegisterNetwork(ctx, in, meta)
	if err != nil {
		d.DiscardNetwork(in)
		return NetworkResult{}, err
	}
	return res, nil
}

// RescanArchitectures derives filters and blocks for stored networks that
// lack them by streaming their artifacts through the codec. It returns the
// number of networks updated. Artifacts that fail to parse are logged and
// skipped.
func (d *Dispatcher) RescanArchitectures(ctx context.Context) (int, error) {
	batch := d.cfg.RescanBatch
	if batch <= 0 {
		batch = 100
	}
	failed := make(map[string]struct{})
	updated := 0
	for {
		pending, err := storeCall(d, func() ([]model.Network, error) {
			return d.repos.Networks.ListMissingArchitecture(ctx, batch+len(failed))
		})
		if err != nil {
			return updated, fmt.Errorf("list networks: %w", err)
		}
		progress := false
		for _, n := range pending {
			if _, skip := failed[n.Hash]; skip {
				continue
			}
			progress = true
			arch, err := d.scanArtifact(ctx, n.Hash)
			if err != nil {
				if ctx.Err() != nil {
					return updated, ctx.Err()
				}
				failed[n.Hash] = struct{}{}
				d.logger.Warn("rescan failed", "network_hash", n.Hash, "error", err)
				continue
			}
			if err := storeExec(d, func() error {
				return d.repos.Networks.SetArchitecture(ctx, n.Hash, arch.Filters, arch.Blocks)
			}); err != nil {
				return updated, fmt.Errorf("update %s: %w", n.Hash, err)
			}
			d.networks.Remove(n.Hash)
			updated++
			d.logger.Info("network rescanned", "network_hash", n.Hash, "architecture", arch.String())
		}
		if !progress || len(pending) < batch+len(failed) {
			return updated, nil
		}
	}
}

func (d *Dispatcher) scanArtifact(ctx context.Context, hash string) (weights.Architecture, error) {
	f, err := d.artifacts.Open(hash)
	if err != nil {
		return weights.Architecture{}, err
	}
	defer f.Close()
	res, err := ingest.Network(ctx, f, io.Discard)
	if err != nil {
		return weights.Architecture{}, err
	}
	if res.Hash != hash {
		return weights.Architecture{}, fmt.Errorf("artifact content hash %s does not match %s", res.Hash, hash)
	}
	return res.Architecture, nil
}
