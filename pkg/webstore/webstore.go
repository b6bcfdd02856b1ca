// Package webstore fetches batches of URLs in parallel. URLs are grouped by
// effective domain and staggered so that same-domain requests respect a
// per-domain throttle, then partitioned across a fixed-size worker pool.
// Each worker owns a private UserAgent; no client session is ever shared.
package webstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mediacrawl/webagent/pkg/config"
	"github.com/mediacrawl/webagent/pkg/ua"
	"github.com/mediacrawl/webagent/pkg/utils"
)

// Fetcher runs parallel batch fetches using the web_store configuration.
type Fetcher struct {
	cfg *config.AppConfig
	log *logrus.Entry

	numParallel      int
	timeout          time.Duration
	perDomainTimeout time.Duration
	burstSize        int
}

// New validates the web_store settings and returns a Fetcher. The three
// primary settings are required here (not at config load) so that
// single-request usage never needs them.
func New(cfg *config.AppConfig, log *logrus.Entry) (*Fetcher, error) {
	ws := cfg.WebStore
	if ws.NumParallel <= 0 {
		return nil, fmt.Errorf("%w: web_store.num_parallel is not set", utils.ErrConfigValidation)
	}
	if ws.Timeout <= 0 {
		return nil, fmt.Errorf("%w: web_store.timeout is not set", utils.ErrConfigValidation)
	}
	if ws.PerDomainTimeout <= 0 {
		return nil, fmt.Errorf("%w: web_store.per_domain_timeout is not set", utils.ErrConfigValidation)
	}

	burstSize := ws.StaggerBurstSize
	if burstSize <= 0 {
		burstSize = config.DefaultBurstSize
	}

	return &Fetcher{
		cfg:              cfg,
		log:              log,
		numParallel:      ws.NumParallel,
		timeout:          ws.Timeout.Std(),
		perDomainTimeout: ws.PerDomainTimeout.Std(),
		burstSize:        burstSize,
	}, nil
}

// FetchAll fetches all URLs, following HTTP and HTML redirects, and returns
// their responses. Result order is not guaranteed to match input order. An
// empty or nil batch yields an empty result. Individual URL failures become
// synthetic client-side-error responses, never batch errors; the only batch
// error is context cancellation or a worker that could not even construct
// its UserAgent.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]*ua.Response, error) {
	if len(urls) == 0 {
		return []*ua.Response{}, nil
	}

	batchID := uuid.NewString()
	batchLog := f.log.WithFields(logrus.Fields{"batch_id": batchID, "urls": len(urls)})

	scheduled := scheduleURLs(urls, f.perDomainTimeout, f.burstSize)
	blocks, blockOrder := partitionURLs(scheduled, f.numParallel)

	batchLog.WithField("workers", len(blockOrder)).Info("Starting batch fetch")
	startTime := time.Now()

	results := make([][]*ua.Response, len(blockOrder))

	g, ctx := errgroup.WithContext(ctx)
	for i, blockIndex := range blockOrder {
		workerLog := batchLog.WithField("worker_id", blockIndex)
		block := blocks[blockIndex]
		slot := i

		g.Go(func() error {
			responses, err := f.fetchBlock(ctx, block, startTime, workerLog)
			if err != nil {
				return err
			}
			results[slot] = responses
			return nil
		})
	}

	// No extra timeout here: workers are trusted to bound themselves via
	// their per-request timeout.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*ua.Response
	for _, responses := range results {
		all = append(all, responses...)
	}

	batchLog.WithField("elapsed", time.Since(startTime).Round(time.Millisecond)).
		Info("Batch fetch finished")
	return all, nil
}

// fetchBlock runs one worker's ordered sub-list. The worker constructs its
// own UserAgent so that cookie jars, transports and retry state are never
// shared between workers.
func (f *Fetcher) fetchBlock(
	ctx context.Context,
	block []scheduledURL,
	startTime time.Time,
	log *logrus.Entry,
) ([]*ua.Response, error) {
	agent, err := ua.New(f.cfg, log)
	if err != nil {
		return nil, err
	}
	if err := agent.SetTimeout(f.timeout); err != nil {
		return nil, err
	}

	responses := make([]*ua.Response, 0, len(block))
	for _, su := range block {
		if sleep := su.offset - time.Since(startTime); sleep > 0 {
			log.WithFields(logrus.Fields{"url": su.url, "sleep": sleep.Round(time.Millisecond)}).
				Debug("Waiting for scheduled slot")
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := agent.GetFollowHTTPHTMLRedirects(su.url)
		if err != nil {
			// Bad individual URLs must not fail the batch.
			log.WithField("url", su.url).Warnf("Fetch failed: %v", err)
			resp = ua.NewFailedResponse(su.url, err)
		}
		responses = append(responses, resp)
	}

	return responses, nil
}
