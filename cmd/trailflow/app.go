package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-trailflow/pkg/awsclient"
	"github.com/illmade-knight/go-trailflow/pkg/bqstore"
	"github.com/illmade-knight/go-trailflow/pkg/cache"
	"github.com/illmade-knight/go-trailflow/pkg/config"
	"github.com/illmade-knight/go-trailflow/pkg/filter"
	"github.com/illmade-knight/go-trailflow/pkg/icestore"
	"github.com/illmade-knight/go-trailflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trailflow/pkg/microservice"
	"github.com/illmade-knight/go-trailflow/pkg/objectstore"
	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/queue"
	"github.com/illmade-knight/go-trailflow/pkg/verify"
)

// app holds the assembled pipeline and everything that must be released on
// shutdown, in creation order.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	executor *messagepipeline.Executor
	server   *microservice.BaseServer
	closers  []func(context.Context) error
}

func (a *app) onShutdown(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Shutdown stops the executor first so that no sink is closed under a worker,
// then releases clients in reverse creation order.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		a.server.SetReady(false)
	}
	if a.executor != nil {
		if err := a.executor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("executor: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	registry := prometheus.NewRegistry()
	metrics, err := progress.NewMetricsReporter(registry)
	if err != nil {
		return nil, err
	}
	dispatcher := progress.NewDispatcher(
		progress.Reporters(progress.NewLoggingReporter(logger), metrics),
		progress.NewLoggingExceptionHandler(logger),
		logger,
	)

	var aws *awsclient.Manager
	if cfg.Queue.Backend == config.QueueSQS || cfg.ObjectStore.Backend == config.StoreS3 {
		aws, err = awsclient.NewManager(ctx, awsclient.WithDefaultRegion(cfg.AWS.Region))
		if err != nil {
			return nil, err
		}
	}

	service, err := a.queueService(ctx, aws)
	if err != nil {
		return nil, err
	}
	queueManager, err := queue.NewManager(service, nil, dispatcher, queue.ManagerConfig{
		DeleteOnFailure:   cfg.Queue.DeleteOnFailure,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.onShutdown(func(context.Context) error { queueManager.Close(); return nil })

	store, err := a.objectStore(ctx, aws)
	if err != nil {
		return nil, err
	}
	downloader, err := objectstore.NewFetcher(store)
	if err != nil {
		return nil, err
	}

	sink, err := a.sink(ctx)
	if err != nil {
		return nil, err
	}

	opts := []messagepipeline.PipelineOption{messagepipeline.WithDispatcher(dispatcher)}
	sourceFilter, eventFilter, err := buildFilters(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	opts = append(opts, messagepipeline.WithSourceFilter(sourceFilter), messagepipeline.WithEventFilter(eventFilter))
	if cfg.Verification.Enabled {
		verifier, err := a.verifier(ctx, store)
		if err != nil {
			return nil, err
		}
		opts = append(opts, messagepipeline.WithVerifier(verifier))
	}

	pipeline, err := messagepipeline.NewPipeline(messagepipeline.PipelineConfig{
		BufferCapacity:     cfg.Pipeline.BufferCapacity,
		RejectUnverified:   cfg.Pipeline.RejectUnverified,
		EnableRawEventInfo: cfg.Pipeline.RawEvents,
	}, downloader, sink, logger, opts...)
	if err != nil {
		return nil, err
	}

	a.executor, err = messagepipeline.NewExecutor(messagepipeline.ExecutorConfig{
		NumWorkers:  cfg.Queue.NumWorkers,
		IdleBackoff: cfg.Queue.IdleBackoff,
	}, queueManager, pipeline, dispatcher, logger)
	if err != nil {
		return nil, err
	}
	a.server = microservice.NewBaseServer(logger, cfg.HTTPPort, registry)
	return a, nil
}

func (a *app) gcpOptions() []option.ClientOption {
	if a.cfg.GCP.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.GCP.CredentialsFile)}
}

func (a *app) awsOptions() []awsclient.ClientOption {
	opts := []awsclient.ClientOption{awsclient.WithRegion(a.cfg.AWS.Region)}
	if a.cfg.AWS.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(a.cfg.AWS.RoleARN))
	}
	if a.cfg.AWS.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(a.cfg.AWS.Endpoint))
	}
	if a.cfg.AWS.PathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	return opts
}

func (a *app) queueService(ctx context.Context, aws *awsclient.Manager) (queue.Service, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueSQS:
		return queue.NewSQSService(aws.GetSQS(ctx, a.awsOptions()...), a.cfg.Queue.URL)
	case config.QueuePubsub:
		client, err := pubsubapi.NewSubscriberClient(ctx, a.gcpOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub subscriber client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return client.Close() })
		return queue.NewPubsubService(queue.NewSubscriberClientAdapter(client), subscriptionName(a.cfg.GCP.ProjectID, a.cfg.Queue.Subscription))
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
}

func subscriptionName(projectID, subscription string) string {
	if strings.HasPrefix(subscription, "projects/") {
		return subscription
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscription)
}

func (a *app) storageClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, a.gcpOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	a.onShutdown(func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *app) objectStore(ctx context.Context, aws *awsclient.Manager) (objectstore.Store, error) {
	var (
		store objectstore.Store
		err   error
	)
	switch a.cfg.ObjectStore.Backend {
	case config.StoreS3:
		store, err = objectstore.NewS3Store(aws.GetS3(ctx, a.awsOptions()...))
	case config.StoreGCS:
		var client *storage.Client
		if client, err = a.storageClient(ctx); err == nil {
			store, err = objectstore.NewGCSStore(objectstore.NewGCSClientAdapter(client))
		}
	default:
		err = fmt.Errorf("unknown object store backend %q", a.cfg.ObjectStore.Backend)
	}
	if err != nil {
		return nil, err
	}

	retry := objectstore.DefaultRetryConfig()
	retry.MaxAttempts = a.cfg.ObjectStore.MaxAttempts
	if a.cfg.ObjectStore.InitialInterval > 0 {
		retry.InitialInterval = a.cfg.ObjectStore.InitialInterval
	}
	return objectstore.NewRetryingStore(store, retry, a.logger), nil
}

func (a *app) verifier(ctx context.Context, store objectstore.Store) (*verify.SignatureVerifier, error) {
	direct, err := verify.NewStorePEMFetcher(store)
	if err != nil {
		return nil, err
	}
	var pems verify.PEMFetcher = direct

	cc := a.cfg.Verification.Cache
	source := verify.PEMSource(direct)
	var pemCache cache.Fetcher[string, verify.PEMObject]
	switch cc.Backend {
	case config.CacheNone:
	case config.CacheMemory:
		pemCache, err = cache.NewInMemoryTTLCache(cc.TTL, source)
	case config.CacheLRU:
		pemCache, err = cache.NewInMemoryLRUCache(cc.MaxSize, source)
	case config.CacheRedis:
		pemCache, err = cache.NewRedisCache(ctx, &cache.RedisConfig{
			Addr:      cc.RedisAddr,
			Password:  cc.RedisPassword,
			DB:        cc.RedisDB,
			CacheTTL:  cc.TTL,
			KeyPrefix: "trailflow:pem:",
		}, a.logger, source)
	case config.CacheFirestore:
		var client *firestore.Client
		client, err = firestore.NewClient(ctx, a.cfg.GCP.ProjectID, a.gcpOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return client.Close() })
		pemCache, err = cache.NewFirestoreCache(&cache.FirestoreConfig{
			ProjectID:      a.cfg.GCP.ProjectID,
			CollectionName: cc.Collection,
		}, client, a.logger, source)
	default:
		err = fmt.Errorf("unknown certificate cache backend %q", cc.Backend)
	}
	if err != nil {
		return nil, err
	}
	if pemCache != nil {
		cached, err := verify.NewCachingPEMFetcher(pemCache)
		if err != nil {
			return nil, err
		}
		a.onShutdown(func(context.Context) error { return cached.Close() })
		pems = cached
	}

	return verify.NewSignatureVerifier(pems, verify.Config{CertificateBucket: a.cfg.Verification.CertificateBucket}, a.logger)
}

func (a *app) sink(ctx context.Context) (messagepipeline.EventsProcessor, error) {
	sc := a.cfg.Sink
	switch sc.Backend {
	case config.SinkLog:
		return messagepipeline.NewLoggingProcessor(a.logger), nil
	case config.SinkBigQuery:
		client, err := bqstore.NewProductionBigQueryClient(ctx, a.cfg.GCP.ProjectID, a.cfg.GCP.CredentialsFile, a.logger)
		if err != nil {
			return nil, err
		}
		a.onShutdown(func(context.Context) error { return client.Close() })
		inserter, err := bqstore.NewBigQueryEventSink(ctx, client, &bqstore.BigQueryDatasetConfig{
			ProjectID: a.cfg.GCP.ProjectID,
			DatasetID: sc.DatasetID,
			TableID:   sc.TableID,
		}, bqstore.EventInserterConfig{InsertTimeout: sc.InsertTimeout}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onShutdown(func(context.Context) error { return inserter.Close() })
		return inserter, nil
	case config.SinkGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		uploader, err := icestore.NewGCSBatchUploader(objectstore.NewGCSClientAdapter(client), icestore.GCSBatchUploaderConfig{
			BucketName:   sc.Bucket,
			ObjectPrefix: sc.ObjectPrefix,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return icestore.NewArchiver(uploader, a.logger)
	case config.SinkPubsub:
		client, err := pubsub.NewClient(ctx, a.cfg.GCP.ProjectID, a.gcpOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return client.Close() })
		publisher, err := messagepipeline.NewPubsubPublisher(ctx, messagepipeline.NewPubsubPublisherDefaults(sc.TopicID), client, a.logger)
		if err != nil {
			return nil, err
		}
		a.onShutdown(publisher.Stop)
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", sc.Backend)
	}
}

// buildFilters combines the account allow-list and the CEL expressions.
func buildFilters(pc config.PipelineConfig) (filter.SourceFilter, filter.EventFilter, error) {
	var sources []filter.SourceFilter
	if len(pc.AccountIDs) > 0 {
		sources = append(sources, filter.AccountIDFilter(pc.AccountIDs...))
	}
	if pc.SourceFilter != "" {
		f, err := filter.NewCELSourceFilter(pc.SourceFilter)
		if err != nil {
			return nil, nil, fmt.Errorf("source filter: %w", err)
		}
		sources = append(sources, f)
	}

	var events []filter.EventFilter
	if pc.EventFilter != "" {
		f, err := filter.NewCELEventFilter(pc.EventFilter)
		if err != nil {
			return nil, nil, fmt.Errorf("event filter: %w", err)
		}
		events = append(events, f)
	}
	return filter.AllSources(sources...), filter.AllEvents(events...), nil
}
