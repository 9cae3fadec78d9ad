package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/adapter"
	"github.com/pithecene-io/parley/adapter/redis"
	"github.com/pithecene-io/parley/adapter/webhook"
	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/chat"
	"github.com/pithecene-io/parley/cli/config"
	"github.com/pithecene-io/parley/lode"
	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/policy"
	"github.com/pithecene-io/parley/types"
)

// closeTimeout bounds shutdown work (policy flush, metrics write).
const closeTimeout = 15 * time.Second

// resolveClientID falls back to the hostname.
func resolveClientID(c *cli.Context, cfg *config.Config) string {
	id := resolveString(c, "client-id", configVal(cfg, func(c *config.Config) string { return c.ClientID }))
	if id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "parley"
}

// buildLogger returns a logger and a closer for its output. forceFile sends
// logs to a file even when --log-file is unset, for commands that own the
// terminal.
func buildLogger(c *cli.Context, cfg *config.Config, clientID string, forceFile bool) (*log.Logger, func() error, error) {
	lvl, err := log.ParseLevel(resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level })))
	if err != nil {
		return nil, nil, err
	}
	path := resolveString(c, "log-file", configVal(cfg, func(c *config.Config) string { return c.Log.File }))
	if path == "" && forceFile {
		path = filepath.Join(os.TempDir(), "parley.log")
	}

	logger := log.NewLogger(&types.SessionMeta{ClientID: clientID}).WithLevel(lvl)
	if path == "" {
		return logger, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file: %w", err)
	}
	return logger.WithOutput(f), f.Close, nil
}

// resolveBackend builds the backend client configuration.
func resolveBackend(c *cli.Context, cfg *config.Config, logger *log.Logger) (backend.Config, error) {
	baseURL := resolveString(c, "backend-url", configVal(cfg, func(c *config.Config) string { return c.Backend.BaseURL }))
	if baseURL == "" {
		return backend.Config{}, errors.New("--backend-url is required (or backend.base_url in parley.yaml)")
	}
	headers, err := resolveHeaders(c, "backend-header", configVal(cfg, func(c *config.Config) map[string]string { return c.Backend.Headers }))
	if err != nil {
		return backend.Config{}, err
	}
	paths := configVal(cfg, func(c *config.Config) config.PathsConfig { return c.Backend.Paths })
	return backend.Config{
		BaseURL: baseURL,
		Token:   resolveString(c, "token", configVal(cfg, func(c *config.Config) string { return c.Backend.Token })),
		Headers: headers,
		Timeout: resolveDuration(c, "backend-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Backend.Timeout.Duration })),
		Retries: resolveIntPtr(c, "backend-retries", configVal(cfg, func(c *config.Config) *int { return c.Backend.Retries })),
		Paths: backend.Paths{
			CreateSession: paths.CreateSession,
			GetSession:    paths.GetSession,
			SendMessage:   paths.SendMessage,
			Personas:      paths.Personas,
			Feedback:      paths.Feedback,
		},
		Logger: logger,
	}, nil
}

// archiveChoice is the resolved archive configuration.
type archiveChoice struct {
	policy      string
	dataset     string
	backend     string
	path        string
	region      string
	endpoint    string
	pathStyle   bool
	bufferTurns int
}

func resolveArchive(c *cli.Context, cfg *config.Config) (archiveChoice, error) {
	a := configVal(cfg, func(c *config.Config) config.ArchiveConfig { return c.Archive })
	choice := resolveArchiveStore(c, a)
	choice.policy = resolveString(c, "archive-policy", a.Policy)
	choice.bufferTurns = resolveInt(c, "archive-buffer-turns", a.BufferTurns)
	return choice, validateArchive(choice)
}

// resolveArchiveStore resolves where the dataset lives, without the write
// policy.
func resolveArchiveStore(c *cli.Context, a config.ArchiveConfig) archiveChoice {
	return archiveChoice{
		dataset:   resolveString(c, "archive-dataset", a.Dataset),
		backend:   resolveString(c, "archive-backend", a.Backend),
		path:      resolveString(c, "archive-path", a.Path),
		region:    resolveString(c, "archive-region", a.Region),
		endpoint:  resolveString(c, "archive-endpoint", a.Endpoint),
		pathStyle: resolveBool(c, "archive-s3-path-style", a.S3PathStyle),
	}
}

func validateArchive(choice archiveChoice) error {
	switch choice.policy {
	case "none", "":
		return nil
	case "strict":
	case "buffered":
		if choice.bufferTurns <= 0 {
			return errors.New("buffered archive policy requires --archive-buffer-turns > 0")
		}
	default:
		return fmt.Errorf("invalid --archive-policy %q (must be strict, buffered or none)", choice.policy)
	}
	switch choice.backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("invalid --archive-backend %q (must be fs or s3)", choice.backend)
	}
	if choice.path == "" {
		return fmt.Errorf("--archive-path is required when --archive-policy=%s", choice.policy)
	}
	return nil
}

// buildArchive returns the archive policy and, when archiving is on, the
// Lode client behind it. The policy owns the client: closing the policy
// closes it.
func buildArchive(ctx context.Context, choice archiveChoice, clientID string, collector *metrics.Collector, logger *log.Logger) (policy.Policy, *lode.LodeClient, error) {
	if choice.policy == "none" || choice.policy == "" {
		return policy.NewNoopPolicy(), nil, nil
	}

	client, err := buildLodeClient(ctx, choice, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	sink := lode.NewSink(client, collector)

	switch choice.policy {
	case "strict":
		return policy.NewStrictPolicy(sink), client, nil
	case "buffered":
		p, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{
			MaxBufferTurns: choice.bufferTurns,
			Logger:         logger,
		})
		if err != nil {
			_ = sink.Close()
			return nil, nil, err
		}
		return p, client, nil
	default:
		_ = sink.Close()
		return nil, nil, fmt.Errorf("unknown archive policy: %s", choice.policy)
	}
}

func buildLodeClient(ctx context.Context, choice archiveChoice, clientID string) (*lode.LodeClient, error) {
	cfg := lode.Config{Dataset: choice.dataset, ClientID: clientID}
	switch choice.backend {
	case "fs":
		return lode.NewLodeClient(cfg, choice.path)
	case "s3":
		return lode.NewLodeS3Client(ctx, cfg, choice.s3Config())
	default:
		return nil, fmt.Errorf("unknown archive backend: %s (must be fs or s3)", choice.backend)
	}
}

func (a archiveChoice) s3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(a.path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       a.region,
		Endpoint:     a.endpoint,
		UsePathStyle: a.pathStyle,
	}
}

// adapterChoice is the resolved adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	encoding    string
}

// parseAdapterConfigWithPrecedence resolves adapter settings for
// adapterType from flags and config.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	a := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })

	choice := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", a.URL),
		timeout:     resolveDuration(c, "adapter-timeout", a.Timeout.Duration),
		retries:     resolveIntPtr(c, "adapter-retries", a.Retries),
		encoding:    resolveString(c, "adapter-encoding", a.Encoding),
	}

	headers, err := resolveHeaders(c, "adapter-header", a.Headers)
	if err != nil {
		return nil, err
	}
	choice.headers = headers

	switch adapterType {
	case "webhook":
		if choice.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=webhook")
		}
	case "redis":
		if choice.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=redis")
		}
		choice.channel = resolveString(c, "adapter-channel", a.Channel)
	default:
		return nil, fmt.Errorf("unknown adapter type: %q (must be webhook or redis)", adapterType)
	}
	return choice, nil
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, string, error) {
	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	if adapterType == "" {
		return nil, "", nil
	}
	choice, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
	if err != nil {
		return nil, "", err
	}
	enc, err := adapter.ParseEncoding(choice.encoding)
	if err != nil {
		return nil, "", err
	}

	switch choice.adapterType {
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:      choice.url,
			Headers:  choice.headers,
			Timeout:  choice.timeout,
			Retries:  choice.retries,
			Encoding: enc,
		})
		return a, choice.adapterType, err
	case "redis":
		a, err := redis.New(redis.Config{
			URL:      choice.url,
			Channel:  choice.channel,
			Timeout:  choice.timeout,
			Retries:  choice.retries,
			Encoding: enc,
		})
		return a, choice.adapterType, err
	default:
		return nil, "", fmt.Errorf("unknown adapter type: %q", choice.adapterType)
	}
}

// session is everything a turn-running command builds from flags and
// config.
type session struct {
	ctrl      *chat.Controller
	logger    *log.Logger
	collector *metrics.Collector
	policy    policy.Policy
	archive   *lode.LodeClient
	adapter   adapter.Adapter
	closers   []func() error
}

// openSession wires the backend client, archive, adapter and controller.
// When --session is given the session's history is loaded.
func openSession(c *cli.Context, notifier chat.Notifier, logToFile bool) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	clientID := resolveClientID(c, cfg)

	logger, closeLog, err := buildLogger(c, cfg, clientID, logToFile)
	if err != nil {
		return nil, err
	}
	s := &session{logger: logger, closers: []func() error{closeLog}}
	fail := func(err error) (*session, error) {
		s.closeResources()
		return nil, err
	}

	backendCfg, err := resolveBackend(c, cfg, logger)
	if err != nil {
		return fail(err)
	}
	client, err := backend.New(backendCfg)
	if err != nil {
		return fail(err)
	}

	archiveCfg, err := resolveArchive(c, cfg)
	if err != nil {
		return fail(err)
	}
	pub, adapterType, err := buildAdapter(c, cfg)
	if err != nil {
		return fail(err)
	}
	if pub != nil {
		s.adapter = pub
		s.closers = append(s.closers, pub.Close)
	}

	storage := archiveCfg.backend
	if archiveCfg.policy == "none" || archiveCfg.policy == "" {
		storage = ""
	}
	s.collector = metrics.NewCollector(archiveCfg.policy, storage, adapterType, clientID)

	pol, archive, err := buildArchive(c.Context, archiveCfg, clientID, s.collector, logger)
	if err != nil {
		return fail(err)
	}
	s.policy, s.archive = pol, archive

	chatCfg := configVal(cfg, func(c *config.Config) config.ChatConfig { return c.Chat })
	s.ctrl = chat.New(client, chat.Config{
		ClientID:            clientID,
		Logger:              logger,
		Collector:           s.collector,
		Notifier:            notifier,
		Policy:              pol,
		Adapter:             s.adapter,
		RevealCadence:       resolveDuration(c, "reveal-cadence", chatCfg.RevealCadence.Duration),
		RevealStep:          resolveInt(c, "reveal-step", chatCfg.RevealStep),
		MaxPendingCitations: resolveInt(c, "max-pending-citations", chatCfg.MaxPendingCitations),
		MaxFrameSize:        resolveInt(c, "max-frame-size", chatCfg.MaxFrameSize),
		DefaultPersonaID:    types.ID(resolveString(c, "persona", chatCfg.PersonaID)),
	})

	if id := c.String("session"); id != "" {
		if err := s.ctrl.LoadSession(c.Context, types.ID(id)); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close shuts the controller down, records a metrics snapshot in the
// archive and releases every resource. The first error is returned.
func (s *session) Close() error {
	var errs []error
	if s.ctrl != nil {
		errs = append(errs, s.ctrl.Close())
	}
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err := s.archive.WriteMetrics(ctx, s.collector.Snapshot(), s.ctrl.SessionID(), "", time.Now())
		cancel()
		if err != nil {
			s.logger.Warn("failed to archive metrics", map[string]any{"error": err.Error()})
		}
	}
	if s.policy != nil {
		errs = append(errs, s.policy.Close())
	}
	_ = s.logger.Sync()
	s.closeResources()
	return errors.Join(errs...)
}

func (s *session) closeResources() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

// openBackend builds a bare backend client for read-only commands.
func openBackend(c *cli.Context) (*backend.Client, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	clientID := resolveClientID(c, cfg)
	logger, closeLog, err := buildLogger(c, cfg, clientID, false)
	if err != nil {
		return nil, nil, err
	}
	done := func() {
		_ = logger.Sync()
		_ = closeLog()
	}
	backendCfg, err := resolveBackend(c, cfg, logger)
	if err != nil {
		done()
		return nil, nil, err
	}
	client, err := backend.New(backendCfg)
	if err != nil {
		done()
		return nil, nil, err
	}
	return client, done, nil
}
