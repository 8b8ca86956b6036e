package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/application"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/core/ports"
	alertsmanager "github.com/lockforge/lockd/internal/infrastructure/alertsmanager"
	"github.com/lockforge/lockd/internal/infrastructure/db"
	inmemorylivestore "github.com/lockforge/lockd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/lockforge/lockd/internal/infrastructure/live-store/redis"
	timescheduler "github.com/lockforge/lockd/internal/infrastructure/scheduler/gocron"
	"github.com/lockforge/lockd/internal/telemetry"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	supportedEventDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedEventBuses = supportedType{
		"gochannel": {},
		"postgres":  {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
)

type Config struct {
	Datadir     string
	Port        uint32
	LogLevel    int
	EnablePprof bool

	EventDbType         string
	EventDbDir          string
	EventDbUrl          string
	EventBusType        string
	EventBusBufferSize  int64
	SchedulerType       string
	LiveStoreType       string
	RedisUrl            string
	RedisTxNumOfRetries int
	RedisLockTTL        time.Duration

	AdminAddress    string
	KeeperAddress   string
	TreasuryAddress string
	BaseToken       string

	MinCycleInterval           time.Duration
	MinVoteLockCycles          uint32
	InflationPerCycle          string
	InflationReductionInterval uint32
	InflationReductionMul      uint64
	InflationReductionDiv      uint64
	BatchSize                  int
	KeeperInterval             time.Duration
	SyncInterval               time.Duration

	OtelCollectorEndpoint string
	OtelPushInterval      int64
	AlertManagerURL       string
	TokenSymbol           string
	TokenDecimals         int32

	repo      ports.RepoManager
	svc       application.Service
	scheduler ports.SchedulerService
	liveStore ports.LiveStore
	alerts    ports.Alerts
	metrics   ports.Metrics
}

func (c *Config) String() string {
	clone := *c
	if clone.EventDbUrl != "" {
		clone.EventDbUrl = maskUrl(clone.EventDbUrl)
	}
	if clone.RedisUrl != "" {
		clone.RedisUrl = maskUrl(clone.RedisUrl)
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir             = btcutil.AppDataDir("lockd", false)
	DefaultPort                = 7080
	defaultLogLevel            = 4
	defaultEventDbType         = "badger"
	defaultEventBusType        = "gochannel"
	defaultEventBusBufferSize  = 256
	defaultSchedulerType       = "gocron"
	defaultLiveStoreType       = "inmemory"
	defaultRedisTxNumOfRetries = 10
	defaultRedisLockTTL        = 30 * time.Second
	defaultMinCycleInterval    = 7 * 24 * time.Hour
	defaultMinVoteLockCycles   = 1
	defaultInflationPerCycle   = "0"
	defaultBatchSize           = 50
	defaultKeeperInterval      = time.Duration(0) // disabled
	defaultSyncInterval        = 10 * time.Second
	defaultOtelPushInterval    = 10 // seconds
	defaultTokenSymbol         = "LOCK"
	defaultTokenDecimals       = 18
	defaultEnablePprof         = false
)

// env returns a list of strings prefixed with `LOCKD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("LOCKD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	EventDbType = &cli.StringFlag{
		Usage: "Event database type (badger, sqlite, postgres)",
		Name:  "event-db-type", EnvVars: env("EVENT_DB_TYPE"),
		Value: defaultEventDbType,
	}

	EventDbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if LOCKD_EVENT_DB_TYPE is set to postgres",
		Name:  "pg-event-db-url", EnvVars: env("PG_EVENT_DB_URL"),
	}

	EventBusType = &cli.StringFlag{
		Usage: "Event bus type (gochannel, postgres), postgres reuses LOCKD_PG_EVENT_DB_URL",
		Name:  "event-bus-type", EnvVars: env("EVENT_BUS_TYPE"),
		Value: defaultEventBusType,
	}

	EventBusBufferSize = &cli.Int64Flag{
		Usage: "Output buffer of the gochannel event bus",
		Name:  "event-bus-buffer-size", EnvVars: env("EVENT_BUS_BUFFER_SIZE"),
		Value: int64(defaultEventBusBufferSize),
	}

	LiveStoreType = &cli.StringFlag{
		Usage: "Live store type (redis, inmemory), redis is required to run multiple replicas",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis db connection url if LOCKD_LIVE_STORE_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisTxNumOfRetries = &cli.IntFlag{
		Usage: "Maximum number of retries for Redis write operations in case of conflicts",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisTxNumOfRetries,
	}

	RedisLockTTL = &cli.DurationFlag{
		Usage: "Expiry of the distributed write lock held in Redis",
		Name:  "redis-lock-ttl", EnvVars: env("REDIS_LOCK_TTL"),
		Value: defaultRedisLockTTL,
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	AdminAddress = &cli.StringFlag{
		Usage: "Address allowed to manage gauges, classes and weights",
		Name:  "admin-address", EnvVars: env("ADMIN_ADDRESS"),
	}

	KeeperAddress = &cli.StringFlag{
		Usage: "Address allowed to trigger distributions",
		Name:  "keeper-address", EnvVars: env("KEEPER_ADDRESS"),
	}

	TreasuryAddress = &cli.StringFlag{
		Usage: "Address allowed to deposit epoch rewards",
		Name:  "treasury-address", EnvVars: env("TREASURY_ADDRESS"),
	}

	BaseToken = &cli.StringFlag{
		Usage: "Address of the locked token",
		Name:  "base-token", EnvVars: env("BASE_TOKEN"),
	}

	MinCycleInterval = &cli.DurationFlag{
		Usage: "Minimum time between two cycle advances",
		Name:  "min-cycle-interval", EnvVars: env("MIN_CYCLE_INTERVAL"),
		Value: defaultMinCycleInterval,
	}

	MinVoteLockCycles = &cli.UintFlag{
		Usage: "Remaining lock cycles a position needs to vote on time-locked gauges",
		Name:  "min-vote-lock-cycles", EnvVars: env("MIN_VOTE_LOCK_CYCLES"),
		Value: uint(defaultMinVoteLockCycles),
	}

	InflationPerCycle = &cli.StringFlag{
		Usage: "Emission of the first cycles, in base units",
		Name:  "inflation-per-cycle", EnvVars: env("INFLATION_PER_CYCLE"),
		Value: defaultInflationPerCycle,
	}

	InflationReductionInterval = &cli.UintFlag{
		Usage: "Cycles between two emission reductions",
		Name:  "inflation-reduction-interval", EnvVars: env("INFLATION_REDUCTION_INTERVAL"),
		DefaultText: "0 constant emission",
	}

	InflationReductionMul = &cli.Uint64Flag{
		Usage: "Numerator of the emission reduction factor",
		Name:  "inflation-reduction-mul", EnvVars: env("INFLATION_REDUCTION_MUL"),
	}

	InflationReductionDiv = &cli.Uint64Flag{
		Usage: "Denominator of the emission reduction factor",
		Name:  "inflation-reduction-div", EnvVars: env("INFLATION_REDUCTION_DIV"),
	}

	BatchSize = &cli.IntFlag{
		Usage: "Number of gauges processed per distribution step",
		Name:  "batch-size", EnvVars: env("BATCH_SIZE"),
		Value: defaultBatchSize,
	}

	KeeperInterval = &cli.DurationFlag{
		Usage: "How often this replica runs the distribution as keeper",
		Name:  "keeper-interval", EnvVars: env("KEEPER_INTERVAL"),
		Value:       defaultKeeperInterval,
		DefaultText: "0 disabled",
	}

	SyncInterval = &cli.DurationFlag{
		Usage: "How often to catch up with events appended by other replicas",
		Name:  "sync-interval", EnvVars: env("SYNC_INTERVAL"),
		Value: defaultSyncInterval,
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint",
		Name:  "collector-endpoint", EnvVars: env("COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.IntFlag{
		Usage: "OpenTelemetry push interval in seconds",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: defaultOtelPushInterval,
	}

	AlertManagerURL = &cli.StringFlag{
		Usage: "Alertmanager endpoint receiving distribution and closing alerts",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	TokenSymbol = &cli.StringFlag{
		Usage: "Symbol of the locked token, used in alerts",
		Name:  "token-symbol", EnvVars: env("TOKEN_SYMBOL"),
		Value: defaultTokenSymbol,
	}

	TokenDecimals = &cli.IntFlag{
		Usage: "Decimals of the locked token, used in alerts",
		Name:  "token-decimals", EnvVars: env("TOKEN_DECIMALS"),
		Value: defaultTokenDecimals,
	}

	EnablePprof = &cli.BoolFlag{
		Usage: "",
		Name:  "enable-pprof", EnvVars: env("ENABLE_PPROF"),
		Value: defaultEnablePprof,
	}
)

var Flags = []cli.Flag{
	Datadir,
	Port,
	LogLevel,
	EventDbType,
	EventDbUrl,
	EventBusType,
	EventBusBufferSize,
	LiveStoreType,
	RedisUrl,
	RedisTxNumOfRetries,
	RedisLockTTL,
	SchedulerType,
	AdminAddress,
	KeeperAddress,
	TreasuryAddress,
	BaseToken,
	MinCycleInterval,
	MinVoteLockCycles,
	InflationPerCycle,
	InflationReductionInterval,
	InflationReductionMul,
	InflationReductionDiv,
	BatchSize,
	KeeperInterval,
	SyncInterval,
	OtelCollectorEndpoint,
	OtelPushInterval,
	AlertManagerURL,
	TokenSymbol,
	TokenDecimals,
	EnablePprof,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	var eventDbUrl string
	if c.String(EventDbType.Name) == "postgres" || c.String(EventBusType.Name) == "postgres" {
		eventDbUrl = c.String(EventDbUrl.Name)
		if eventDbUrl == "" {
			return nil, fmt.Errorf("event db or bus type set to 'postgres' but event db url is missing")
		}
	}

	var redisUrl string
	if c.String(LiveStoreType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	return &Config{
		Datadir:             c.String(Datadir.Name),
		Port:                uint32(c.Uint(Port.Name)),
		LogLevel:            c.Int(LogLevel.Name),
		EnablePprof:         c.Bool(EnablePprof.Name),
		EventDbType:         c.String(EventDbType.Name),
		EventDbDir:          dbPath,
		EventDbUrl:          eventDbUrl,
		EventBusType:        c.String(EventBusType.Name),
		EventBusBufferSize:  c.Int64(EventBusBufferSize.Name),
		SchedulerType:       c.String(SchedulerType.Name),
		LiveStoreType:       c.String(LiveStoreType.Name),
		RedisUrl:            redisUrl,
		RedisTxNumOfRetries: c.Int(RedisTxNumOfRetries.Name),
		RedisLockTTL:        c.Duration(RedisLockTTL.Name),

		AdminAddress:    c.String(AdminAddress.Name),
		KeeperAddress:   c.String(KeeperAddress.Name),
		TreasuryAddress: c.String(TreasuryAddress.Name),
		BaseToken:       c.String(BaseToken.Name),

		MinCycleInterval:           c.Duration(MinCycleInterval.Name),
		MinVoteLockCycles:          uint32(c.Uint(MinVoteLockCycles.Name)),
		InflationPerCycle:          c.String(InflationPerCycle.Name),
		InflationReductionInterval: uint32(c.Uint(InflationReductionInterval.Name)),
		InflationReductionMul:      c.Uint64(InflationReductionMul.Name),
		InflationReductionDiv:      c.Uint64(InflationReductionDiv.Name),
		BatchSize:                  c.Int(BatchSize.Name),
		KeeperInterval:             c.Duration(KeeperInterval.Name),
		SyncInterval:               c.Duration(SyncInterval.Name),

		OtelCollectorEndpoint: c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:      c.Int64(OtelPushInterval.Name),
		AlertManagerURL:       c.String(AlertManagerURL.Name),
		TokenSymbol:           c.String(TokenSymbol.Name),
		TokenDecimals:         int32(c.Int(TokenDecimals.Name)),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if !supportedEventBuses.supports(c.EventBusType) {
		return fmt.Errorf(
			"event bus type not supported, please select one of: %s",
			supportedEventBuses,
		)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}

	for name, addr := range map[string]string{
		"admin":      c.AdminAddress,
		"keeper":     c.KeeperAddress,
		"treasury":   c.TreasuryAddress,
		"base token": c.BaseToken,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q", name, addr)
		}
	}
	if c.AdminAddress == "" {
		log.Warn("admin address not set, gauges and classes can't be managed")
	}
	if c.TreasuryAddress == "" {
		log.Warn("treasury address not set, epoch rewards can't be deposited")
	}
	if c.KeeperInterval > 0 && c.KeeperAddress == "" {
		return fmt.Errorf("keeper interval set but keeper address is missing")
	}

	if _, err := c.inflationSchedule(); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("invalid batch size, must not be negative")
	}
	if c.MinCycleInterval < 0 {
		return fmt.Errorf("invalid min cycle interval, must not be negative")
	}
	if c.KeeperInterval < 0 {
		return fmt.Errorf("invalid keeper interval, must not be negative")
	}
	if c.LiveStoreType == "inmemory" && c.KeeperInterval > 0 && c.EventBusType == "postgres" {
		log.Warn("inmemory live store doesn't coordinate replicas, use redis to run more than one")
	}
	if c.TokenDecimals < 0 {
		return fmt.Errorf("invalid token decimals, must not be negative")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	return nil
}

// AppService lazily builds the application service. Metrics instruments are
// created here so that they bind to the meter provider installed by the
// interface layer.
func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) AdminService() (application.AdminService, error) {
	svc, err := c.AppService()
	if err != nil {
		return nil, err
	}
	return svc.Admin(), nil
}

func (c *Config) repoManager() error {
	var eventStoreConfig []interface{}
	var eventBusConfig []interface{}

	switch c.EventDbType {
	case "badger":
		eventStoreConfig = []interface{}{c.EventDbDir, log.New()}
	case "sqlite":
		eventStoreConfig = []interface{}{c.EventDbDir}
	case "postgres":
		eventStoreConfig = []interface{}{c.EventDbUrl, true}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.EventBusType {
	case "gochannel":
		eventBusConfig = []interface{}{c.EventBusBufferSize}
	case "postgres":
		eventBusConfig = []interface{}{c.EventDbUrl, true}
	default:
		return fmt.Errorf("unknown event bus type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		EventBusType:     c.EventBusType,
		EventStoreConfig: eventStoreConfig,
		EventBusConfig:   eventBusConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) liveStoreService() error {
	var liveStoreSvc ports.LiveStore
	switch c.LiveStoreType {
	case "inmemory":
		liveStoreSvc = inmemorylivestore.NewLiveStore()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		liveStoreSvc = redislivestore.NewLiveStore(rdb, c.RedisTxNumOfRetries, c.RedisLockTTL)
	default:
		return fmt.Errorf("unknown liveStore type")
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	default:
		return fmt.Errorf("unknown scheduler type")
	}

	c.scheduler = svc
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerURL == "" {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerURL, c.TokenSymbol, c.TokenDecimals)
	return nil
}

func (c *Config) metricsService() error {
	svc, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	c.metrics = svc
	return nil
}

func (c *Config) appService() error {
	if c.repo == nil || c.liveStore == nil {
		return fmt.Errorf("config not validated")
	}
	if err := c.metricsService(); err != nil {
		return err
	}
	inflation, err := c.inflationSchedule()
	if err != nil {
		return err
	}

	svc, err := application.NewService(
		application.Config{
			Roles: application.Roles{
				Admin:    addressOrZero(c.AdminAddress),
				Keeper:   addressOrZero(c.KeeperAddress),
				Treasury: addressOrZero(c.TreasuryAddress),
			},
			BaseToken:         addressOrZero(c.BaseToken),
			MinCycleInterval:  c.MinCycleInterval,
			MinVoteLockCycles: c.MinVoteLockCycles,
			Inflation:         inflation,
			BatchSize:         c.BatchSize,
			KeeperInterval:    c.KeeperInterval,
			SyncInterval:      c.SyncInterval,
		},
		c.repo, c.liveStore, c.scheduler, c.alerts, c.metrics, clock.New(),
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

func (c *Config) inflationSchedule() (*domain.InflationSchedule, error) {
	base, err := uint256.FromDecimal(c.InflationPerCycle)
	if err != nil {
		return nil, fmt.Errorf("invalid inflation per cycle %q: %s", c.InflationPerCycle, err)
	}
	if c.InflationReductionInterval > 0 {
		if c.InflationReductionMul == 0 || c.InflationReductionDiv == 0 {
			return nil, fmt.Errorf("inflation reduction mul and div must be set with an interval")
		}
		if c.InflationReductionMul > c.InflationReductionDiv {
			return nil, fmt.Errorf("inflation reduction factor must not exceed 1")
		}
	}
	return domain.NewInflationSchedule(
		base, c.InflationReductionInterval, c.InflationReductionMul, c.InflationReductionDiv,
	), nil
}

func addressOrZero(addr string) common.Address {
	if addr == "" {
		return common.Address{}
	}
	return common.HexToAddress(addr)
}

func maskUrl(rawUrl string) string {
	at := strings.LastIndex(rawUrl, "@")
	scheme := strings.Index(rawUrl, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return rawUrl
	}
	return rawUrl[:scheme+3] + "••••••" + rawUrl[at:]
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
