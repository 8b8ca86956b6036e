package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/lockforge/lockd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultBatchSize    = 50
	defaultSyncInterval = 10 * time.Second
	keeperTaskTimeout   = 5 * time.Minute
)

type Config struct {
	Roles             Roles
	BaseToken         common.Address
	MinCycleInterval  time.Duration
	MinVoteLockCycles uint32
	Inflation         *domain.InflationSchedule
	BatchSize         int
	// KeeperInterval is how often this replica tries to run the distribution
	// as keeper. Zero disables the keeper loop.
	KeeperInterval time.Duration
	SyncInterval   time.Duration
}

// command validates a request against the engine state and returns the
// events to append. It always runs with the write lock held.
type command func(ctx context.Context, now time.Time) ([]domain.Event, error)

type service struct {
	// services
	repoManager ports.RepoManager
	liveStore   ports.LiveStore
	scheduler   ports.SchedulerService
	alerts      ports.Alerts
	metrics     ports.Metrics
	clock       clock.Clock

	// config
	roles          Roles
	baseToken      common.Address
	batchSize      int
	keeperInterval time.Duration
	syncInterval   time.Duration
	engineConfig   domain.EngineConfig

	// state
	engine *domain.Engine
	lock   sync.RWMutex

	passStartedAt time.Time
}

func NewService(
	cfg Config,
	repoManager ports.RepoManager,
	liveStore ports.LiveStore,
	scheduler ports.SchedulerService,
	alerts ports.Alerts,
	metrics ports.Metrics,
	clk clock.Clock,
) (Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if liveStore == nil {
		return nil, fmt.Errorf("missing live store")
	}
	if metrics == nil {
		return nil, fmt.Errorf("missing metrics")
	}
	if cfg.KeeperInterval > 0 {
		if scheduler == nil {
			return nil, fmt.Errorf("missing scheduler")
		}
		if cfg.Roles.Keeper == (common.Address{}) {
			return nil, fmt.Errorf("missing keeper address")
		}
	}
	if clk == nil {
		clk = clock.New()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	syncInterval := cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}

	engineConfig := domain.EngineConfig{
		MinCycleInterval:  cfg.MinCycleInterval,
		MinVoteLockCycles: cfg.MinVoteLockCycles,
		Inflation:         cfg.Inflation,
	}
	return &service{
		repoManager:    repoManager,
		liveStore:      liveStore,
		scheduler:      scheduler,
		alerts:         alerts,
		metrics:        metrics,
		clock:          clk,
		roles:          cfg.Roles,
		baseToken:      cfg.BaseToken,
		batchSize:      batchSize,
		keeperInterval: cfg.KeeperInterval,
		syncInterval:   syncInterval,
		engineConfig:   engineConfig,
		engine:         domain.NewEngine(engineConfig),
	}, nil
}

func (s *service) Admin() AdminService {
	return s
}

func (s *service) Start(ctx context.Context) error {
	s.registerEventsHandlers()

	log.Debug("replaying event log...")
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if s.engine.Initialized {
			return nil, nil
		}
		ev, err := s.engine.Genesis(now)
		if err != nil {
			return nil, err
		}
		log.Infof("genesis of the ledger at %s", now.UTC().Format(time.RFC3339))
		return []domain.Event{ev}, nil
	}); err != nil {
		return fmt.Errorf("failed to restore ledger state: %w", err)
	}

	if err := s.restoreRegistry(ctx); err != nil {
		return fmt.Errorf("failed to restore position registry: %w", err)
	}

	s.lock.RLock()
	log.WithFields(log.Fields{
		"cycle":     s.engine.Clock.Cycle,
		"last_seq":  s.engine.LastSeq,
		"positions": len(s.engine.Ledger.Positions),
		"gauges":    len(s.engine.Gauges.GaugeOrder),
	}).Info("ledger state restored")
	s.lock.RUnlock()

	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.ScheduleTask(s.syncInterval, s.syncTask); err != nil {
		return fmt.Errorf("failed to schedule sync task: %w", err)
	}
	if s.keeperInterval > 0 {
		if err := s.scheduler.ScheduleTask(s.keeperInterval, s.keeperTask); err != nil {
			return fmt.Errorf("failed to schedule keeper task: %w", err)
		}
		log.Infof("keeper enabled, running every %s", s.keeperInterval)

		// Don't wait a whole interval if the next cycle is due earlier.
		s.lock.RLock()
		nextAdvance := s.engine.Clock.NextAdvance()
		s.lock.RUnlock()
		if nextAdvance.After(s.clock.Now()) {
			if err := s.scheduler.ScheduleTaskOnce(nextAdvance, s.keeperTask); err != nil {
				return fmt.Errorf("failed to schedule keeper task: %w", err)
			}
		}
	}
	s.scheduler.Start()
	return nil
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		log.Debug("stopped scheduler")
	}
	s.repoManager.Events().ClearRegisteredHandlers()
	s.repoManager.Close()
	log.Debug("closed connection to db")
	s.liveStore.Close()
	log.Debug("closed connection to live store")
}

// execute runs cmd against the up-to-date state with both the distributed
// and the local write lock held, persists the resulting events and folds
// them into the state.
func (s *service) execute(ctx context.Context, cmd command) ([]domain.Event, error) {
	unlock, err := s.liveStore.Locker().Lock(ctx)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to acquire write lock: %w", err))
	}
	defer unlock()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.catchUp(ctx); err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}

	events, err := cmd(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	for i, ev := range events {
		ev.SetSeq(s.engine.LastSeq + uint64(i) + 1)
	}
	if err := s.repoManager.Events().Save(ctx, events...); err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to save events: %w", err))
	}
	if err := s.engine.Apply(events...); err != nil {
		log.WithError(err).Error("saved events can't be applied, rebuilding state from the log")
		if err := s.rebuild(ctx); err != nil {
			log.WithError(err).Error("failed to rebuild state")
		}
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return events, nil
}

// catchUp applies the events persisted by other replicas since the last one
// known locally. Callers must hold the write lock.
func (s *service) catchUp(ctx context.Context) error {
	events, err := s.repoManager.Events().Load(ctx, s.engine.LastSeq)
	if err != nil {
		return fmt.Errorf("failed to load events after %d: %w", s.engine.LastSeq, err)
	}
	if len(events) == 0 {
		return nil
	}
	if err := s.engine.Apply(events...); err != nil {
		return fmt.Errorf("failed to apply stored events: %w", err)
	}
	log.Debugf("applied %d stored events, last seq %d", len(events), s.engine.LastSeq)
	return nil
}

func (s *service) rebuild(ctx context.Context) error {
	s.engine = domain.NewEngine(s.engineConfig)
	return s.catchUp(ctx)
}

func (s *service) syncTask() {
	ctx, cancel := context.WithTimeout(context.Background(), s.syncInterval)
	defer cancel()

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.catchUp(ctx); err != nil {
		log.WithError(err).Warn("failed to sync with event log")
	}
}

// restoreRegistry mints the open positions the registry doesn't know about,
// for example when the events were saved but the process died before
// minting.
func (s *service) restoreRegistry(ctx context.Context) error {
	s.lock.RLock()
	missing := make(map[uint64]common.Address)
	for id, p := range s.engine.Ledger.Positions {
		if !p.Closed {
			missing[id] = p.Owner
		}
	}
	s.lock.RUnlock()

	registry := s.liveStore.Registry()
	count := 0
	for id, owner := range missing {
		current, err := registry.OwnerOf(ctx, id)
		if err != nil {
			return err
		}
		if current != (common.Address{}) {
			continue
		}
		if err := registry.Mint(ctx, id, owner); err != nil {
			return err
		}
		count++
	}
	if count > 0 {
		log.Infof("restored %d positions in registry", count)
	}
	return nil
}

func (s *service) requireRole(caller, role common.Address, name string) error {
	if role == (common.Address{}) || caller != role {
		return errors.NOT_AUTHORIZED.New("caller %s is not the %s", caller.Hex(), name).
			WithMetadata(errors.AuthMetadata{Caller: caller.Hex()})
	}
	return nil
}

// ownerOf returns the current owner of a position: the registry owner for
// open positions, the close recipient for closed ones.
func (s *service) ownerOf(ctx context.Context, p *domain.Position) (common.Address, error) {
	if p.Closed {
		return p.Owner, nil
	}
	owner, err := s.liveStore.Registry().OwnerOf(ctx, p.ID)
	if err != nil {
		return common.Address{}, errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to get owner of position %d: %w", p.ID, err),
		)
	}
	if owner == (common.Address{}) {
		return p.Owner, nil
	}
	return owner, nil
}

// authorize checks that caller is the owner of the position or one of its
// delegates.
func (s *service) authorize(ctx context.Context, p *domain.Position, caller common.Address) error {
	notAuthorized := errors.NOT_AUTHORIZED.New(
		"caller %s can't act on position %d", caller.Hex(), p.ID,
	).WithMetadata(errors.AuthMetadata{PositionID: p.ID, Caller: caller.Hex()})

	if caller == (common.Address{}) {
		return notAuthorized
	}
	owner, err := s.ownerOf(ctx, p)
	if err != nil {
		return err
	}
	if caller == owner {
		return nil
	}
	if p.Closed {
		return notAuthorized
	}
	ok, err := s.liveStore.Registry().IsAuthorizedDelegate(ctx, p.ID, caller)
	if err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to check delegates of position %d: %w", p.ID, err),
		)
	}
	if !ok {
		return notAuthorized
	}
	return nil
}

// readAt returns the cycle to read at, the current one if at is nil.
func (s *service) readAt(at *uint32) uint32 {
	if at == nil {
		return s.engine.Clock.Cycle
	}
	return *at
}
