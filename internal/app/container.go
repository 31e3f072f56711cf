package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/audio"
	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/dialer"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/infra/db"
	"github.com/acme/lead-dialer/internal/infra/redis"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/repository"
	pgrepo "github.com/acme/lead-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/lead-dialer/internal/repository/scylla"
	"github.com/acme/lead-dialer/internal/service/guard"
	"github.com/acme/lead-dialer/internal/session"
	"github.com/acme/lead-dialer/internal/telephony"
	telephonyMock "github.com/acme/lead-dialer/internal/telephony/mock"
	"github.com/acme/lead-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	window *dialer.CallingWindow

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		engine       *engine
	}
}

type repositories struct {
	Leads   repository.LeadRepository
	Journal repository.CallJournal
	Stats   repository.DialStatsRepository
}

type publishers struct {
	CallEvents *queue.CallEventPublisher
	LeadStatus *queue.LeadStatusPublisher
}

type engine struct {
	Audio      *audio.Manager
	Gateway    *telephony.Gateway
	Session    *session.Manager
	Controller *dialer.Controller
	Power      *dialer.PowerDialer
	Manual     *dialer.ManualDial
	Guard      *guard.CallGuard
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	window, err := dialer.NewCallingWindow(cfg.Dialer)
	if err != nil {
		return nil, fmt.Errorf("bootstrap calling hours: %w", err)
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
		window:   window,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Leads:   pgrepo.NewLeadRepository(c.Postgres.DB()),
			Journal: scyllarepo.NewCallJournal(c.Scylla.Session()),
			Stats:   pgrepo.NewDialStatsRepository(c.Postgres.DB()),
		}

		pubs := &publishers{
			CallEvents: queue.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventTopic),
			LeadStatus: queue.NewLeadStatusPublisher(c.Kafka, c.Config.Kafka.LeadStatusTopic),
		}

		callGuard := guard.NewCallGuard(c.Redis.Inner(), 2*time.Hour)

		audioMgr := audio.NewManager(
			c.Config.Audio,
			audio.NewLoopbackDevices(c.Config.Audio.SampleRate),
			c.Logger,
		)

		gateway := telephony.NewGateway(c.Config.Telephony)
		factory := telephonyMock.NewFactory()

		sess := session.NewManager(c.Config.Telephony, gateway, factory, c.Logger)

		ctrl := dialer.NewController(
			c.Config.Dialer,
			dialer.RealClock(),
			sess,
			gateway,
			audioMgr,
			callGuard,
			pubs.CallEvents,
			c.Logger,
		)

		report := func(lead domain.Lead, status domain.LeadStatus, note string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pubs.LeadStatus.PublishLeadStatus(ctx, queue.LeadStatusMessage{
				LeadID:     lead.ID,
				Status:     string(status),
				Note:       note,
				OccurredAt: time.Now().UTC(),
			}); err != nil {
				c.Logger.Warn("publish lead status", zap.Error(err))
			}
		}

		power := dialer.NewPowerDialer(c.Config.Dialer, dialer.RealClock(), ctrl, c.window, report, c.Logger)
		manual := dialer.NewManualDial(ctrl, sess)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.engine = &engine{
			Audio:      audioMgr,
			Gateway:    gateway,
			Session:    sess,
			Controller: ctrl,
			Power:      power,
			Manual:     manual,
			Guard:      callGuard,
		}
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Engine exposes the dialer engine components.
func (c *Container) Engine() *engine {
	c.initComponents()
	return c.components.engine
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if e := c.components.engine; e != nil {
		e.Power.Stop(ctx)
		e.Controller.Teardown(ctx)
		e.Session.Close()
		e.Audio.ReleaseAll()
	}
	if p := c.components.publishers; p != nil {
		if err := p.CallEvents.Close(); err != nil {
			errs = append(errs, fmt.Errorf("call event publisher close: %w", err))
		}
		if err := p.LeadStatus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("lead status publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.CallEventTopic, c.Config.Kafka.LeadStatusTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
