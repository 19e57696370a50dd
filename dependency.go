package rq

import (
	"context"
	"fmt"

	"github.com/DoNewsCode/core/config"
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/di"
	"github.com/DoNewsCode/core/otredis"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/oklog/run"
	"github.com/pkg/errors"
)

/*
Providers returns a set of dependencies related to rq. It includes the
BusMaker, the default *Bus and the exported configs.
	Depends On:
		contract.ConfigAccessor
		log.Logger
		contract.AppName
		contract.Env
		Gauge                `optional:"true"`
		Counter              `optional:"true"`
		contract.DIPopulator `optional:"true"`
		Driver               `optional:"true"`
	Provides:
		BusMaker
		BusFactory
		*Bus
*/
func Providers(optionFunc ...ProvidersOptionFunc) di.Deps {
	option := &providersOption{}
	for _, f := range optionFunc {
		f(option)
	}
	return []interface{}{
		provideBusFactory(option),
		provideConfig,
		provideBus,
	}
}

// Gauge is an alias used for dependency injection. It must accept the labels "queue" and "region".
type Gauge metrics.Gauge

// Counter is an alias used for dependency injection. It counts reclaimed messages and must accept the
// label "queue".
type Counter metrics.Counter

// makerIn is the injection parameters for provideBusFactory
type makerIn struct {
	di.In

	Conf      contract.ConfigAccessor
	Logger    log.Logger
	AppName   contract.AppName
	Env       contract.Env
	Gauge     Gauge                `optional:"true"`
	Counter   Counter              `optional:"true"`
	Populator contract.DIPopulator `optional:"true"`
	Driver    Driver               `optional:"true"`
}

// makerOut is the di output of provideBusFactory
type makerOut struct {
	di.Out

	BusFactory BusFactory
	BusMaker   BusMaker
}

func (m makerOut) ModuleSentinel() {}

func (m makerOut) Module() interface{} { return m }

// provideBusFactory is a provider for BusFactory and BusMaker.
func provideBusFactory(option *providersOption) func(p makerIn) (makerOut, error) {
	if option.driverConstructor == nil {
		option.driverConstructor = newDefaultDriver
	}
	return func(p makerIn) (makerOut, error) {
		var (
			err   error
			confs map[string]Configuration
		)
		err = p.Conf.Unmarshal("rq", &confs)
		if err != nil {
			level.Warn(p.Logger).Log("err", err)
		}
		factory := di.NewFactory(func(name string) (di.Pair, error) {
			var (
				ok   bool
				conf Configuration
			)
			if conf, ok = confs[name]; !ok {
				if name != "default" {
					return di.Pair{}, fmt.Errorf("rq configuration %s not found", name)
				}
				conf = Configuration{RedisName: "default"}
			}
			s, err := conf.settings()
			if err != nil {
				return di.Pair{}, errors.Wrapf(err, "rq configuration %s", name)
			}
			if conf.Service == "" {
				conf.Service = p.AppName.String()
			}
			if conf.Queue == "" {
				conf.Queue = name
			}

			var driver = option.driver
			if driver == nil {
				driver = p.Driver
			}
			if driver == nil {
				driver, err = option.driverConstructor(
					DriverConstructorArgs{
						Name:      name,
						Conf:      conf,
						Logger:    p.Logger,
						AppName:   p.AppName,
						Env:       p.Env,
						Populator: p.Populator,
					},
				)
				if err != nil {
					return di.Pair{}, err
				}
			}

			queue := NewQueue(
				driver,
				conf.Service,
				conf.Queue,
				UseLogger(p.Logger),
				UsePollInterval(s.pollInterval),
				UsePopTimeout(s.popTimeout),
				UseDefaultTimeout(s.defaultTimeout),
			)
			reclaimerOpts := []func(*Reclaimer){
				ReclaimEvery(s.reclaimInterval, s.activeReclaimInterval),
				ExtendBy(s.reclaimIncrement),
				ScanWindow(s.scanWindow),
			}
			if p.Counter != nil {
				reclaimerOpts = append(reclaimerOpts, ReclaimCounter(p.Counter.With("queue", name)))
			}
			busOpts := []func(*Bus){UseReclaimer(NewReclaimer(queue, reclaimerOpts...))}
			if p.Gauge != nil {
				busOpts = append(busOpts, UseGauge(p.Gauge.With("queue", name), s.checkQueueLengthInterval))
			}
			return di.Pair{
				Closer: nil,
				Conn:   NewBus(queue, busOpts...),
			}, nil
		})

		// Buses must be created eagerly, so that the consumer goroutines can start on boot up.
		for name := range confs {
			if _, err := factory.Make(name); err != nil {
				return makerOut{}, err
			}
		}

		busFactory := BusFactory{Factory: factory}
		return makerOut{
			BusFactory: busFactory,
			BusMaker:   busFactory,
		}, nil
	}
}

// ProvideRunGroup implements container.RunProvider.
func (m makerOut) ProvideRunGroup(group *run.Group) {
	for name := range m.BusFactory.List() {
		busName := name
		ctx, cancel := context.WithCancel(context.Background())
		group.Add(func() error {
			bus, err := m.BusFactory.Make(busName)
			if err != nil {
				return err
			}
			err = bus.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}, func(err error) {
			cancel()
		})
	}
}

func newDefaultDriver(args DriverConstructorArgs) (Driver, error) {
	var maker otredis.Maker
	if args.Populator == nil {
		return nil, errors.New("the default driver requires setting the populator in DI container")
	}
	if err := args.Populator.Populate(&maker); err != nil {
		return nil, fmt.Errorf("the default driver requires an otredis.Maker in DI container: %w", err)
	}
	client, err := maker.Make(args.Conf.RedisName)
	if err != nil {
		return nil, fmt.Errorf("the default driver requires the redis client called %s: %w", args.Conf.RedisName, err)
	}
	return NewRedisDriver(client, args.Logger), nil
}

type busOut struct {
	di.Out

	Bus *Bus
}

func provideBus(maker BusMaker) (busOut, error) {
	bus, err := maker.Make("default")
	return busOut{
		Bus: bus,
	}, err
}

type configOut struct {
	di.Out

	Config []config.ExportedConfig `group:"config,flatten"`
}

func provideConfig() configOut {
	configs := []config.ExportedConfig{{
		Owner: "rq",
		Data: map[string]interface{}{
			"rq": map[string]Configuration{
				"default": {
					RedisName:                "default",
					PollInterval:             DefaultPollInterval.String(),
					DefaultTimeout:           DefaultTimeout.String(),
					ReclaimInterval:          DefaultReclaimInterval.String(),
					ActiveReclaimInterval:    DefaultActiveReclaimInterval.String(),
					ReclaimIncrement:         DefaultReclaimIncrement.String(),
					ScanWindow:               DefaultScanWindow,
					CheckQueueLengthInterval: "15s",
				},
			},
		},
	}}
	return configOut{Config: configs}
}
