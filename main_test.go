package rq

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	var server *miniredis.Miniredis
	if _, ok := getDefaultRedisAddrs(); !ok {
		var err error
		server, err = miniredis.Run()
		if err != nil {
			fmt.Println("unable to start an in-memory redis server:", err)
			os.Exit(1)
		}
		os.Setenv("REDIS_ADDR", server.Addr())
	}
	code := m.Run()
	if server != nil {
		server.Close()
	}
	os.Exit(code)
}

func getDefaultRedisAddrs() ([]string, bool) {
	addrs := os.Getenv("REDIS_ADDR")
	if addrs == "" {
		return nil, false
	}
	return strings.Split(addrs, ","), true
}

type driverFactory struct {
	name string
	new  func(t *testing.T) Driver
}

func driverFactories() []driverFactory {
	return []driverFactory{
		{
			name: "inprocess",
			new: func(t *testing.T) Driver {
				return NewInProcessDriver()
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) Driver {
				addrs, _ := getDefaultRedisAddrs()
				client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: addrs})
				t.Cleanup(func() { _ = client.Close() })
				return NewRedisDriver(client, nil)
			},
		},
	}
}

// newTestQueue returns a queue with a unique service name so tests sharing a redis server don't collide.
func newTestQueue(t *testing.T, driver Driver, opts ...func(*Queue)) *Queue {
	service := "test-" + uuid.New().String()
	q := NewQueue(driver, service, "jobs", append([]func(*Queue){UsePollInterval(5 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() { _ = q.Flush(context.Background()) })
	return q
}
