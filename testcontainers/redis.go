package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisImage       = "redis:7-alpine"
	defaultRedisPort = nat.Port("6379/tcp")
)

// RedisContainer is a disposable Redis server without authentication.
//
// Example:
//
//	container, err := NewRedisContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer container.Terminate(ctx)
//
//	address := container.Address()
type RedisContainer struct {
	testcontainers.Container
	Host string
	Port int
}

// NewRedisContainer starts a Redis container and waits until it accepts connections.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{string(defaultRedisPort)},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, port, err := endpoint(ctx, container, defaultRedisPort)
	if err != nil {
		return nil, err
	}

	return &RedisContainer{
		Container: container,
		Host:      host,
		Port:      port,
	}, nil
}

// Address returns host:port for go-redis and asynq clients.
func (c *RedisContainer) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
