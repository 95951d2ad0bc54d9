// Package devices tracks push-capable devices so the backend can route call
// invites. The daemon registers its own device token at startup and keeps
// the record fresh across token rotations.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a device id has no registration.
var ErrNotFound = errors.New("device not registered")

// Device is one push registration.
type Device struct {
	DeviceID  string    `json:"device_id"`
	PushToken string    `json:"push_token"`
	Region    string    `json:"region"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry stores device registrations.
type Registry interface {
	Save(ctx context.Context, d Device) error
	Load(ctx context.Context, deviceID string) (Device, error)
	Delete(ctx context.Context, deviceID string) error
}

// MemoryRegistry is the in-process implementation used in tests and in
// single-node deployments without Redis.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{devices: make(map[string]Device)}
}

func (r *MemoryRegistry) Save(ctx context.Context, d Device) error {
	if d.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	r.mu.Lock()
	r.devices[d.DeviceID] = d
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Load(ctx context.Context, deviceID string) (Device, error) {
	r.mu.RLock()
	d, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return Device{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	delete(r.devices, deviceID)
	r.mu.Unlock()
	return nil
}

// RedisConfig controls the Redis connection for the registry.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration

	// TTL bounds how long a registration lives without a refresh. Zero
	// means no expiry.
	TTL time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// RedisRegistry persists registrations in Redis so every node sees them.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedisRegistry connects to Redis and validates connectivity via PING.
func OpenRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisRegistry{rdb: rdb, ttl: cfg.TTL}, nil
}

func deviceKey(deviceID string) string {
	return "callbridge:device:" + deviceID
}

func (r *RedisRegistry) Save(ctx context.Context, d Device) error {
	if d.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	if err := r.rdb.Set(ctx, deviceKey(d.DeviceID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save device %s: %w", d.DeviceID, err)
	}
	return nil
}

func (r *RedisRegistry) Load(ctx context.Context, deviceID string) (Device, error) {
	raw, err := r.rdb.Get(ctx, deviceKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("load device %s: %w", deviceID, err)
	}

	var d Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return Device{}, fmt.Errorf("decode device %s: %w", deviceID, err)
	}
	return d, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, deviceID string) error {
	if err := r.rdb.Del(ctx, deviceKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete device %s: %w", deviceID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}
