package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// fakeClient is an in-memory RedisClient. Expirations are recorded, not enforced.
type fakeClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.err }

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	f.ttls[key] = expiration
	return nil
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return false, f.err
	}
	_, exists := f.data[key]
	f.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, f.Set(ctx, key, value, expiration)
}

func (f *fakeClient) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}

func (f *fakeClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	if n == 1 {
		f.ttls[key] = window
	}
	return n, nil
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != value {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *fakeClient) SetVersioned(ctx context.Context, key, version, payload string, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if cur, ok := f.data[key]; ok && len(cur) >= len(version) && cur[:len(version)] > version {
		return false, nil
	}
	f.data[key] = version + ":" + payload
	f.ttls[key] = expiration
	return true, nil
}

func (f *fakeClient) Close() error { return nil }
