package db

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("bad REDIS_URL: %v", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func redisTestPrefix() string {
	return "sharebin-test-" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
}

func TestRedisStore(t *testing.T) {
	client := redisTestClient(t)
	runStoreContract(t, func(t *testing.T, ids IDSource, clock *fakeClock) entryStore {
		s := NewRedisStore(NewRedisWithClient(client, 2*time.Second, redisTestPrefix()), ids, clock.Now)
		t.Cleanup(func() {
			iter := client.Scan(context.Background(), 0, s.key("*"), 100).Iterator()
			for iter.Next(context.Background()) {
				client.Del(context.Background(), iter.Val())
			}
		})
		return s
	})
}

func TestRedisRateLimit(t *testing.T) {
	client := redisTestClient(t)
	r := NewRedisWithClient(client, 2*time.Second, redisTestPrefix())
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, err := r.RateLimit(ctx, "client", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("call %d: count = %d", i, n)
		}
	}
	n, err := r.RateLimit(ctx, "client", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n <= 3 {
		t.Errorf("count over limit = %d, want > 3", n)
	}
	client.Del(ctx, r.prefix+"rl:client")
}

func TestReplyString(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{"abc", "abc"},
		{[]byte("xyz"), "xyz"},
		{int64(42), "42"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := replyString(c.in); got != c.want {
			t.Errorf("replyString(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
