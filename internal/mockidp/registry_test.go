package mockidp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

// registries returns every Registry implementation under test
func registries(t *testing.T) map[string]Registry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, client := newTestRedis(t)

	return map[string]Registry{
		"memory": NewMemoryRegistry(ctx),
		"redis":  NewRedisRegistry(client),
	}
}

func testAuthorization() *Authorization {
	now := time.Now().Truncate(time.Second)
	return &Authorization{
		DeviceCode: "device-code-1",
		UserCode:   "BCDF-GHJK",
		ClientID:   "devicecis",
		Scope:      "openid profile",
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestRegistrySaveAndGet(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			auth := testAuthorization()

			if err := reg.Save(ctx, auth); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := reg.Get(ctx, auth.DeviceCode)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if diff := cmp.Diff(auth, got); diff != "" {
				t.Errorf("Get() mismatch (-want +got):\n%s", diff)
			}

			// lookup by user code ignores case and separators
			got, err = reg.GetByUserCode(ctx, "bcdfghjk")
			if err != nil {
				t.Fatalf("GetByUserCode() error = %v", err)
			}
			if got == nil || got.DeviceCode != auth.DeviceCode {
				t.Errorf("GetByUserCode() = %+v, want device code %q", got, auth.DeviceCode)
			}

			missing, err := reg.Get(ctx, "unknown")
			if err != nil || missing != nil {
				t.Errorf("Get(unknown) = %+v, %v; want nil, nil", missing, err)
			}
			missing, err = reg.GetByUserCode(ctx, "ZZZZ-ZZZZ")
			if err != nil || missing != nil {
				t.Errorf("GetByUserCode(unknown) = %+v, %v; want nil, nil", missing, err)
			}
		})
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			auth := testAuthorization()
			if err := reg.Save(ctx, auth); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			auth.Status = StatusApproved
			got, _ := reg.Get(ctx, auth.DeviceCode)
			got.Status = StatusDenied

			again, _ := reg.Get(ctx, auth.DeviceCode)
			if again.Status != StatusPending {
				t.Errorf("stored status = %q, want %q", again.Status, StatusPending)
			}
		})
	}
}

func TestRegistryTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		to     Status
		code   string
		want   bool
		status Status
	}{
		{
			name:   "pending to approved",
			from:   StatusPending,
			to:     StatusApproved,
			code:   "device-code-1",
			want:   true,
			status: StatusApproved,
		},
		{
			name:   "wrong from status",
			from:   StatusApproved,
			to:     StatusDenied,
			code:   "device-code-1",
			want:   false,
			status: StatusPending,
		},
		{
			name:   "unknown code",
			from:   StatusPending,
			to:     StatusApproved,
			code:   "unknown",
			want:   false,
			status: StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for name, reg := range registries(t) {
				t.Run(name, func(t *testing.T) {
					ctx := context.Background()
					auth := testAuthorization()
					if err := reg.Save(ctx, auth); err != nil {
						t.Fatalf("Save() error = %v", err)
					}

					got, err := reg.Transition(ctx, tt.code, tt.from, tt.to)
					if err != nil {
						t.Fatalf("Transition() error = %v", err)
					}
					if got != tt.want {
						t.Errorf("Transition() = %v, want %v", got, tt.want)
					}

					stored, _ := reg.Get(ctx, auth.DeviceCode)
					if stored.Status != tt.status {
						t.Errorf("status = %q, want %q", stored.Status, tt.status)
					}
				})
			}
		})
	}
}

func TestRegistryRecordPoll(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := time.Unix(1700000000, 0)
			second := first.Add(3 * time.Second)

			prev, err := reg.RecordPoll(ctx, "device-code-1", first)
			if err != nil {
				t.Fatalf("RecordPoll() error = %v", err)
			}
			if !prev.IsZero() {
				t.Errorf("first RecordPoll() = %v, want zero time", prev)
			}

			prev, err = reg.RecordPoll(ctx, "device-code-1", second)
			if err != nil {
				t.Fatalf("RecordPoll() error = %v", err)
			}
			if !prev.Equal(first) {
				t.Errorf("second RecordPoll() = %v, want %v", prev, first)
			}
		})
	}
}

func TestRegistryDelete(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			auth := testAuthorization()
			if err := reg.Save(ctx, auth); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if _, err := reg.RecordPoll(ctx, auth.DeviceCode, time.Now()); err != nil {
				t.Fatalf("RecordPoll() error = %v", err)
			}

			if err := reg.Delete(ctx, auth.DeviceCode); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			// unknown codes are ignored
			if err := reg.Delete(ctx, auth.DeviceCode); err != nil {
				t.Fatalf("second Delete() error = %v", err)
			}

			if got, _ := reg.Get(ctx, auth.DeviceCode); got != nil {
				t.Errorf("Get() after Delete = %+v, want nil", got)
			}
			if got, _ := reg.GetByUserCode(ctx, auth.UserCode); got != nil {
				t.Errorf("GetByUserCode() after Delete = %+v, want nil", got)
			}
			prev, _ := reg.RecordPoll(ctx, auth.DeviceCode, time.Now())
			if !prev.IsZero() {
				t.Errorf("poll history survived Delete: %v", prev)
			}
		})
	}
}

func TestRedisRegistryRetention(t *testing.T) {
	mr, client := newTestRedis(t)
	reg := NewRedisRegistry(client)
	ctx := context.Background()

	auth := testAuthorization()
	auth.ExpiresAt = time.Now().Add(time.Minute)
	if err := reg.Save(ctx, auth); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// still answerable after expiry so a late poll sees expired_token
	mr.FastForward(2 * time.Minute)
	if got, _ := reg.Get(ctx, auth.DeviceCode); got == nil {
		t.Fatal("authorization dropped before retention elapsed")
	}

	if _, err := reg.Transition(ctx, auth.DeviceCode, StatusPending, StatusApproved); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	mr.FastForward(Retention)
	if got, _ := reg.Get(ctx, auth.DeviceCode); got != nil {
		t.Errorf("authorization kept past retention: %+v", got)
	}
}

func TestRedisRegistryTTLFollowsServerClock(t *testing.T) {
	mr, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	// issued under a clock far behind the wall clock
	auth := testAuthorization()
	auth.CreatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	auth.ExpiresAt = auth.CreatedAt.Add(10 * time.Minute)
	if err := reg.Save(context.Background(), auth); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got, want := mr.TTL(devicePrefix+auth.DeviceCode), 10*time.Minute+Retention; got != want {
		t.Errorf("TTL = %v, want %v", got, want)
	}
}

func TestRedisRegistryRejectsExpired(t *testing.T) {
	_, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	auth := testAuthorization()
	auth.ExpiresAt = auth.CreatedAt.Add(-2 * Retention)
	if err := reg.Save(context.Background(), auth); err == nil {
		t.Error("Save() succeeded for an authorization past retention")
	}
}

func TestRedisRegistryHealth(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	reg := NewRedisRegistry(client)

	if err := reg.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	mr.Close()
	if err := reg.CheckHealth(context.Background()); err == nil {
		t.Error("CheckHealth() succeeded with redis down")
	}
}
