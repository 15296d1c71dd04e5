package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/cloud/memory"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

func TestPool_PopulateTwoRegions(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1", "us-west-2"}, 2)

	require.NoError(t, pool.Populate(context.Background()))

	eps := pool.Endpoints()
	require.Len(t, eps, 4)
	assert.Len(t, pool.RegionEndpoints("us-east-1"), 2)
	assert.Len(t, pool.RegionEndpoints("us-west-2"), 2)
	for _, e := range eps {
		assert.Equal(t, gateway.StatusActive, e.Status())
	}

	// Region order first.
	assert.Equal(t, gateway.Region("us-east-1"), eps[0].Region)
	assert.Equal(t, gateway.Region("us-east-1"), eps[1].Region)
	assert.Equal(t, gateway.Region("us-west-2"), eps[2].Region)
	assert.Equal(t, gateway.Region("us-west-2"), eps[3].Region)

	router := gateway.NewRouter()
	seen := make(map[string]bool)
	var first *gateway.Endpoint
	for i := 0; i < 4; i++ {
		e, err := router.Select(pool)
		require.NoError(t, err)
		if i == 0 {
			first = e
		}
		seen[e.ID] = true
	}
	assert.Len(t, seen, 4, "four selections hit four distinct endpoints")

	fifth, err := router.Select(pool)
	require.NoError(t, err)
	assert.Same(t, first, fifth)
}

func TestPool_PopulateThenTeardown(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1", "eu-west-1"}, 3)
	ctx := context.Background()

	require.NoError(t, pool.Populate(ctx))
	created := pool.Endpoints()
	require.Len(t, created, 6)

	require.NoError(t, pool.Teardown(ctx))
	assert.Empty(t, pool.Endpoints())
	assert.Equal(t, 6, cloud.DeleteCalls(), "exactly one delete per endpoint")
	assert.Empty(t, cloud.Endpoints())
	for _, e := range created {
		assert.Equal(t, gateway.StatusDeleted, e.Status())
	}

	require.NoError(t, pool.Teardown(ctx))
	assert.Equal(t, 6, cloud.DeleteCalls(), "second teardown is a no-op")
}

func TestPool_TeardownEmpty(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1"}, 1)

	assert.NoError(t, pool.Teardown(context.Background()))
	assert.Zero(t, cloud.DeleteCalls())
}

func TestPool_SingleFailingRegion(t *testing.T) {
	t.Parallel()

	quota := errors.New("LimitExceededException")
	cloud := memory.New()
	cloud.FailCreate(memory.FailRegion("ap-south-1", quota))
	pool := newPool(cloud, []gateway.Region{"ap-south-1"}, 2)

	err := pool.Populate(context.Background())

	var exhausted *gateway.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Requested)
	assert.Len(t, exhausted.Errs, 2)
	assert.ErrorIs(t, err, gateway.ErrPoolExhausted)
	assert.ErrorIs(t, err, gateway.ErrProvision)
	assert.ErrorIs(t, err, quota)
	assert.Empty(t, pool.Endpoints())
	assert.Empty(t, cloud.Endpoints(), "nothing was created anywhere")
}

func TestPool_PartialFailureKeepsSurvivors(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	cloud.FailCreate(memory.FailRegion("eu-west-1", errors.New("denied")))
	pool := newPool(cloud, []gateway.Region{"us-east-1", "eu-west-1"}, 2)

	require.NoError(t, pool.Populate(context.Background()))
	assert.Len(t, pool.Endpoints(), 2)
	assert.Len(t, pool.RegionEndpoints("us-east-1"), 2)
	assert.Empty(t, pool.RegionEndpoints("eu-west-1"))
}

func TestPool_PopulateIsBoundedPerRegion(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	cloud.FailCreate(memory.FailFirst(1, errors.New("transient")))
	pool := newPool(cloud, []gateway.Region{"us-east-1"}, 2)
	ctx := context.Background()

	require.NoError(t, pool.Populate(ctx))
	assert.Len(t, pool.Endpoints(), 1)

	// A second populate tops the region up without exceeding the count.
	require.NoError(t, pool.Populate(ctx))
	assert.Len(t, pool.Endpoints(), 2)
	assert.Equal(t, 3, cloud.CreateCalls())

	require.NoError(t, pool.Populate(ctx))
	assert.Len(t, pool.Endpoints(), 2)
	assert.Equal(t, 3, cloud.CreateCalls(), "full pool makes no provider calls")
}

func TestPool_PopulateRunsConcurrently(t *testing.T) {
	t.Parallel()

	cloud := memory.New(memory.WithLatency(100 * time.Millisecond))
	prov := newProvisioner(cloud)
	pool := gateway.NewPool(prov, gateway.PoolConfig{
		Regions:        []gateway.Region{"us-east-1", "us-east-2", "us-west-1", "us-west-2"},
		PerRegion:      2,
		MaxConcurrency: 8,
	})

	start := time.Now()
	require.NoError(t, pool.Populate(context.Background()))
	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Len(t, pool.Endpoints(), 8)
}

func TestPool_ReuseAdoptsExistingEndpoints(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	ctx := context.Background()

	first := newPool(cloud, []gateway.Region{"us-east-1", "us-west-2"}, 2)
	require.NoError(t, first.Populate(ctx))
	existing := ids(first.Endpoints())
	require.Equal(t, 4, cloud.CreateCalls())

	second := gateway.NewPool(newProvisioner(cloud), gateway.PoolConfig{
		Regions:   []gateway.Region{"us-east-1", "us-west-2"},
		PerRegion: 2,
		Reuse:     true,
	})
	require.NoError(t, second.Populate(ctx))

	assert.ElementsMatch(t, existing, ids(second.Endpoints()))
	assert.Equal(t, 4, cloud.CreateCalls(), "adoption makes no create calls")
	assert.Equal(t, 2, cloud.ListCalls())
}

func TestPool_ReuseTopsUpShortRegions(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	prov := newProvisioner(cloud)
	cloud.Seed(gateway.EndpointHandle{ID: "old", Name: prov.NamePrefix(), Region: "us-east-1", BaseURL: "https://old"})

	pool := gateway.NewPool(prov, gateway.PoolConfig{
		Regions:   []gateway.Region{"us-east-1"},
		PerRegion: 3,
		Reuse:     true,
	})
	require.NoError(t, pool.Populate(context.Background()))

	eps := pool.Endpoints()
	require.Len(t, eps, 3)
	assert.Equal(t, "old", eps[0].ID)
	assert.Equal(t, 2, cloud.CreateCalls())
}

func TestPool_AcquireFailsWhileDraining(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1"}, 2)
	ctx := context.Background()
	require.NoError(t, pool.Populate(ctx))

	release, err := pool.Acquire()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- pool.Teardown(ctx) }()

	require.Eventually(t, func() bool {
		r, err := pool.Acquire()
		if err == nil {
			r()
			return false
		}
		return errors.Is(err, gateway.ErrNoEndpointsAvailable)
	}, time.Second, time.Millisecond)

	// In-flight request still holds its lease, so nothing is deleted yet.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, cloud.DeleteCalls())

	release()
	release() // idempotent

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not finish after release")
	}
	assert.Equal(t, 2, cloud.DeleteCalls())

	// The pool can be used again after teardown.
	r, err := pool.Acquire()
	require.NoError(t, err)
	r()
}

func TestPool_DrainTimeout(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := gateway.NewPool(newProvisioner(cloud), gateway.PoolConfig{
		Regions:      []gateway.Region{"us-east-1"},
		PerRegion:    1,
		DrainTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()
	require.NoError(t, pool.Populate(ctx))

	release, err := pool.Acquire()
	require.NoError(t, err)
	defer release()

	require.NoError(t, pool.Teardown(ctx))
	assert.Equal(t, 1, cloud.DeleteCalls())
	assert.Empty(t, pool.Endpoints())
}

func TestPool_TeardownIsBestEffort(t *testing.T) {
	t.Parallel()

	denied := errors.New("access denied")
	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1", "us-west-2"}, 2)
	ctx := context.Background()
	require.NoError(t, pool.Populate(ctx))

	cloud.FailDelete(memory.FailRegion("us-west-2", denied))
	err := pool.Teardown(ctx)

	assert.ErrorIs(t, err, gateway.ErrTeardown)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 4, cloud.DeleteCalls(), "every endpoint is attempted")
	assert.Empty(t, pool.Endpoints(), "pool clears even when deletes fail")
	assert.Len(t, cloud.Endpoints(), 2, "failed endpoints are abandoned remotely")
}

func TestPool_TeardownSurvivesCancelledContext(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	pool := newPool(cloud, []gateway.Region{"us-east-1"}, 2)
	require.NoError(t, pool.Populate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, pool.Teardown(ctx))
	assert.Empty(t, cloud.Endpoints())
}

func TestPool_Metrics(t *testing.T) {
	t.Parallel()

	cloud := memory.New()
	metrics := observability.NewMetrics("pooltest")
	pool := gateway.NewPool(
		newProvisioner(cloud, gateway.WithProvisionerMetrics(metrics)),
		gateway.PoolConfig{Regions: []gateway.Region{"us-east-1"}, PerRegion: 2},
		gateway.WithPoolMetrics(metrics),
		gateway.WithPoolLogger(observability.NopLogger()),
	)
	ctx := context.Background()

	require.NoError(t, pool.Populate(ctx))
	reg := metrics.Registry()
	assert.Equal(t, 2.0, metricValue(t, reg, "pooltest_endpoints_active", map[string]string{"region": "us-east-1"}))
	assert.Equal(t, 2.0, metricValue(t, reg, "pooltest_provision_total",
		map[string]string{"region": "us-east-1", "result": "success"}))

	require.NoError(t, pool.Teardown(ctx))
	assert.Equal(t, 0.0, metricValue(t, reg, "pooltest_endpoints_active", map[string]string{"region": "us-east-1"}))
	assert.Equal(t, 2.0, metricValue(t, reg, "pooltest_teardown_total",
		map[string]string{"region": "us-east-1", "result": "success"}))
}

func TestPool_Accessors(t *testing.T) {
	t.Parallel()

	pool := newPool(memory.New(), []gateway.Region{"eu-west-1", "eu-central-1"}, 0)
	assert.Equal(t, []gateway.Region{"eu-west-1", "eu-central-1"}, pool.Regions())
	assert.Equal(t, 1, pool.PerRegion())
	assert.Zero(t, pool.Len())
}
