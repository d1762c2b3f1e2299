package registry

import (
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func TestDestroyRefusesLiveDependents(t *testing.T) {
	reg := New(testLogger(), false)

	var destroyed []string
	record := func(name string) Destructor {
		return func() {
			destroyed = append(destroyed, name)
		}
	}

	device, err := reg.Register(KindDevice, "device", record("device"))
	require.NoError(t, err)

	buffer, err := reg.Register(KindBuffer, "staging", record("staging"), device)
	require.NoError(t, err)

	err = reg.Destroy(device)
	require.ErrorIs(t, err, DependencyStillAliveError)
	require.Empty(t, destroyed)
	require.True(t, reg.Live(device))

	require.NoError(t, reg.Destroy(buffer))
	require.NoError(t, reg.Destroy(device))
	require.Equal(t, []string{"staging", "device"}, destroyed)
	require.Equal(t, 0, reg.LiveCount())
}

func TestDestroyCascadeReverseTopologicalOrder(t *testing.T) {
	reg := New(testLogger(), false)

	var destroyed []string
	record := func(name string) Destructor {
		return func() {
			destroyed = append(destroyed, name)
		}
	}

	device, err := reg.Register(KindDevice, "device", record("device"))
	require.NoError(t, err)
	memory, err := reg.Register(KindMemory, "memory", record("memory"), device)
	require.NoError(t, err)
	buffer, err := reg.Register(KindBuffer, "vertex", record("vertex"), device, memory)
	require.NoError(t, err)

	err = reg.DestroyCascade(device)
	require.NoError(t, err)

	require.Equal(t, []string{"vertex", "memory", "device"}, destroyed)
	require.False(t, reg.Live(device))
	require.False(t, reg.Live(memory))
	require.False(t, reg.Live(buffer))
}

func TestDoubleDestroyFailsWithoutSecondNativeCall(t *testing.T) {
	reg := New(testLogger(), false)

	callCount := 0
	fence, err := reg.Register(KindFence, "frame 0", func() {
		callCount++
	})
	require.NoError(t, err)

	require.NoError(t, reg.Destroy(fence))
	err = reg.Destroy(fence)
	require.ErrorIs(t, err, AlreadyDestroyedError)
	require.Equal(t, 1, callCount)
}

func TestRegisterRejectsUnknownDependency(t *testing.T) {
	reg := New(testLogger(), false)

	_, err := reg.Register(KindBuffer, "orphan", nil, ID(42))
	require.ErrorIs(t, err, UnknownHandleError)
	require.Equal(t, 0, reg.LiveCount())
}

func TestRegisterRejectsDestroyedDependency(t *testing.T) {
	reg := New(testLogger(), false)

	device, err := reg.Register(KindDevice, "device", nil)
	require.NoError(t, err)
	require.NoError(t, reg.Destroy(device))

	_, err = reg.Register(KindBuffer, "late", nil, device)
	require.ErrorIs(t, err, AlreadyDestroyedError)
}

func TestDestroyAllTearsDownFullLiveSet(t *testing.T) {
	reg := New(testLogger(), true)

	var destroyed []string
	record := func(name string) Destructor {
		return func() {
			destroyed = append(destroyed, name)
		}
	}

	instance, err := reg.Register(KindInstance, "instance", record("instance"))
	require.NoError(t, err)
	device, err := reg.Register(KindDevice, "device", record("device"), instance)
	require.NoError(t, err)
	pool, err := reg.Register(KindCommandPool, "graphics pool", record("pool"), device)
	require.NoError(t, err)
	_, err = reg.Register(KindSemaphore, "acquire", record("semaphore"), device)
	require.NoError(t, err)

	require.True(t, reg.Live(pool))
	require.NoError(t, reg.DestroyAll())

	require.Equal(t, []string{"semaphore", "pool", "device", "instance"}, destroyed)
	require.Equal(t, 0, reg.LiveCount())

	// The table is empty now- a second shutdown is a no-op.
	require.NoError(t, reg.DestroyAll())
}

func TestDependentsAreReportedInCreationOrder(t *testing.T) {
	reg := New(testLogger(), false)

	device, err := reg.Register(KindDevice, "device", nil)
	require.NoError(t, err)
	memory, err := reg.Register(KindMemory, "memory", nil, device)
	require.NoError(t, err)
	buffer, err := reg.Register(KindBuffer, "vertex", nil, device)
	require.NoError(t, err)

	require.Equal(t, []ID{memory, buffer}, reg.Dependents(device))

	require.NoError(t, reg.Destroy(buffer))
	require.Equal(t, []ID{memory}, reg.Dependents(device))
}

func TestAddDependencyOrdersTeardownAcrossLateEdges(t *testing.T) {
	reg := New(testLogger(), false)

	var destroyed []string
	record := func(name string) Destructor {
		return func() {
			destroyed = append(destroyed, name)
		}
	}

	device, err := reg.Register(KindDevice, "device", record("device"))
	require.NoError(t, err)
	// The buffer is created before the memory that later backs it.
	buffer, err := reg.Register(KindBuffer, "vertex", record("vertex"), device)
	require.NoError(t, err)
	memory, err := reg.Register(KindMemory, "memory", record("memory"), device)
	require.NoError(t, err)

	require.NoError(t, reg.AddDependency(buffer, memory))

	// The memory now outranks its numerically-later dependent.
	err = reg.Destroy(memory)
	require.ErrorIs(t, err, DependencyStillAliveError)

	require.NoError(t, reg.DestroyAll())
	require.Equal(t, []string{"vertex", "memory", "device"}, destroyed)
}

func TestAddDependencyRejectsDeadHandles(t *testing.T) {
	reg := New(testLogger(), false)

	device, err := reg.Register(KindDevice, "device", nil)
	require.NoError(t, err)
	buffer, err := reg.Register(KindBuffer, "staging", nil, device)
	require.NoError(t, err)

	err = reg.AddDependency(buffer, ID(99))
	require.ErrorIs(t, err, UnknownHandleError)

	require.NoError(t, reg.Destroy(buffer))
	err = reg.AddDependency(buffer, device)
	require.ErrorIs(t, err, AlreadyDestroyedError)
}

func TestCascadeOnDestroyedHandleFails(t *testing.T) {
	reg := New(testLogger(), false)

	fence, err := reg.Register(KindFence, "fence", nil)
	require.NoError(t, err)
	require.NoError(t, reg.DestroyCascade(fence))

	err = reg.DestroyCascade(fence)
	require.True(t, errors.Is(err, AlreadyDestroyedError))
}

func TestBuildStatsStringListsLiveHandles(t *testing.T) {
	reg := New(testLogger(), false)

	device, err := reg.Register(KindDevice, "device", nil)
	require.NoError(t, err)
	_, err = reg.Register(KindBuffer, "staging", nil, device)
	require.NoError(t, err)

	stats := reg.BuildStatsString(true)
	require.Contains(t, stats, `"Live":2`)
	require.Contains(t, stats, `"Device":1`)
	require.Contains(t, stats, `"Buffer":1`)
	require.Contains(t, stats, `"Name":"staging"`)
}

func TestThreadSafeRegistryServesConcurrentReaders(t *testing.T) {
	reg := New(testLogger(), true)

	instance, err := reg.Register(KindInstance, "instance", func() {})
	require.NoError(t, err)

	ids := make([]ID, 0, 16)
	for i := 0; i < 16; i++ {
		id, err := reg.Register(KindBuffer, "buffer", func() {}, instance)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	const workers = 4
	results := make([][]ID, workers)
	counts := make([]int, workers)

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		worker := worker
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				if reg.Live(id) {
					counts[worker]++
				}
			}
			results[worker] = reg.Dependents(instance)
			_ = reg.BuildStatsString(false)
		}()
	}
	wg.Wait()

	for worker := 0; worker < workers; worker++ {
		require.Equal(t, len(ids), counts[worker])
		require.Equal(t, ids, results[worker])
	}
	require.Equal(t, 17, reg.LiveCount())

	require.NoError(t, reg.DestroyAll())
	require.Equal(t, 0, reg.LiveCount())
}
