package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClockAdvances(t *testing.T) {
	clock := NewStepClock()

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
}

func TestStepClockReset(t *testing.T) {
	clock := NewStepClock()
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClockConcurrent(t *testing.T) {
	clock := NewStepClock()
	var wg sync.WaitGroup
	seen := make(chan time.Time, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, 100, "every call must observe a distinct instant")
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("pack")
	assert.Equal(t, "pack-0001", ids.Generate())
	assert.Equal(t, "pack-0002", ids.Generate())

	assert.Equal(t, "evt-0001", NewSequentialIDs("").Generate())
}

func TestFixturesAreUsable(t *testing.T) {
	dir := WriteApp(t, nil)
	assert.DirExists(t, dir)
	assert.FileExists(t, WriteManifest(t, nil))

	kp := Keypair(t)
	assert.NotEmpty(t, kp.PublicKey)
	assert.NotEmpty(t, kp.SecretKey)
}
