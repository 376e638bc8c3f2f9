package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSession_ThreadIDLifecycle(t *testing.T) {
	sess := NewSession("abc", "web")
	assert.Equal(t, "abc", sess.ID)
	assert.Equal(t, "web", sess.Frontend)
	assert.Empty(t, sess.ThreadID())

	sess.setThreadID("thread_9")
	assert.Equal(t, "thread_9", sess.ThreadID())
}

func TestSession_ConcurrentReads(t *testing.T) {
	sess := NewSession("abc", "web")
	sess.setThreadID("thread_1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "thread_1", sess.ThreadID())
		}()
	}
	wg.Wait()
}
