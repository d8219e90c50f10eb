package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("HARAMBEE_TEST_MODE", "1")
		if os.Getenv("SIGNING_KEYS") == "" {
			_ = os.Setenv("SIGNING_KEYS", "test-signing-key")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
