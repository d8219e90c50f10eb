package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("HARAMBEE_TEST_MODE") == "" {
			_ = os.Setenv("HARAMBEE_TEST_MODE", "1")
		}
	})
}
