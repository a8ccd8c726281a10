package translate

import "fmt"

var errEmptyResponse = fmt.Errorf("translate: empty candidate response")

func errStatus(code int) error {
	return fmt.Errorf("translate: unexpected status %d", code)
}
