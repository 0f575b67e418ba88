// Package parallel contains the bounded ForEach used to spread per-sample
// tensor work over CPU cores.
package parallel

import "sync"

// ForEach executes body(i) for every i in [0, length) with at most limit
// goroutines in flight. With limit <= 1 it runs inline on the caller's goroutine.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}
