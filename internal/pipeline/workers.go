package pipeline

import "sync"

// forEach runs fn(i) for i in [0, count) over a pool of at most workers
// goroutines and waits for all of them. fn must only write to its own
// index's slot in any shared slice.
func forEach(workers, count int, fn func(i int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > count {
		workers = count
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
