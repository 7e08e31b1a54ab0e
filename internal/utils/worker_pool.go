package utils

import (
	"fmt"
	"runtime/debug"
	"sync"
)

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// PanicError is reported in place of a result when a worker panics. Stack is
// the goroutine trace captured at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.Value)
}

// RunInPool drains queue with at most maxWorkers goroutines and closes
// completed once every item has been reported. The queue should be filled and
// closed before calling so the worker count can be sized to the backlog.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(min(len(queue), maxWorkers), 1)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := safeCall(worker, next)
					if err != nil {
						completed <- CompletedTask[Out]{Result: res, Error: err}
					} else {
						completed <- CompletedTask[Out]{Result: res, Error: nil}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

func safeCall[In any, Out any](worker func(In) (Out, error), in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return worker(in)
}
