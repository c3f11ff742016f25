package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrEmptyFilter      = errors.New("empty filter")
)

// finalError marks a task failure that must not be retried by the queue.
type finalError struct {
	err error
}

func (e *finalError) Error() string { return e.err.Error() }
func (e *finalError) Unwrap() error { return e.err }

func final(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err: err}
}

type DBTask struct {
	Exec func(*sqlx.DB) (interface{}, error)
	Resp chan DBResult
}

type DBResult struct {
	Data interface{}
	Err  error
}

// DBQueue funnels every database call through one worker goroutine.
type DBQueue struct {
	tasks      chan DBTask
	done       chan struct{}
	closeOnce  sync.Once
	db         *sqlx.DB
	maxRetry   int
	retryDelay time.Duration
	testMode   bool
}

func NewDBQueue(db *sqlx.DB) *DBQueue {
	q := &DBQueue{
		tasks:      make(chan DBTask, 100),
		done:       make(chan struct{}),
		db:         db,
		maxRetry:   3,
		retryDelay: 100 * time.Millisecond,
	}
	go q.worker()
	return q
}

func NewDBQueueForTest(db *sqlx.DB) *DBQueue {
	q := &DBQueue{
		tasks:      make(chan DBTask, 100),
		done:       make(chan struct{}),
		db:         db,
		maxRetry:   3,
		retryDelay: 1 * time.Millisecond,
		testMode:   true,
	}
	go q.worker()
	return q
}

// Execute runs task on the worker and waits for its result. Failures that
// survive all retries are reported as ErrStoreUnavailable; "not found" and
// version conflicts are returned as is.
func (q *DBQueue) Execute(ctx context.Context, task func(*sqlx.DB) (interface{}, error)) (interface{}, error) {
	resp := make(chan DBResult, 1)

	select {
	case <-q.done:
		return nil, fmt.Errorf("%w: queue closed", ErrStoreUnavailable)
	default:
	}

	select {
	case q.tasks <- DBTask{Exec: task, Resp: resp}:
	case <-q.done:
		return nil, fmt.Errorf("%w: queue closed", ErrStoreUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-resp:
		return result.Data, result.Err
	case <-q.done:
		return nil, fmt.Errorf("%w: queue closed", ErrStoreUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *DBQueue) worker() {
	for {
		select {
		case task := <-q.tasks:
			task.Resp <- q.executeWithRetry(task)
		case <-q.done:
			return
		}
	}
}

func (q *DBQueue) executeWithRetry(task DBTask) DBResult {
	var lastErr error
	for attempt := 0; attempt < q.maxRetry; attempt++ {
		data, err := task.Exec(q.db)
		if err == nil {
			return DBResult{Data: data}
		}
		if isFinal(err) {
			return DBResult{Err: normalize(err)}
		}
		lastErr = err
		if attempt < q.maxRetry-1 {
			if q.testMode {
				time.Sleep(q.retryDelay)
			} else {
				time.Sleep(time.Duration(attempt+1) * q.retryDelay)
			}
		}
	}
	return DBResult{Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)}
}

func isFinal(err error) bool {
	var fe *finalError
	return errors.As(err, &fe) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func normalize(err error) error {
	var fe *finalError
	if errors.As(err, &fe) {
		err = fe.err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *DBQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

func (q *DBQueue) DB() *sqlx.DB {
	return q.db
}

// Ping reports whether the database answers through the queue.
func (q *DBQueue) Ping(ctx context.Context) error {
	_, err := q.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		return nil, db.PingContext(ctx)
	})
	return err
}
