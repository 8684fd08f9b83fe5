package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"modbot/internal/eventbus"
	logx "modbot/pkg/logx"
)

// ErrDuplicateKey is returned by ScheduleAt when a timer with the same key
// already exists. Use Replace to upsert instead.
var ErrDuplicateKey = errors.New("scheduler: duplicate key")

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Europe/London"
	RetryMax       int    // max retries per recurring task (one-shots never retry)
}

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

type task struct {
	name    string
	timeout time.Duration
	retries int
	run     Job
}

// HistoryItem records one completed task execution.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

// TaskEvent is published on the event bus as task.started / task.finished /
// task.failed.
type TaskEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	queue  chan task
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Keyed one-shot timers. onceAt/onceTimeout/onceJob are the persistent
	// definitions; timers is runtime state rebuilt on Start.
	tmu         sync.Mutex
	timers      map[string]*time.Timer
	onceAt      map[string]time.Time
	onceTimeout map[string]time.Duration
	onceJob     map[string]Job
	onceVer     map[string]uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// TimerInfo describes a pending one-shot timer.
type TimerInfo struct {
	Key string
	At  time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Workers   int
	QueueLen  int
	QueueCap  int
	Schedules []ScheduleInfo
	Timers    []TimerInfo
	History   []HistoryItem
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}
