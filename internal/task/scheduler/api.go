package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "modbot/pkg/logx"
)

// ScheduleAt registers a keyed one-shot timer firing job at the given time.
// It returns ErrDuplicateKey if a timer with the same key is already pending;
// callers that want upsert semantics use Replace.
//
// The key is removed from the registry before job runs, so a job may
// reschedule itself (or any other key) from inside its own callback. A time
// in the past fires immediately.
func (s *Service) ScheduleAt(key string, at time.Time, job Job) error {
	return s.scheduleOnce(key, at, job, false)
}

// Replace registers a keyed one-shot timer, displacing any pending timer with
// the same key.
func (s *Service) Replace(key string, at time.Time, job Job) error {
	return s.scheduleOnce(key, at, job, true)
}

func (s *Service) scheduleOnce(key string, at time.Time, job Job, replace bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if _, exists := s.onceAt[key]; exists {
		if !replace {
			return ErrDuplicateKey
		}
		if t, ok := s.timers[key]; ok {
			_ = t.Stop()
			delete(s.timers, key)
		}
	}

	// Bump version so stale callbacks from a displaced timer are ignored.
	ver := s.onceVer[key] + 1
	s.onceVer[key] = ver
	s.onceAt[key] = at
	s.onceTimeout[key] = timeout
	s.onceJob[key] = job

	s.timers[key] = s.startTimerLocked(key, at, ver)
	s.log.Debug("timer scheduled", logx.String("key", key), logx.Time("at", at))
	return nil
}

// startTimerLocked arms the runtime timer for a persisted one-shot
// definition. Call with s.tmu held.
func (s *Service) startTimerLocked(key string, at time.Time, ver uint64) *time.Timer {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	return time.AfterFunc(delay, func() {
		s.tmu.Lock()
		curVer := s.onceVer[key]
		jobNow := s.onceJob[key]
		timeoutNow := s.onceTimeout[key]
		_, okAt := s.onceAt[key]
		if curVer != ver || jobNow == nil || !okAt {
			s.tmu.Unlock()
			return
		}
		// Remove the definition before running so the job can reschedule
		// under the same key.
		delete(s.timers, key)
		delete(s.onceAt, key)
		delete(s.onceTimeout, key)
		delete(s.onceJob, key)
		delete(s.onceVer, key)
		s.tmu.Unlock()

		s.enqueue(task{name: key, timeout: timeoutNow, run: jobNow})
	})
}

// Cancel removes a pending one-shot timer. It reports whether a timer with
// that key existed.
func (s *Service) Cancel(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, existed := s.onceAt[key]
	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	delete(s.onceAt, key)
	delete(s.onceTimeout, key)
	delete(s.onceJob, key)
	delete(s.onceVer, key)
	if existed {
		s.log.Debug("timer cancelled", logx.String("key", key))
	}
	return existed
}

// CancelAll removes every pending one-shot timer.
func (s *Service) CancelAll() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := len(s.onceAt)
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.onceAt = map[string]time.Time{}
	s.onceTimeout = map[string]time.Duration{}
	s.onceJob = map[string]Job{}
	s.onceVer = map[string]uint64{}
	if n > 0 {
		s.log.Debug("all timers cancelled", logx.Int("count", n))
	}
}

// Contains reports whether a one-shot timer with the given key is pending.
func (s *Service) Contains(key string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.onceAt[strings.TrimSpace(key)]
	return ok
}

// Timers returns the pending one-shot timers sorted by key.
func (s *Service) Timers() []TimerInfo {
	s.tmu.Lock()
	out := make([]TimerInfo, 0, len(s.onceAt))
	for k, at := range s.onceAt {
		out = append(out, TimerInfo{Key: k, At: at})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// rebuildOnceTimersLocked recreates runtime timers from the persisted
// one-shot definitions. Call with s.mu held.
func (s *Service) rebuildOnceTimersLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}

	for key, at := range s.onceAt {
		if s.onceJob[key] == nil {
			delete(s.onceAt, key)
			delete(s.onceTimeout, key)
			delete(s.onceJob, key)
			delete(s.onceVer, key)
			continue
		}
		ver := s.onceVer[key]
		if ver == 0 {
			ver = 1
			s.onceVer[key] = ver
		}
		s.timers[key] = s.startTimerLocked(key, at, ver)
	}
}

// AddCron registers a recurring schedule by cron spec. Registration is an
// upsert by name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	_ = s.removeScheduleLocked(name)
	d := scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
			return err
		}
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	}
	// Scheduler not started yet: keep the definition and register on Start.
	return nil
}

// AddInterval registers a recurring schedule firing every given interval.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	return s.AddCron(name, fmt.Sprintf("@every %s", every.String()), timeout, job)
}

// Remove unschedules the named recurring schedule. It returns true if
// something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeScheduleLocked(name)
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes all defs matching name and unregisters them
// from cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// Snapshot returns a point-in-time view for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
		Workers:  s.cfg.Workers,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
		snap.QueueCap = cap(s.queue)
	}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	snap.Timers = s.Timers()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
