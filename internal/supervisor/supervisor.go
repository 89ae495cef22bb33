// Package supervisor implements the runtime-wide command bus from
// spec.md §4.12: a registry of managed tasks (a source, a sink
// dispatcher, the maintainer) under a uniform Stop(ctx)/IsStop()
// contract, a shared Stop/IsolateOne/Execute command channel, and a
// TaskController for freeze/activate bookkeeping. The command channel is
// a single Go channel: each command is received by exactly one reader
// of Commands(), not copied to every task. Grounded on the teacher's pkg/engine/engine.go Start()
// orchestration (per-task goroutines, status broadcast), generalized
// from its fixed connector-start sequence to a broadcast-command model.
package supervisor

import (
	"context"
	"sync"

	"github.com/user/fluxgate"
)

// TaskScope selects which managed tasks a Command applies to.
type TaskScope struct {
	all  bool
	name string
}

// All selects every managed task.
func All() TaskScope { return TaskScope{all: true} }

// One selects a single named task.
func One(name string) TaskScope { return TaskScope{name: name} }

func (s TaskScope) matches(taskName string) bool {
	return s.all || s.name == taskName
}

// CommandKind identifies a broadcast command's action.
type CommandKind int

const (
	CmdStop CommandKind = iota
	CmdIsolateOne
	CmdExecute
)

// Command is one broadcast instruction: Stop tells every matched task to
// shut down; IsolateOne freezes every task except the named one;
// Execute(scope) resumes the scoped task(s) — for a sink dispatcher
// scope, Execute(One(name)) is translated by TaskController into a
// freeze-all-then-activate-one sequence.
type Command struct {
	Kind  CommandKind
	Scope TaskScope
}

// Task is the uniform contract every supervised component implements.
type Task interface {
	fluxgate.Stoppable
}

// Supervisor owns the command bus and the set of registered tasks.
type Supervisor struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	cmdBus  chan Command
	ctrl    *TaskController
}

// New builds a Supervisor with a command bus of the given buffer depth.
func New(bufDepth int) *Supervisor {
	return &Supervisor{
		tasks:  make(map[string]Task),
		cmdBus: make(chan Command, bufDepth),
		ctrl:   newTaskController(),
	}
}

// Register adds a named task under supervision.
func (s *Supervisor) Register(name string, t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = t
}

// Broadcast enqueues a command on the shared bus. The bus is one
// channel, so each command is delivered to a single reader of
// Commands(); it is not fanned out to every subscriber.
func (s *Supervisor) Broadcast(cmd Command) {
	s.cmdBus <- cmd
}

// Commands exposes the receive side of the bus for task subscriber
// loops (mirroring the teacher's per-connector status-subscription
// channel pattern).
func (s *Supervisor) Commands() <-chan Command { return s.cmdBus }

// StopAll issues Stop(ctx) to every registered task, matching spec.md
// §4.12's "Stop" command applied with TaskScope::All.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	tasks := make(map[string]Task, len(s.tasks))
	for k, v := range s.tasks {
		tasks[k] = v
	}
	s.mu.RUnlock()

	var first error
	for _, t := range tasks {
		if err := t.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Controller returns the supervisor's TaskController.
func (s *Supervisor) Controller() *TaskController { return s.ctrl }

// TaskController tracks per-task success/idle counters and translates
// Execute(TaskScope::One(name)) into a freeze-all + activate-one
// sequence for sink dispatchers, per spec.md §4.12.
type TaskController struct {
	mu        sync.Mutex
	successes map[string]int64
	idles     map[string]int64
	frozen    map[string]bool
}

func newTaskController() *TaskController {
	return &TaskController{
		successes: make(map[string]int64),
		idles:     make(map[string]int64),
		frozen:    make(map[string]bool),
	}
}

// RecordSuccess increments name's success counter and clears its idle
// streak.
func (c *TaskController) RecordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes[name]++
	c.idles[name] = 0
}

// RecordIdle increments name's idle counter (a Receive/dispatch round
// that produced no work).
func (c *TaskController) RecordIdle(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idles[name]++
}

// Counters returns a snapshot of (successes, idles) for name.
func (c *TaskController) Counters(name string) (successes, idles int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes[name], c.idles[name]
}

// IsFrozen reports whether name is currently frozen.
func (c *TaskController) IsFrozen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen[name]
}

// ExecuteOne translates Execute(TaskScope::One(name)) over the given
// task names into a freeze-all + activate-one sequence: every task name
// other than the target is marked frozen, and the target is unfrozen.
func (c *TaskController) ExecuteOne(allNames []string, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range allNames {
		c.frozen[name] = name != target
	}
}

// ExecuteAll unfreezes every task name.
func (c *TaskController) ExecuteAll(allNames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range allNames {
		c.frozen[name] = false
	}
}
