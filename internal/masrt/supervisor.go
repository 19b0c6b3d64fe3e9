// Package masrt wires the core runtime's components — registry,
// synchronizer, dispatcher, per-agent workers — into the external
// interface the surrounding harness drives (spec §6): register_agent,
// register_operator, create_task, start_stage, send_operator_message,
// and snapshot.
//
// Grounded on the teacher-original's top-level mas.py (MultiAgentSystem):
// an __init__ that builds the synchronizer and an agent directory, an
// add_llm_agent/add_human_agent pair that mint agent IDs and register
// live state, and a message-dispatch loop run as one of the process's
// background goroutines alongside the per-agent run loops.
package masrt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/config"
	"github.com/agentruntime/masrt/internal/dispatcher"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/idgen"
	"github.com/agentruntime/masrt/internal/llm"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/registry"
	"github.com/agentruntime/masrt/internal/skill"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/agentruntime/masrt/internal/synchronizer"
	"github.com/agentruntime/masrt/internal/taskstate"
	"github.com/agentruntime/masrt/internal/tool"
	"github.com/agentruntime/masrt/internal/tool/mcpclient"
	"github.com/agentruntime/masrt/internal/worker"
)

// Supervisor is the harness-facing entry point: it owns every agent's
// live state, the single synchronizer, the single dispatcher, and the
// goroutines that drive them (spec §6).
type Supervisor struct {
	log *slog.Logger

	reg   *registry.Registry
	sync  *synchronizer.Synchronizer
	disp  *dispatcher.Dispatcher

	mu              sync.RWMutex
	agents          map[string]*agentstate.State
	workers         map[string]*worker.Worker
	operatorIntakes map[string]*operatorIntake
	servers         map[string]mcpclient.Client

	runMu  sync.Mutex
	cancel context.CancelFunc
	runCtx context.Context
	group  *errgroup.Group
}

// New creates a Supervisor with its registry pre-populated with the
// thirteen skill executors (spec §4.8, SPEC_FULL.md §9) and the single
// generic tool executor (spec §4.9), registered under
// registry.GenericToolHandler.
func New(log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		log:             log,
		agents:          make(map[string]*agentstate.State),
		workers:         make(map[string]*worker.Worker),
		operatorIntakes: make(map[string]*operatorIntake),
		servers:         make(map[string]mcpclient.Client),
	}
	s.reg = registry.New()
	s.sync = synchronizer.New(log, s)
	s.disp = dispatcher.New(log, s.sync, dispatcherAgents{s})

	if err := registerSkills(s.reg); err != nil {
		return nil, err
	}
	if err := s.reg.RegisterTool(tool.New(s, log)); err != nil {
		return nil, fmt.Errorf("masrt: register tool executor: %w", err)
	}
	return s, nil
}

func registerSkills(reg *registry.Registry) error {
	skills := map[string]executor.Executor{
		"planning":               skill.NewPlanning(),
		"reflection":             skill.NewReflection(),
		"decision":               skill.NewDecision(),
		"instruction_generation": skill.NewInstructionGeneration(),
		"tool_decision":          skill.NewToolDecision(),
		"send_message":           skill.NewSendMessage(),
		"process_message":        skill.NewProcessMessage(),
		"ask_info":               skill.NewAskInfo(),
		"task_manager":           skill.NewTaskManager(),
		"agent_manager":          skill.NewAgentManager(),
		"quick_think":            skill.NewQuickThink(),
		"think":                  skill.NewThink(),
		"summary":                skill.NewSummary(),
	}
	for name, ex := range skills {
		if err := reg.RegisterSkill(name, ex); err != nil {
			return fmt.Errorf("masrt: register skill %q: %w", name, err)
		}
	}
	return nil
}

// Agent satisfies synchronizer.AgentDirectory: resolve any registered
// agent or operator to its live state.
func (s *Supervisor) Agent(agentID string) (*agentstate.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.agents[agentID]
	return st, ok
}

// Server satisfies tool.ServerDirectory: resolve a tool step's
// executor_name to the MCP client for that server.
func (s *Supervisor) Server(name string) (mcpclient.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.servers[name]
	return c, ok
}

// dispatcherAgents adapts Supervisor to dispatcher.AgentDirectory.
// It exists because synchronizer.AgentDirectory and dispatcher.AgentDirectory
// both name their single method Agent but return different types
// (*agentstate.State vs dispatcher.Intake) — Supervisor satisfies the
// former directly and this thin wrapper satisfies the latter.
type dispatcherAgents struct{ s *Supervisor }

func (d dispatcherAgents) Agent(agentID string) (dispatcher.Intake, bool) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	if w, ok := d.s.workers[agentID]; ok {
		return w, true
	}
	if oi, ok := d.s.operatorIntakes[agentID]; ok {
		return oi, true
	}
	return nil, false
}

// RegisterAgent registers an autonomous (LLM-driven) agent (spec §6
// register_agent). llmClient may be nil for a test double supplied later
// via the agent's Autonomous.LLM field; a planning/reflection/etc. skill
// invoked against a nil client fails its step rather than panicking
// (internal/skill's llmFor check).
func (s *Supervisor) RegisterAgent(cfg config.AgentConfig, llmClient llm.Client) (string, error) {
	id := cfg.ID
	if id == "" {
		id = idgen.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; exists {
		return "", fmt.Errorf("masrt: agent %q already registered", id)
	}

	st := agentstate.New(id, cfg.Name, cfg.Role, cfg.Profile, agentstate.VariantAutonomous, cfg.Tools, cfg.Skills)
	if llmClient != nil {
		st.Autonomous.LLM = llmClient
	}

	s.agents[id] = st
	w := worker.New(st, s.reg, s.sync, s.log)
	s.workers[id] = w
	s.spawnIfRunning(func(ctx context.Context) error { w.Run(ctx); return nil })
	return id, nil
}

// RegisterOperator registers a human-operator agent (spec §6
// register_operator). Operators never run the step-executing worker
// loop — their log only ever holds the pre-finished audit steps
// SendOperatorMessage appends — so they are given a lightweight intake
// instead of a *worker.Worker (grounded on the teacher-original's
// human_agent.py, whose receive_message records to a conversation pool
// rather than creating executable steps).
func (s *Supervisor) RegisterOperator(cfg config.AgentConfig) (string, error) {
	id := cfg.ID
	if id == "" {
		id = idgen.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; exists {
		return "", fmt.Errorf("masrt: agent %q already registered", id)
	}

	st := agentstate.New(id, cfg.Name, cfg.Role, cfg.Profile, agentstate.VariantOperator, cfg.Tools, cfg.Skills)
	s.agents[id] = st
	s.operatorIntakes[id] = &operatorIntake{state: st}
	return id, nil
}

// ConnectMCPServer dials an external tool server and registers it under
// cfg.Name, making it resolvable via Server (spec §4.9's "external tool
// service").
func (s *Supervisor) ConnectMCPServer(ctx context.Context, cfg config.MCPServerConfig) error {
	var client mcpclient.Client
	var err error
	switch cfg.Transport {
	case "stdio":
		client, err = mcpclient.NewStdio(ctx, mcpclient.StdioConfig{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env})
	case "http":
		client, err = mcpclient.NewHTTP(ctx, mcpclient.HTTPConfig{URL: cfg.URL})
	default:
		return fmt.Errorf("masrt: unknown MCP transport %q for server %q", cfg.Transport, cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("masrt: connect MCP server %q: %w", cfg.Name, err)
	}

	s.mu.Lock()
	s.servers[cfg.Name] = client
	s.mu.Unlock()
	return nil
}

// CreateTask registers a new task with no stages yet (spec §6
// create_task). Stages are added separately via AddStage, mirroring the
// teacher-original's init_and_start_first_task, which builds a task's
// stage list before ever calling start_stage on it.
func (s *Supervisor) CreateTask(name, intention, managerID string) (string, error) {
	id := idgen.New()
	t := taskstate.New(id, name, intention, managerID, []string{managerID})
	s.sync.AddTask(t)
	return id, nil
}

// AddStage appends one or more stages to an existing task. This is a
// harness-level task-authoring operation spec.md leaves implicit (an
// autonomous task_manager skill normally drives it via a task_instruction
// descriptor); exposing it directly lets the harness seed a task's
// initial stage(s) before the first start_stage call.
func (s *Supervisor) AddStage(taskID, senderID string, stages []executor.StageSpec) error {
	return s.sync.AddStage(&executor.TaskInstruction{
		Action:  executor.TaskInstructionAddStage,
		AgentID: senderID,
		TaskID:  taskID,
		Stages:  stages,
	})
}

// StartStage starts a stage, enqueuing a start_stage instruction to every
// allocated agent (spec §6 start_stage, §4.6).
func (s *Supervisor) StartStage(taskID, stageID, senderID string) error {
	return s.sync.StartStage(taskID, stageID, senderID)
}

// SendOperatorMessage sends a message on behalf of a registered operator
// (spec §6 send_operator_message), grounded on the teacher-original's
// human_agent.py send_private_message/send_group_message: the operator
// never locks itself the way an autonomous agent's send-message skill
// does (it has no planning loop to resume), it records the outgoing text
// to its own conversation pool, and it appends a pre-finished audit step
// to its log so the send is visible in a snapshot.
func (s *Supervisor) SendOperatorMessage(operatorID, taskID string, receivers []string, content string, needReply bool) error {
	s.mu.RLock()
	op, ok := s.agents[operatorID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("masrt: unknown agent %q", operatorID)
	}
	if op.Variant != agentstate.VariantOperator {
		return fmt.Errorf("masrt: agent %q is not an operator", operatorID)
	}

	msg := message.Message{
		TaskID:    taskID,
		SenderID:  operatorID,
		Receiver:  receivers,
		Text:      content,
		NeedReply: needReply,
	}
	if needReply {
		waiting := make([]string, len(receivers))
		for i := range receivers {
			w := idgen.New()
			waiting[i] = w
			op.AddWaiting(w)
		}
		msg.Waiting = waiting
	}

	if err := s.sync.Apply(&executor.SideEffect{SendMessage: &msg}); err != nil {
		return err
	}

	for _, r := range receivers {
		op.Operator.RecordConversation(r, taskID, content)
	}

	audit := op.AddStep(taskID, step.NoStage, "send_message", step.KindSkill, "send_message", content, nil)
	_ = audit.SetStatus(step.StatusRunning)
	_ = audit.SetStatus(step.StatusFinished)
	audit.ExecuteResult = map[string]any{"receivers": receivers, "need_reply": needReply}
	// The audit step is terminal on arrival; nothing ever executes it, so
	// drain it from the ready queue immediately rather than leaving a dead
	// entry for the (nonexistent) operator worker loop to stumble over.
	op.AgentStep.PopReady()
	return nil
}

// Start spins up one worker goroutine per currently registered
// autonomous agent plus the dispatcher goroutine, and returns
// immediately. Agents registered after Start are started individually
// (see spawnIfRunning). Cancel ctx or call Stop to shut down.
func (s *Supervisor) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	s.group = g
	s.runCtx = gctx

	s.mu.RLock()
	workers := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.RUnlock()

	for _, w := range workers {
		w := w
		g.Go(func() error { w.Run(gctx); return nil })
	}
	g.Go(func() error { s.disp.Run(gctx); return nil })
}

// spawnIfRunning starts fn as a goroutine under the live run group when
// Start has already been called (an agent registered mid-run), so a
// harness that registers agents dynamically doesn't have to restart the
// supervisor.
func (s *Supervisor) spawnIfRunning(fn func(context.Context) error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.group == nil {
		return
	}
	s.group.Go(func() error { return fn(s.runCtx) })
}

// Stop cancels every running goroutine and waits for them to return.
func (s *Supervisor) Stop() error {
	s.runMu.Lock()
	cancel := s.cancel
	g := s.group
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		return g.Wait()
	}
	return nil
}

// operatorIntake is the dispatcher.Intake a human-operator agent uses in
// place of a *worker.Worker (see RegisterOperator).
type operatorIntake struct {
	state *agentstate.State
}

// ReceiveMessage records the delivered message to the operator's
// conversation pool and resolves any waiting ID it closes. Operators
// never create steps from an ordinary incoming message — only
// SendOperatorMessage appends to an operator's log — matching the
// teacher-original's human_agent.py receive_message/process_message
// shape.
func (o *operatorIntake) ReceiveMessage(m message.Message) error {
	if o.state.Operator != nil {
		o.state.Operator.RecordConversation(m.SenderID, m.TaskID, m.Text)
	}
	if rw := m.ReturnWaitingIDFor(o.state.AgentID); rw != "" {
		o.state.ResolveWaiting(rw)
	}
	return nil
}

var _ dispatcher.Intake = (*operatorIntake)(nil)
var _ dispatcher.AgentDirectory = dispatcherAgents{}
var _ synchronizer.AgentDirectory = (*Supervisor)(nil)
var _ tool.ServerDirectory = (*Supervisor)(nil)
