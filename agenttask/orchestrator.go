// Copyright 2025 ControlCenter
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agenttask

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"controlcenter/gateway/routing"
)

// AgentInfo is the listing shape for a registered agent.
type AgentInfo struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Capabilities  []string `json:"capabilities"`
	Model         string   `json:"model"`
	TasksExecuted int      `json:"tasks_executed"`
}

// ActRequest is the payload for agent_task.
type ActRequest struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context"`
	AgentID string         `json:"agent_id"`
}

// AgentConfig describes the agent a forwarded task runs under, so remote
// providers can honor its capabilities and model.
type AgentConfig struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Model        string   `json:"model"`
}

// ExecuteRequest is the payload forwarded to remote agent providers.
type ExecuteRequest struct {
	Task        string         `json:"task"`
	Context     map[string]any `json:"context"`
	AgentID     string         `json:"agent_id"`
	AgentConfig AgentConfig    `json:"agent_config"`
}

// Orchestrator manages the agent registry and executes tasks with the
// builtin plan executor. Task history goes through the injected TaskStore.
type Orchestrator struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	store  TaskStore
	logger *log.Logger
	now    func() time.Time
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets a custom logger.
func WithOrchestratorLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator backed by the given task store.
func NewOrchestrator(store TaskStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		agents: make(map[string]*Agent),
		store:  store,
		logger: log.New(os.Stdout, "[AGENT] ", log.LstdFlags),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// CreateAgent registers a new agent and returns its id.
func (o *Orchestrator) CreateAgent(name string, capabilities []string, model string) string {
	agent := o.newAgent(name, capabilities, model)

	o.mu.Lock()
	o.agents[agent.AgentID] = agent
	o.mu.Unlock()

	o.logger.Printf("Created agent %s with ID %s", name, agent.AgentID)
	return agent.AgentID
}

func (o *Orchestrator) newAgent(name string, capabilities []string, model string) *Agent {
	if model == "" {
		model = defaultModel
	}
	return &Agent{
		AgentID:      uuid.New().String(),
		Name:         name,
		Capabilities: append([]string(nil), capabilities...),
		Model:        model,
		CreatedAt:    o.now(),
	}
}

// ListAgents returns all registered agents.
func (o *Orchestrator) ListAgents() []AgentInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(o.agents))
	for _, agent := range o.agents {
		infos = append(infos, AgentInfo{
			AgentID:       agent.AgentID,
			Name:          agent.Name,
			Capabilities:  append([]string(nil), agent.Capabilities...),
			Model:         agent.Model,
			TasksExecuted: agent.tasksExecuted,
		})
	}
	return infos
}

// Act executes a task with the builtin plan executor. When agentID is
// empty the best-fitting agent is selected by capability fitness; with no
// registered agents a generic one is created. A non-empty agentID that is
// not registered is an error.
func (o *Orchestrator) Act(ctx context.Context, task string, taskContext map[string]any, agentID string) (*TaskResult, error) {
	agent, err := o.resolveAgent(task, agentID)
	if err != nil {
		return nil, err
	}

	plan := createPlan(task)
	steps := make([]StepResult, 0, len(plan))
	success := true

	for _, step := range plan {
		result := StepResult{
			Step:        step,
			Description: fmt.Sprintf("Executed %s for task: %s", step, task),
			Success:     true,
			Timestamp:   o.now(),
		}
		steps = append(steps, result)
		success = success && result.Success
	}

	result := &TaskResult{
		Task:      task,
		Agent:     agent.Name,
		AgentID:   agent.AgentID,
		Plan:      plan,
		Tools:     identifyTools(task),
		Steps:     steps,
		Success:   success,
		Context:   taskContext,
		Timestamp: o.now(),
	}

	o.mu.Lock()
	agent.tasksExecuted++
	if success {
		agent.tasksSuccessful++
	}
	o.mu.Unlock()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task result: %w", err)
	}
	if err := o.logExecution(ctx, agent.AgentID, task, taskContext, resultJSON, "builtin", success); err != nil {
		o.logger.Printf("Failed to persist task history: %v", err)
	}

	return result, nil
}

// Resolve picks the agent a task would run under without executing it,
// used when the task is forwarded to a remote provider.
func (o *Orchestrator) Resolve(task, agentID string) (AgentInfo, error) {
	agent, err := o.resolveAgent(task, agentID)
	if err != nil {
		return AgentInfo{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return AgentInfo{
		AgentID:       agent.AgentID,
		Name:          agent.Name,
		Capabilities:  append([]string(nil), agent.Capabilities...),
		Model:         agent.Model,
		TasksExecuted: agent.tasksExecuted,
	}, nil
}

// LogRemote records a task that was served by a remote provider, so that
// history covers both paths.
func (o *Orchestrator) LogRemote(ctx context.Context, agentID, task string, taskContext map[string]any, result json.RawMessage, provider string) error {
	return o.logExecution(ctx, agentID, task, taskContext, result, provider, true)
}

// History returns the task history, filtered to one agent when agentID is
// non-empty.
func (o *Orchestrator) History(ctx context.Context, agentID string) ([]TaskRecord, error) {
	return o.store.History(ctx, agentID)
}

// Builtin returns the routing fallback handler for agent_task.
func (o *Orchestrator) Builtin() routing.BuiltinHandler {
	return routing.BuiltinFunc(func(ctx context.Context, capability routing.Capability, payload json.RawMessage) (any, error) {
		if capability != routing.CapabilityAgentTask {
			return nil, fmt.Errorf("capability %s has no builtin handler", capability)
		}

		var req ActRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid agent task payload: %w", err)
		}

		return o.Act(ctx, req.Task, req.Context, req.AgentID)
	})
}

func (o *Orchestrator) resolveAgent(task, agentID string) (*Agent, error) {
	o.mu.RLock()
	if agentID != "" {
		agent, ok := o.agents[agentID]
		o.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("agent %q not found", agentID)
		}
		return agent, nil
	}

	best := o.bestFit(task)
	o.mu.RUnlock()

	if best != nil {
		return best, nil
	}

	// No suitable agent; create a generic one, re-checking under the
	// write lock so concurrent callers share a single AutoAgent.
	o.mu.Lock()
	defer o.mu.Unlock()
	if best := o.bestFit(task); best != nil {
		return best, nil
	}

	agent := o.newAgent("AutoAgent", []string{"general", "analysis", "execution"}, defaultModel)
	o.agents[agent.AgentID] = agent
	o.logger.Printf("Created agent %s with ID %s", agent.Name, agent.AgentID)
	return agent, nil
}

// bestFit must be called with the registry lock held.
func (o *Orchestrator) bestFit(task string) *Agent {
	var best *Agent
	bestScore := 0.0
	for _, agent := range o.agents {
		if score := agent.fitness(task); score > bestScore {
			bestScore = score
			best = agent
		}
	}
	return best
}

func (o *Orchestrator) logExecution(ctx context.Context, agentID, task string, taskContext map[string]any, result json.RawMessage, provider string, success bool) error {
	record := TaskRecord{
		TaskID:    uuid.New().String(),
		AgentID:   agentID,
		Task:      task,
		Context:   taskContext,
		Result:    result,
		Provider:  provider,
		Success:   success,
		Timestamp: o.now(),
	}
	return o.store.Save(ctx, record)
}
