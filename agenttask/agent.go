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

// Package agenttask implements the builtin agent-task executor: a small
// agent registry, a keyword-driven plan builder, and task history with
// optional PostgreSQL persistence. It serves as the fallback when every
// remote agent provider is unavailable.
package agenttask

import (
	"strings"
	"time"
)

const defaultModel = "gpt-4"

// Agent is a registered task executor with a set of capability tags.
type Agent struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`

	tasksExecuted   int
	tasksSuccessful int
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	Step        string    `json:"step"`
	Description string    `json:"description"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

// TaskResult is the builtin execution outcome for a task.
type TaskResult struct {
	Task      string         `json:"task"`
	Agent     string         `json:"agent"`
	AgentID   string         `json:"agent_id"`
	Plan      []string       `json:"plan"`
	Tools     []string       `json:"tools_needed"`
	Steps     []StepResult   `json:"execution_results"`
	Success   bool           `json:"success"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// createPlan builds a fixed four-step plan from keywords in the task.
func createPlan(task string) []string {
	taskLower := strings.ToLower(task)
	switch {
	case strings.Contains(taskLower, "deploy"):
		return []string{"analyze_requirements", "prepare_deployment", "execute_deployment", "verify_deployment"}
	case strings.Contains(taskLower, "monitor"):
		return []string{"setup_monitoring", "collect_metrics", "analyze_data", "generate_report"}
	case strings.Contains(taskLower, "backup"):
		return []string{"identify_data", "prepare_backup", "execute_backup", "verify_backup"}
	default:
		return []string{"understand_task", "gather_information", "execute_action", "verify_result"}
	}
}

// identifyTools maps task keywords to the tools a step executor would use.
func identifyTools(task string) []string {
	taskLower := strings.ToLower(task)
	var tools []string

	if containsAny(taskLower, "deploy", "infrastructure", "server") {
		tools = append(tools, "ansible", "terraform", "ssh")
	}
	if containsAny(taskLower, "search", "find", "research") {
		tools = append(tools, "web_search", "rag")
	}
	if containsAny(taskLower, "proxmox", "vm", "container") {
		tools = append(tools, "proxmoxer", "ssh")
	}
	return tools
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// fitness scores how well an agent matches a task: one point per
// capability tag appearing in the task text, plus up to half a point for
// the agent's historical success rate.
func (a *Agent) fitness(task string) float64 {
	taskLower := strings.ToLower(task)
	score := 0.0

	for _, capability := range a.Capabilities {
		if strings.Contains(taskLower, strings.ToLower(capability)) {
			score += 1.0
		}
	}

	if a.tasksExecuted > 0 {
		score += float64(a.tasksSuccessful) / float64(a.tasksExecuted) * 0.5
	}
	return score
}
