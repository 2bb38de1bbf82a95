/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import "fmt"

// Policy holds the fleet-wide scale-up rules.
type Policy struct {
	// MaxCores is the highest core count a scale-up may request.
	MaxCores int
	// ThresholdPercent triggers a scale-up when utilization is strictly greater.
	ThresholdPercent float64
}

// Utilization returns load as a percentage of the available cores.
// cores must be at least 1.
func Utilization(load float64, cores int) float64 {
	return load / float64(cores) * 100
}

// Decision is the outcome of evaluating one settled observation.
type Decision struct {
	Action Action
	// TargetCores is the core count to request when Action is ActionScaleUp.
	TargetCores int
	Reason      string
}

// Evaluate decides what to do for a server with the given settled core count and utilization.
func (p Policy) Evaluate(cores int, utilization float64) Decision {
	if utilization <= p.ThresholdPercent {
		return Decision{
			Action: ActionNone,
			Reason: fmt.Sprintf("utilization %.1f%% is not above threshold %.1f%%", utilization, p.ThresholdPercent),
		}
	}
	if cores >= p.MaxCores {
		return Decision{
			Action: ActionSaturated,
			Reason: fmt.Sprintf("server already has %d cores (max %d), no cores added", cores, p.MaxCores),
		}
	}
	return Decision{
		Action:      ActionScaleUp,
		TargetCores: cores + 1,
		Reason:      fmt.Sprintf("utilization %.1f%% is above threshold %.1f%%", utilization, p.ThresholdPercent),
	}
}
