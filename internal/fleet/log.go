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

package fleet

import (
	"context"
	"strconv"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/controller"
)

// logPreState logs what is known about a server before its decision. The
// values come from the previous cycle; nothing is fetched.
func logPreState(ctx context.Context, s Scaler, maxCores int) {
	obs := s.Status()
	t := s.Target()
	ctrl.LoggerFrom(ctx).Info("Server state before decision",
		"server", s.Name(),
		"ip", t.IP,
		"cores", coresString(obs.Cores, maxCores),
		"loadAvg", floatString(obs.Load),
		"coreUtilization", percentString(obs.Utilization))
}

// logPostState logs the outcome of a decision.
func logPostState(ctx context.Context, s Scaler, res controller.Result, maxCores int) {
	cores := res.Cores
	if res.Action == controller.ActionScaleUp {
		cores = res.RequestedCores
	}
	kv := []any{
		"server", s.Name(),
		"ip", s.Target().IP,
		"action", res.Action.String(),
		"cores", coresString(cores, maxCores),
		"loadAvg", floatString(res.Load),
		"coreUtilization", percentString(res.Utilization),
	}
	if res.Action == controller.ActionScaleUp {
		kv = append(kv, "hotplugDuration", res.Hotplug.String())
	}
	if res.Err != nil {
		kv = append(kv, "error", res.Err.Error())
	}
	ctrl.LoggerFrom(ctx).Info("Server state after decision", kv...)
}

func coresString(cores, maxCores int) string {
	if cores == 0 {
		return "?/" + strconv.Itoa(maxCores)
	}
	return strconv.Itoa(cores) + "/" + strconv.Itoa(maxCores)
}

func floatString(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func percentString(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}
