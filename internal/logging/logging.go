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

// Package logging configures the logr/zap logger shared by the autoscaler.
package logging

import (
	"flag"
	"io"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels used with logger.V(...).
const (
	DEBUG = 1
	TRACE = 2
)

// Options wraps the controller-runtime zap options so callers can bind
// the standard --zap-* flags.
type Options struct {
	zap.Options
}

// BindFlags registers the zap flags on fs.
func (o *Options) BindFlags(fs *flag.FlagSet) {
	o.Options.BindFlags(fs)
}

// NewLogger builds the process logger from opts and installs it as the
// controller-runtime root logger.
func NewLogger(opts Options) logr.Logger {
	logger := zap.New(zap.UseFlagOptions(&opts.Options))
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a development logger that includes TRACE output.
func NewTestLogger() logr.Logger {
	return newTestLogger(os.Stdout)
}

func newTestLogger(w io.Writer) logr.Logger {
	logger := zap.New(
		zap.WriteTo(w),
		zap.UseDevMode(true),
		zap.Level(zapcore.Level(-TRACE)),
	)
	ctrl.SetLogger(logger)
	return logger
}
