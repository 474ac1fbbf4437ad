// Copyright 2019 Intel Corporation. All Rights Reserved.
//
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

package membw

import (
	"github.com/pkg/errors"
)

// Error classes shared by the bandwidth monitoring packages. Callers check
// them with errors.Is after any amount of wrapping.
var (
	// ErrUnsupportedHardware is returned for CPU models without a counter catalog
	// and for hosts without the necessary memory controller PMUs.
	ErrUnsupportedHardware = errors.New("unsupported hardware")
	// ErrMissingTool is returned if the profiling backend is not installed.
	ErrMissingTool = errors.New("missing profiling tool")
	// ErrInvalidArgument is returned for invalid command line or configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMissingDump is returned if an expected counter dump is absent.
	ErrMissingDump = errors.New("missing counter dump")
	// ErrMalformedDump is returned if a counter dump has no usable content.
	ErrMalformedDump = errors.New("malformed counter dump")
	// ErrInterrupted is returned if monitoring was cancelled.
	ErrInterrupted = errors.New("monitoring interrupted")
)
