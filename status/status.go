// Copyright 2021 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// Package status interprets HTTP status codes returned by the
// orchestration server. The same code means different things depending
// on the operation, so every operation has its own table.
package status

import (
	"fmt"
	"net/http"
)

// Operation is a kind of call made to the server.
type Operation string

const (
	DeletePackage  Operation = "delete package"
	UploadPlugin   Operation = "upload plugin"
	RestartService Operation = "restart service"
	ServiceStatus  Operation = "service status"
)

// Outcome is the classification of a status code.
type Outcome int

const (
	Success Outcome = iota
	SoftFailure
	ConfigurationError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SoftFailure:
		return "soft failure"
	case ConfigurationError:
		return "configuration error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Verdict is the outcome of a call together with a human readable hint.
type Verdict struct {
	Outcome Outcome
	Hint    string
}

func (v Verdict) OK() bool {
	return v.Outcome == Success
}

const (
	hintUnauthenticated = "authentication required"
	hintForbidden       = "the provided user is not authorized"
	hintNotFound        = "resource not found, check the server URL and that the server is reachable"
	hintUnknown         = "unknown status"
)

var tables = map[Operation]map[int]Verdict{
	DeletePackage: {
		http.StatusOK:           {Success, "package deleted"},
		http.StatusNoContent:    {Success, "no package found, nothing to delete"},
		http.StatusUnauthorized: {SoftFailure, hintUnauthenticated},
		http.StatusForbidden:    {SoftFailure, hintForbidden},
		http.StatusNotFound:     {Success, "package not found, skipping deletion"},
	},
	UploadPlugin: {
		http.StatusCreated:      {Success, "plugin installed"},
		http.StatusNoContent:    {Success, "plugin installed"},
		http.StatusUnauthorized: {SoftFailure, hintUnauthenticated},
		http.StatusForbidden:    {SoftFailure, hintForbidden},
		http.StatusNotFound:     {SoftFailure, hintNotFound},
	},
	RestartService: {
		http.StatusOK:           {Success, "restart requested"},
		http.StatusCreated:      {Success, "restart requested"},
		http.StatusUnauthorized: {SoftFailure, hintUnauthenticated},
		http.StatusForbidden:    {SoftFailure, hintForbidden},
		http.StatusNotFound:     {SoftFailure, hintNotFound},
	},
	ServiceStatus: {
		http.StatusOK: {Success, "service is answering"},
	},
}

// Interpret classifies code for op. Codes missing from the operation's
// table are soft failures, never successes.
func Interpret(op Operation, code int) Verdict {
	table, ok := tables[op]
	if !ok {
		return Verdict{ConfigurationError, fmt.Sprintf("unknown operation %q", string(op))}
	}
	if v, ok := table[code]; ok {
		return v
	}
	if op == ServiceStatus {
		return Verdict{SoftFailure, "service not ready"}
	}
	return Verdict{SoftFailure, hintUnknown}
}
