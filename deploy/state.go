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

package deploy

import "github.com/pkg/errors"

// State is a step of a deployment run.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateDeleting   State = "deleting"
	StateUploading  State = "uploading"
	StateRestarting State = "restarting"
	StateWaiting    State = "waiting"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// validTransitions defines the allowed from→to state transitions.
// Completed and aborted have no outgoing transitions.
var validTransitions = map[State]map[State]bool{
	StateIdle:       {StateValidating: true, StateAborted: true},
	StateValidating: {StateDeleting: true, StateUploading: true, StateAborted: true},
	StateDeleting:   {StateUploading: true, StateAborted: true},
	StateUploading:  {StateRestarting: true, StateCompleted: true, StateAborted: true},
	StateRestarting: {StateWaiting: true, StateCompleted: true, StateAborted: true},
	StateWaiting:    {StateCompleted: true, StateAborted: true},
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

func checkTransition(from, to State) error {
	if !validTransitions[from][to] {
		return errors.Errorf("invalid state transition %s → %s", from, to)
	}
	return nil
}
