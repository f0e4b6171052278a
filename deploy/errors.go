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

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/o11n/vro-deploy/status"
)

// ErrArtifactNotFound is returned when the plugin file to upload does not
// exist or is not a regular file.
var ErrArtifactNotFound = errors.New("plugin file not found")

const (
	reasonDelete      = "delete failed"
	reasonInstall     = "install failed"
	reasonRestart     = "restart request failed"
	reasonWaitAborted = "restart wait cancelled"
)

// StepError is returned when the server answered a step with a status
// that aborts the deployment.
type StepError struct {
	Reason     string
	Operation  status.Operation
	StatusCode int
	Hint       string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s returned HTTP %d (%s)", e.Reason, e.Operation, e.StatusCode, e.Hint)
}
