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

package model

import (
	"strconv"
)

const (
	serviceAPIPath = "/vco/api"
	configAPIPath  = "/vco-controlcenter/api"
)

// ArtifactDescriptor identifies the bundle to upload and how the server
// should treat it.
type ArtifactDescriptor struct {
	Path      string
	Kind      BundleKind
	Overwrite bool
}

// EndpointConfig addresses the two REST APIs of the orchestration server.
// Each API has its own credentials.
type EndpointConfig struct {
	Host               string
	ServicePort        int
	ConfigPort         int
	ServiceCredentials Credentials
	ConfigCredentials  Credentials
}

func (e *EndpointConfig) ServiceBaseURL() string {
	return "https://" + e.Host + ":" + strconv.Itoa(e.ServicePort) + serviceAPIPath
}

func (e *EndpointConfig) ConfigBaseURL() string {
	return "https://" + e.Host + ":" + strconv.Itoa(e.ConfigPort) + configAPIPath
}

// DeploymentPlan is the fully resolved set of steps for one run.
type DeploymentPlan struct {
	DoDelete       bool
	PackageName    string
	DeleteStrategy DeleteStrategy
	Artifact       ArtifactDescriptor
	DoRestart      bool
	WaitForRestart bool
	HealthCheck    bool
}
