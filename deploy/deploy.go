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

// Package deploy sequences the deletion of a previous package, the upload
// of a plugin bundle and the restart of the orchestration service.
package deploy

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/o11n/vro-deploy/client"
	"github.com/o11n/vro-deploy/model"
	"github.com/o11n/vro-deploy/status"
)

const (
	resourcePackages      = "/packages/"
	resourcePlugins       = "/plugins/"
	resourceRestart       = "/server/status/restart"
	resourceServiceStatus = "/server/status"

	queryDeleteOption = "option"
)

// Transport executes a request against one of the server APIs.
type Transport interface {
	Execute(ctx context.Context, baseURL string, req *client.Request) (*client.Response, error)
}

// StepRecord is the outcome of one request of a run.
type StepRecord struct {
	State      State
	StatusCode int
	Hint       string
	Elapsed    time.Duration
}

// Result summarizes a run.
type Result struct {
	RunID string
	State State
	// Reason is set when the run was aborted.
	Reason string
	// WaitTimedOut is set when the restart wait used its whole budget
	// without seeing the service come back.
	WaitTimedOut bool
	Steps        []StepRecord
}

// Deployer runs a DeploymentPlan once.
type Deployer struct {
	transport Transport
	plan      *model.DeploymentPlan
	endpoint  *model.EndpointConfig
	clock     Clock
	logger    *log.Entry

	state  State
	result Result
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithClock replaces the clock used by the restart wait.
func WithClock(c Clock) Option {
	return func(d *Deployer) {
		d.clock = c
	}
}

// WithRunID tags the Result with the identifier of the run.
func WithRunID(id string) Option {
	return func(d *Deployer) {
		d.result.RunID = id
	}
}

// WithLogger sets the log entry every message of the run goes through.
func WithLogger(l *log.Entry) Option {
	return func(d *Deployer) {
		d.logger = l
	}
}

func NewDeployer(t Transport, plan *model.DeploymentPlan, endpoint *model.EndpointConfig, opts ...Option) *Deployer {
	d := &Deployer{
		transport: t,
		plan:      plan,
		endpoint:  endpoint,
		clock:     realClock{},
		logger:    log.NewEntry(log.StandardLogger()),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state of the run.
func (d *Deployer) State() State {
	return d.state
}

// Run executes the plan. Steps run strictly in order and the first
// failure aborts the remaining ones. The returned Result is never nil.
func (d *Deployer) Run(ctx context.Context) (*Result, error) {
	if d.state.Terminal() {
		return &d.result, errors.Errorf("deployment already ran, state %s", d.state)
	}
	if err := d.run(ctx); err != nil {
		d.state = StateAborted
		d.result.State = StateAborted
		d.result.Reason = err.Error()
		d.logger.Error(err)
		return &d.result, err
	}
	d.result.State = d.state
	return &d.result, nil
}

func (d *Deployer) run(ctx context.Context) error {
	if err := d.enter(StateValidating); err != nil {
		return err
	}
	if err := CheckArtifact(d.plan.Artifact.Path); err != nil {
		return err
	}

	if d.plan.DoDelete {
		if err := d.enter(StateDeleting); err != nil {
			return err
		}
		if err := d.deletePackage(ctx); err != nil {
			return err
		}
		d.logger.Info("Successfully deleted plugin package")
	}

	if err := d.enter(StateUploading); err != nil {
		return err
	}
	if err := d.installPlugin(ctx); err != nil {
		return err
	}
	d.logger.Infof("Successfully installed plugin '%s'", d.plan.Artifact.Path)

	if !d.plan.DoRestart {
		return d.enter(StateCompleted)
	}
	if err := d.enter(StateRestarting); err != nil {
		return err
	}
	if err := d.restartService(ctx); err != nil {
		return err
	}
	d.logger.Info("Successfully requested service restart")

	if !d.plan.WaitForRestart {
		return d.enter(StateCompleted)
	}
	if err := d.enter(StateWaiting); err != nil {
		return err
	}
	if err := d.waitForRestart(ctx); err != nil {
		return err
	}
	return d.enter(StateCompleted)
}

func (d *Deployer) enter(to State) error {
	if err := checkTransition(d.state, to); err != nil {
		return err
	}
	d.logger.Debugf("state %s → %s", d.state, to)
	d.state = to
	return nil
}

// CheckArtifact fails with ErrArtifactNotFound unless path is a regular
// file.
func CheckArtifact(path string) error {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return errors.Wrapf(ErrArtifactNotFound, "'%s'", path)
	}
	return nil
}

func (d *Deployer) deletePackage(ctx context.Context) error {
	d.logger.Infof("Deleting plug-in package '%s' (%s)...", d.plan.PackageName, d.plan.DeleteStrategy.Label())

	// the server expects the package name with a trailing dot
	req := &client.Request{
		Resource:    resourcePackages + url.PathEscape(d.plan.PackageName) + ".",
		Method:      http.MethodDelete,
		Credentials: d.endpoint.ServiceCredentials,
	}
	req.AddQueryParam(queryDeleteOption, d.plan.DeleteStrategy.Label())

	_, err := d.call(ctx, status.DeletePackage, d.endpoint.ServiceBaseURL(), req, reasonDelete)
	return err
}

func (d *Deployer) installPlugin(ctx context.Context) error {
	d.logger.Infof("Installing plugin file '%s'...", d.plan.Artifact.Path)

	artifact := d.plan.Artifact
	req := &client.Request{
		Resource:    resourcePlugins,
		Method:      http.MethodPost,
		Credentials: d.endpoint.ServiceCredentials,
		Artifact:    &artifact,
	}

	_, err := d.call(ctx, status.UploadPlugin, d.endpoint.ServiceBaseURL(), req, reasonInstall)
	return err
}

func (d *Deployer) restartService(ctx context.Context) error {
	d.logger.Infof("Restarting service on host '%s'...", d.endpoint.Host)

	req := &client.Request{
		Resource:    resourceRestart,
		Method:      http.MethodPost,
		Credentials: d.endpoint.ConfigCredentials,
	}

	response, err := d.call(ctx, status.RestartService, d.endpoint.ConfigBaseURL(), req, reasonRestart)
	if err != nil {
		return err
	}
	d.logger.Debugf("service status: %s", response.Body)
	return nil
}

func (d *Deployer) waitForRestart(ctx context.Context) error {
	d.logger.Infof("Waiting for restart of service on host '%s'...", d.endpoint.Host)

	var probe Probe
	if d.plan.HealthCheck {
		probe = d.probeServiceStatus
	}
	ready, err := NewPoller(d.clock, probe).Wait(ctx)
	if err != nil {
		return errors.Wrap(err, reasonWaitAborted)
	}
	if !ready {
		d.result.WaitTimedOut = true
		d.logger.Warn("Timeout. Unable to get the configuration server. Please check your server.")
		return nil
	}
	d.logger.Info("Service restarted")
	return nil
}

func (d *Deployer) probeServiceStatus(ctx context.Context) bool {
	req := &client.Request{
		Resource:    resourceServiceStatus,
		Method:      http.MethodGet,
		Credentials: d.endpoint.ConfigCredentials,
	}
	response, err := d.transport.Execute(ctx, d.endpoint.ConfigBaseURL(), req)
	if err != nil {
		// the server refuses connections while it restarts
		d.logger.Debugf("service status: %v", err)
		return false
	}
	v := status.Interpret(status.ServiceStatus, response.StatusCode)
	d.logger.Debugf("service status: HTTP %d %s", response.StatusCode, v.Hint)
	return v.OK()
}

// call executes req and turns its status into an error when the verdict
// for op is not a success.
func (d *Deployer) call(ctx context.Context, op status.Operation, baseURL string, req *client.Request, reason string) (*client.Response, error) {
	start := time.Now()
	response, err := d.transport.Execute(ctx, baseURL, req)
	if err != nil {
		return nil, errors.Wrap(err, reason)
	}

	v := status.Interpret(op, response.StatusCode)
	d.result.Steps = append(d.result.Steps, StepRecord{
		State:      d.state,
		StatusCode: response.StatusCode,
		Hint:       v.Hint,
		Elapsed:    time.Since(start),
	})
	if !v.OK() {
		d.logger.Warnf("HTTP %d. %s: %s", response.StatusCode, op, v.Hint)
		return response, &StepError{
			Reason:     reason,
			Operation:  op,
			StatusCode: response.StatusCode,
			Hint:       v.Hint,
		}
	}
	d.logger.Debugf("HTTP %d. %s: %s", response.StatusCode, op, v.Hint)
	return response, nil
}
