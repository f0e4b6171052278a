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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/o11n/vro-deploy/client"
	"github.com/o11n/vro-deploy/model"
	"github.com/o11n/vro-deploy/status"
)

type recordedCall struct {
	baseURL string
	req     *client.Request
}

// mockTransport answers each request with the status configured for its
// method and resource.
type mockTransport struct {
	codes map[string]int
	errs  map[string]error
	calls []recordedCall
}

func key(method, resource string) string {
	return method + " " + resource
}

func (m *mockTransport) Execute(ctx context.Context, baseURL string, req *client.Request) (*client.Response, error) {
	m.calls = append(m.calls, recordedCall{baseURL: baseURL, req: req})
	k := key(req.Method, req.Resource)
	if err := m.errs[k]; err != nil {
		return nil, &client.TransportError{URL: baseURL + req.Resource, Err: err}
	}
	code, ok := m.codes[k]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &client.Response{StatusCode: code, Body: `{"currentStatus":"RUNNING"}`}, nil
}

func (m *mockTransport) count(method, resource string) int {
	n := 0
	for _, c := range m.calls {
		if c.req.Method == method && c.req.Resource == resource {
			n++
		}
	}
	return n
}

// fakeClock fires immediately and records every requested delay.
type fakeClock struct {
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

const deleteResource = "/packages/com.acme.sample."

func happyTransport() *mockTransport {
	return &mockTransport{codes: map[string]int{
		key(http.MethodDelete, deleteResource):     http.StatusOK,
		key(http.MethodPost, resourcePlugins):      http.StatusCreated,
		key(http.MethodPost, resourceRestart):      http.StatusOK,
		key(http.MethodGet, resourceServiceStatus): http.StatusOK,
	}}
}

func testPlan(t *testing.T) *model.DeploymentPlan {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.dar")
	if err := os.WriteFile(path, []byte("dar"), 0o600); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	return &model.DeploymentPlan{
		PackageName:    "com.acme.sample",
		DeleteStrategy: model.DeletePackageKeepingShared,
		Artifact:       model.ArtifactDescriptor{Path: path, Kind: model.BundleDAR, Overwrite: true},
	}
}

func testEndpoint() *model.EndpointConfig {
	return &model.EndpointConfig{
		Host:               "vro.local",
		ServicePort:        8281,
		ConfigPort:         8283,
		ServiceCredentials: model.Credentials{Username: "vcoadmin", Password: "service-secret"},
		ConfigCredentials:  model.Credentials{Username: "root", Password: "config-secret"},
	}
}

func TestRunUploadOnly(t *testing.T) {
	transport := happyTransport()
	d := NewDeployer(transport, testPlan(t), testEndpoint())

	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateCompleted || d.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("expected a single call, got %d", len(transport.calls))
	}
	call := transport.calls[0]
	if call.req.Method != http.MethodPost || call.req.Resource != "/plugins/" {
		t.Fatalf("expected upload as first call, got %s %s", call.req.Method, call.req.Resource)
	}
	if call.baseURL != "https://vro.local:8281/vco/api" {
		t.Fatalf("upload must target the service API, got %s", call.baseURL)
	}
	if call.req.Artifact == nil || call.req.Artifact.Kind != model.BundleDAR || !call.req.Artifact.Overwrite {
		t.Fatalf("unexpected artifact %+v", call.req.Artifact)
	}
	if call.req.Credentials.Username != "vcoadmin" {
		t.Fatalf("upload must use service credentials, got %s", call.req.Credentials)
	}
}

func TestRunDeleteRequest(t *testing.T) {
	transport := happyTransport()
	plan := testPlan(t)
	plan.DoDelete = true

	if _, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(transport.calls) != 2 {
		t.Fatalf("expected delete then upload, got %d calls", len(transport.calls))
	}
	del := transport.calls[0]
	if del.req.Method != http.MethodDelete {
		t.Fatalf("expected DELETE first, got %s", del.req.Method)
	}
	if del.baseURL+del.req.Resource+"?"+del.req.Query.Encode() !=
		"https://vro.local:8281/vco/api/packages/com.acme.sample.?option=deletePackageKeepingShared" {
		t.Fatalf("unexpected delete target %s%s?%s", del.baseURL, del.req.Resource, del.req.Query.Encode())
	}
	if del.req.Credentials.Username != "vcoadmin" {
		t.Fatalf("delete must use service credentials")
	}
}

func TestRunDeleteResourceKeepsTrailingDot(t *testing.T) {
	for _, name := range []string{"com.acme", "com.acme.", "pkg with space", "a"} {
		transport := happyTransport()
		transport.codes[key(http.MethodDelete, "/packages/"+url.PathEscape(name)+".")] = http.StatusOK
		plan := testPlan(t)
		plan.DoDelete = true
		plan.PackageName = name

		if _, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background()); err != nil {
			t.Fatalf("Run failed for %q: %v", name, err)
		}
		got := transport.calls[0].req.Resource
		if got != "/packages/"+url.PathEscape(name)+"." {
			t.Fatalf("unexpected resource %q for package %q", got, name)
		}
	}
}

func TestRunDeletePathOnTheWire(t *testing.T) {
	type seen struct {
		method, path, query string
	}
	var got seen
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			got = seen{r.Method, r.URL.Path, r.URL.RawQuery}
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	endpoint := testEndpoint()
	endpoint.Host = u.Hostname()
	endpoint.ServicePort = port

	for _, name := range []string{"com.acme.sample", "com.acme?x", "com.acme#x", "com.acme%zz", "pkg with space"} {
		t.Run(name, func(t *testing.T) {
			got = seen{}
			plan := testPlan(t)
			plan.DoDelete = true
			plan.PackageName = name

			transport := client.NewClient(client.Options{Timeout: 5 * time.Second, Insecure: true})
			if _, err := NewDeployer(transport, plan, endpoint).Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got.path != "/vco/api/packages/"+name+"." {
				t.Fatalf("expected path %q, got %q", "/vco/api/packages/"+name+".", got.path)
			}
			if got.query != "option=deletePackageKeepingShared" {
				t.Fatalf("unexpected query %q", got.query)
			}
		})
	}
}

func TestRunDeleteStatusCodes(t *testing.T) {
	for code := 100; code < 600; code++ {
		transport := happyTransport()
		transport.codes[key(http.MethodDelete, deleteResource)] = code
		plan := testPlan(t)
		plan.DoDelete = true

		result, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background())

		uploaded := transport.count(http.MethodPost, resourcePlugins) > 0
		proceed := code == http.StatusOK || code == http.StatusNoContent || code == http.StatusNotFound
		if proceed {
			if err != nil || !uploaded || result.State != StateCompleted {
				t.Fatalf("delete %d: expected upload and completion, got err=%v uploaded=%t", code, err, uploaded)
			}
			continue
		}
		if uploaded {
			t.Fatalf("delete %d: upload must not run", code)
		}
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Reason != reasonDelete || stepErr.StatusCode != code {
			t.Fatalf("delete %d: expected delete StepError, got %v", code, err)
		}
		if result.State != StateAborted {
			t.Fatalf("delete %d: expected aborted, got %s", code, result.State)
		}
	}
}

func TestRunUploadStatusCodes(t *testing.T) {
	for code := 100; code < 600; code++ {
		transport := happyTransport()
		transport.codes[key(http.MethodPost, resourcePlugins)] = code
		plan := testPlan(t)
		plan.DoRestart = true

		result, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background())

		restarted := transport.count(http.MethodPost, resourceRestart) > 0
		if code == http.StatusCreated || code == http.StatusNoContent {
			if err != nil || !restarted || result.State != StateCompleted {
				t.Fatalf("upload %d: expected restart and completion, got err=%v", code, err)
			}
			continue
		}
		if restarted {
			t.Fatalf("upload %d: restart must not be requested", code)
		}
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Reason != reasonInstall {
			t.Fatalf("upload %d: expected install StepError, got %v", code, err)
		}
	}
}

func TestRunUploadForbiddenSkipsRestart(t *testing.T) {
	transport := happyTransport()
	transport.codes[key(http.MethodPost, resourcePlugins)] = http.StatusForbidden
	plan := testPlan(t)
	plan.DoRestart = true
	plan.WaitForRestart = true

	result, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if result.State != StateAborted {
		t.Fatalf("expected aborted, got %s", result.State)
	}
	for _, want := range []string{"install failed", "upload plugin", "403", "not authorized"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %q", err, want)
		}
	}
	if result.Reason != err.Error() {
		t.Fatalf("result reason %q differs from error %q", result.Reason, err)
	}
	if transport.count(http.MethodPost, resourceRestart) != 0 {
		t.Fatal("restart must not be requested after a failed upload")
	}
}

func TestRunRestartWithoutWait(t *testing.T) {
	transport := happyTransport()
	clock := &fakeClock{}
	plan := testPlan(t)
	plan.DoRestart = true

	result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if transport.count(http.MethodPost, resourceRestart) != 1 {
		t.Fatalf("expected exactly one restart request, got %d", transport.count(http.MethodPost, resourceRestart))
	}
	if len(clock.delays) != 0 {
		t.Fatalf("expected no wait, got %d delays", len(clock.delays))
	}
	if result.WaitTimedOut {
		t.Fatal("no wait means no timeout")
	}

	restart := transport.calls[len(transport.calls)-1]
	if restart.baseURL != "https://vro.local:8283/vco-controlcenter/api" {
		t.Fatalf("restart must target the config API, got %s", restart.baseURL)
	}
	if restart.req.Credentials.Username != "root" || restart.req.Credentials.Password != "config-secret" {
		t.Fatalf("restart must use config credentials, got %s", restart.req.Credentials)
	}
	if restart.req.Artifact != nil {
		t.Fatal("restart request must have no payload")
	}
}

func TestRunRestartFailure(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway} {
		transport := happyTransport()
		transport.codes[key(http.MethodPost, resourceRestart)] = code
		clock := &fakeClock{}
		plan := testPlan(t)
		plan.DoRestart = true
		plan.WaitForRestart = true

		result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(clock)).Run(context.Background())
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Reason != reasonRestart || stepErr.Operation != status.RestartService {
			t.Fatalf("restart %d: expected restart StepError, got %v", code, err)
		}
		if result.State != StateAborted {
			t.Fatalf("restart %d: expected aborted, got %s", code, result.State)
		}
		if len(clock.delays) != 0 {
			t.Fatalf("restart %d: must not wait after a failed restart", code)
		}
	}
}

func TestRunWaitFixedSchedule(t *testing.T) {
	transport := happyTransport()
	clock := &fakeClock{}
	plan := testPlan(t)
	plan.DoRestart = true
	plan.WaitForRestart = true

	result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(clock.delays) != 10 {
		t.Fatalf("expected 10 sleep cycles, got %d", len(clock.delays))
	}
	for i, d := range clock.delays {
		if d != 30*time.Second {
			t.Fatalf("delay %d: expected 30s, got %s", i, d)
		}
	}
	if !result.WaitTimedOut {
		t.Fatal("expected timeout indication")
	}
	if result.State != StateCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if transport.count(http.MethodGet, resourceServiceStatus) != 0 {
		t.Fatal("no status probe expected without health check")
	}
}

func TestRunWaitHealthCheck(t *testing.T) {
	transport := happyTransport()
	clock := &fakeClock{}
	plan := testPlan(t)
	plan.DoRestart = true
	plan.WaitForRestart = true
	plan.HealthCheck = true

	result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(clock.delays) != 1 {
		t.Fatalf("expected early exit after one delay, got %d", len(clock.delays))
	}
	if result.WaitTimedOut {
		t.Fatal("service answered, no timeout expected")
	}
	probe := transport.calls[len(transport.calls)-1]
	if probe.req.Method != http.MethodGet || probe.baseURL != "https://vro.local:8283/vco-controlcenter/api" {
		t.Fatalf("unexpected probe %s %s%s", probe.req.Method, probe.baseURL, probe.req.Resource)
	}
}

func TestRunWaitHealthCheckNeverReady(t *testing.T) {
	transport := happyTransport()
	transport.errs = map[string]error{key(http.MethodGet, resourceServiceStatus): errors.New("connection refused")}
	clock := &fakeClock{}
	plan := testPlan(t)
	plan.DoRestart = true
	plan.WaitForRestart = true
	plan.HealthCheck = true

	result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("probe failures must not fail the run: %v", err)
	}
	if len(clock.delays) != 10 || !result.WaitTimedOut {
		t.Fatalf("expected full budget and timeout, got %d delays timedOut=%t", len(clock.delays), result.WaitTimedOut)
	}
	if transport.count(http.MethodGet, resourceServiceStatus) != 10 {
		t.Fatalf("expected one probe per attempt, got %d", transport.count(http.MethodGet, resourceServiceStatus))
	}
}

// blockingClock never fires.
type blockingClock struct{}

func (blockingClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func TestRunWaitCancelled(t *testing.T) {
	transport := happyTransport()
	plan := testPlan(t)
	plan.DoRestart = true
	plan.WaitForRestart = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewDeployer(transport, plan, testEndpoint(), WithClock(blockingClock{})).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !strings.Contains(err.Error(), reasonWaitAborted) {
		t.Fatalf("error %q should mention %q", err, reasonWaitAborted)
	}
	if result.State != StateAborted {
		t.Fatalf("expected aborted, got %s", result.State)
	}
}

func TestRunArtifactNotFound(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.dar") }},
		{"directory", func(t *testing.T) string { return t.TempDir() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := happyTransport()
			plan := testPlan(t)
			plan.DoDelete = true
			plan.Artifact.Path = tt.path(t)

			result, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background())
			if !errors.Is(err, ErrArtifactNotFound) {
				t.Fatalf("expected ErrArtifactNotFound, got %v", err)
			}
			if len(transport.calls) != 0 {
				t.Fatalf("no request expected, got %d", len(transport.calls))
			}
			if result.State != StateAborted {
				t.Fatalf("expected aborted, got %s", result.State)
			}
		})
	}
}

func TestRunTransportError(t *testing.T) {
	transport := happyTransport()
	transport.errs = map[string]error{key(http.MethodPost, resourcePlugins): errors.New("connection refused")}

	_, err := NewDeployer(transport, testPlan(t), testEndpoint()).Run(context.Background())
	var transportErr *client.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), reasonInstall) {
		t.Fatalf("error %q should start with %q", err, reasonInstall)
	}
}

func TestRunRecordsSteps(t *testing.T) {
	transport := happyTransport()
	plan := testPlan(t)
	plan.DoDelete = true
	plan.DoRestart = true

	result, err := NewDeployer(transport, plan, testEndpoint()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []State{StateDeleting, StateUploading, StateRestarting}
	if len(result.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(result.Steps))
	}
	for i, s := range want {
		if result.Steps[i].State != s {
			t.Fatalf("step %d: expected %s, got %s", i, s, result.Steps[i].State)
		}
	}
}

func TestRunTwice(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusForbidden} {
		transport := happyTransport()
		transport.codes[key(http.MethodPost, resourcePlugins)] = code
		d := NewDeployer(transport, testPlan(t), testEndpoint())
		d.Run(context.Background())
		state := d.State()
		if !state.Terminal() {
			t.Fatalf("upload %d: expected terminal state, got %s", code, state)
		}

		if _, err := d.Run(context.Background()); err == nil {
			t.Fatalf("upload %d: second run must be rejected", code)
		}
		if d.State() != state || len(transport.calls) != 1 {
			t.Fatalf("upload %d: second run must not change state or call the server", code)
		}
	}
}

func TestRunCarriesRunID(t *testing.T) {
	transport := happyTransport()
	transport.codes[key(http.MethodPost, resourcePlugins)] = http.StatusUnauthorized

	result, err := NewDeployer(transport, testPlan(t), testEndpoint(), WithRunID("3f1c")).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if result.RunID != "3f1c" {
		t.Fatalf("expected run ID on aborted result, got %q", result.RunID)
	}
}
