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
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultHost           = "localhost"
	DefaultServicePort    = 8281
	DefaultConfigPort     = 8283
	DefaultServiceUser    = "vcoadmin"
	DefaultServicePass    = "vcoadmin"
	DefaultConfigUser     = "root"
	DefaultArtifactDir    = "target"
	DefaultRequestTimeout = 5 * time.Minute
)

// RunConfig holds the options of one run as given by the user, before
// validation.
type RunConfig struct {
	Host                 string
	ServicePort          int
	ConfigPort           int
	ServiceUser          string
	ServicePassword      string
	ConfigUser           string
	ConfigPassword       string
	ArtifactDir          string
	FileName             string
	Bundle               string
	Overwrite            bool
	RestartService       bool
	WaitForRestart       bool
	HealthCheck          bool
	DeletePackage        bool
	DeleteStrategy       string
	PackageName          string
	Insecure             bool
	MultipartContentType bool
	Timeout              time.Duration
}

// NewRunConfig returns a RunConfig populated with the defaults.
func NewRunConfig() *RunConfig {
	return &RunConfig{
		Host:           DefaultHost,
		ServicePort:    DefaultServicePort,
		ConfigPort:     DefaultConfigPort,
		ServiceUser:    DefaultServiceUser,
		ConfigUser:     DefaultConfigUser,
		ArtifactDir:    DefaultArtifactDir,
		Bundle:         BundleDAR.String(),
		DeleteStrategy: DefaultDeleteStrategy.Label(),
		Timeout:        DefaultRequestTimeout,
	}
}

// Resolve validates the configuration and turns it into the immutable
// plan and endpoint description used by a deployment.
func (c *RunConfig) Resolve() (*DeploymentPlan, *EndpointConfig, error) {
	if strings.TrimSpace(c.Host) == "" {
		return nil, nil, &ConfigurationError{Field: "host", Msg: "must not be empty"}
	}
	if err := checkPort("service-port", c.ServicePort); err != nil {
		return nil, nil, err
	}
	if err := checkPort("config-port", c.ConfigPort); err != nil {
		return nil, nil, err
	}
	if c.ServiceUser == "" {
		return nil, nil, &ConfigurationError{Field: "service-user", Msg: "must not be empty"}
	}
	if c.ServicePassword == "" {
		return nil, nil, &ConfigurationError{Field: "service-password", Msg: "must not be empty"}
	}
	if strings.TrimSpace(c.FileName) == "" {
		return nil, nil, &ConfigurationError{Field: "file-name", Msg: "must not be empty"}
	}

	kind := BundleDAR
	if c.Bundle != "" {
		var err error
		if kind, err = ParseBundleKind(c.Bundle); err != nil {
			return nil, nil, err
		}
	}

	wait := c.WaitForRestart
	if wait && !c.RestartService {
		log.Debug("wait-for-restart ignored, restart-service is not enabled")
		wait = false
	}
	if c.RestartService && c.ConfigUser == "" {
		return nil, nil, &ConfigurationError{
			Field: "config-user",
			Msg:   "must be defined when restart-service is enabled",
		}
	}

	strategy := DefaultDeleteStrategy
	if c.DeletePackage {
		if strings.TrimSpace(c.PackageName) == "" {
			return nil, nil, &ConfigurationError{
				Field: "package-name",
				Msg:   "must be defined when delete-package is enabled",
			}
		}
		if c.DeleteStrategy != "" {
			var err error
			if strategy, err = ParseDeleteStrategy(c.DeleteStrategy); err != nil {
				return nil, nil, err
			}
		}
	}

	plan := &DeploymentPlan{
		DoDelete:       c.DeletePackage,
		PackageName:    c.PackageName,
		DeleteStrategy: strategy,
		Artifact: ArtifactDescriptor{
			Path:      artifactPath(c.ArtifactDir, c.FileName, kind),
			Kind:      kind,
			Overwrite: c.Overwrite,
		},
		DoRestart:      c.RestartService,
		WaitForRestart: wait,
		HealthCheck:    wait && c.HealthCheck,
	}
	endpoint := &EndpointConfig{
		Host:        c.Host,
		ServicePort: c.ServicePort,
		ConfigPort:  c.ConfigPort,
		ServiceCredentials: Credentials{
			Username: c.ServiceUser,
			Password: c.ServicePassword,
		},
		ConfigCredentials: Credentials{
			Username: c.ConfigUser,
			Password: c.ConfigPassword,
		},
	}
	return plan, endpoint, nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ConfigurationError{Field: field, Msg: "is over port range [1-65535]"}
	}
	return nil
}

func artifactPath(dir, name string, kind BundleKind) string {
	if !strings.HasSuffix(strings.ToLower(name), kind.Suffix()) {
		name += kind.Suffix()
	}
	return filepath.Join(dir, name)
}
