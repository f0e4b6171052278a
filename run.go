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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/o11n/vro-deploy/client"
	"github.com/o11n/vro-deploy/credential"
	"github.com/o11n/vro-deploy/deploy"
	"github.com/o11n/vro-deploy/model"
)

const (
	apiService = "service"
	apiConfig  = "config"
)

const (
	exitFailure       = 1
	exitConfiguration = 2
	exitArtifact      = 3
	exitTransport     = 4
	exitStep          = 5
)

func cmdDeploy(args *cli.Context) error {
	config, err := runConfigFromContext(args)
	if err != nil {
		log.Error(err)
		return exitError(err)
	}
	resolver := credential.NewResolver(args.BoolT("keyring"), args.Bool("prompt"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exitError(run(ctx, config, resolver, nil))
}

func cmdValidate(args *cli.Context) error {
	config, err := runConfigFromContext(args)
	if err != nil {
		log.Error(err)
		return exitError(err)
	}
	resolver := credential.NewResolver(args.BoolT("keyring"), false)

	plan, endpoint, err := resolve(config, resolver)
	if err != nil {
		log.Error(err)
		return exitError(err)
	}
	if err := deploy.CheckArtifact(plan.Artifact.Path); err != nil {
		log.Error(err)
		return exitError(err)
	}
	logPlan(log.NewEntry(log.StandardLogger()), plan, endpoint)
	fmt.Printf("Configuration is valid, plugin file %s\n", plan.Artifact.Path)
	return nil
}

func cmdCredentialsSet(args *cli.Context) error {
	host, api, user, err := credentialTarget(args)
	if err != nil {
		log.Error(err)
		return exitError(err)
	}
	password, err := credential.NewResolver(false, true).ReadPassword("Password for " + credential.Key(host, api, user))
	if err != nil {
		return err
	}
	return credential.Store(host, api, user, password)
}

func cmdCredentialsDelete(args *cli.Context) error {
	host, api, user, err := credentialTarget(args)
	if err != nil {
		log.Error(err)
		return exitError(err)
	}
	return credential.Delete(host, api, user)
}

func credentialTarget(args *cli.Context) (string, string, string, error) {
	api := args.String("api")
	if api != apiService && api != apiConfig {
		return "", "", "", &model.ConfigurationError{Field: "api", Msg: "must be service or config"}
	}
	user := args.String("user")
	if user == "" {
		return "", "", "", &model.ConfigurationError{Field: "user", Msg: "must not be empty"}
	}
	return args.String("host"), api, user, nil
}

// run deploys once. transport may be nil, in which case an HTTPS client
// is built from the configuration.
func run(ctx context.Context, config *model.RunConfig, resolver *credential.Resolver, transport deploy.Transport) error {
	runID := uuid.New().String()
	logger := log.WithField("deployment", runID)

	plan, endpoint, err := resolve(config, resolver)
	if err != nil {
		logger.Error(err)
		return err
	}
	logPlan(logger, plan, endpoint)

	if transport == nil {
		transport = client.NewClient(client.Options{
			Timeout:              config.Timeout,
			Insecure:             config.Insecure,
			MultipartContentType: config.MultipartContentType,
		})
	}

	result, err := deploy.NewDeployer(transport, plan, endpoint, deploy.WithRunID(runID), deploy.WithLogger(logger)).Run(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"state":          result.State,
		"requests":       len(result.Steps),
		"wait_timed_out": result.WaitTimedOut,
	}).Info("deployment finished")
	return nil
}

// resolve fills in the passwords that were not given and validates the
// configuration.
func resolve(config *model.RunConfig, resolver *credential.Resolver) (*model.DeploymentPlan, *model.EndpointConfig, error) {
	password, err := resolver.Password(config.Host, apiService, config.ServiceUser, config.ServicePassword)
	if err != nil {
		return nil, nil, err
	}
	if password == "" {
		password = model.DefaultServicePass
	}
	config.ServicePassword = password

	if config.RestartService {
		password, err := resolver.Password(config.Host, apiConfig, config.ConfigUser, config.ConfigPassword)
		if err != nil {
			return nil, nil, err
		}
		config.ConfigPassword = password
	}

	return config.Resolve()
}

func logPlan(logger *log.Entry, plan *model.DeploymentPlan, endpoint *model.EndpointConfig) {
	logger.WithFields(log.Fields{
		"service_url":      endpoint.ServiceBaseURL(),
		"config_url":       endpoint.ConfigBaseURL(),
		"service_auth":     endpoint.ServiceCredentials,
		"config_auth":      endpoint.ConfigCredentials,
		"artifact":         plan.Artifact.Path,
		"bundle":           plan.Artifact.Kind,
		"overwrite":        plan.Artifact.Overwrite,
		"delete_package":   plan.DoDelete,
		"package_name":     plan.PackageName,
		"delete_strategy":  plan.DeleteStrategy.Label(),
		"restart_service":  plan.DoRestart,
		"wait_for_restart": plan.WaitForRestart,
		"health_check":     plan.HealthCheck,
	}).Debug("deployment plan")
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var configErr *model.ConfigurationError
	var stepErr *deploy.StepError
	var transportErr *client.TransportError
	switch {
	case errors.As(err, &configErr):
		return exitConfiguration
	case errors.Is(err, deploy.ErrArtifactNotFound):
		return exitArtifact
	case errors.As(err, &transportErr):
		return exitTransport
	case errors.As(err, &stepErr):
		return exitStep
	}
	return exitFailure
}

// exitError wraps err so that the cli exits with its status. The error
// itself has already been logged.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	return cli.NewExitError("", exitCode(err))
}
