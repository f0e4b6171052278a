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
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/o11n/vro-deploy/config"
	"github.com/o11n/vro-deploy/model"
)

var version = "dev"

func main() {
	doMain(os.Args)
}

func deploymentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:   "config",
			Usage:  "Path to a YAML configuration file",
			EnvVar: "VRO_CONFIG",
		},
		&cli.StringFlag{
			Name:   "host",
			Usage:  "Orchestrator server host or IP",
			Value:  model.DefaultHost,
			EnvVar: "VRO_HOST",
		},
		&cli.IntFlag{
			Name:   "service-port",
			Usage:  "Port of the plugin service REST API",
			Value:  model.DefaultServicePort,
			EnvVar: "VRO_SERVICE_PORT",
		},
		&cli.IntFlag{
			Name:   "config-port",
			Usage:  "Port of the control center REST API",
			Value:  model.DefaultConfigPort,
			EnvVar: "VRO_CONFIG_PORT",
		},
		&cli.StringFlag{
			Name:   "service-user",
			Usage:  "User of the plugin service REST API",
			Value:  model.DefaultServiceUser,
			EnvVar: "VRO_SERVICE_USER",
		},
		&cli.StringFlag{
			Name:   "service-password",
			Usage:  "Password of the plugin service REST API (default: keyring, prompt, then \"vcoadmin\")",
			EnvVar: "VRO_SERVICE_PASSWORD",
		},
		&cli.StringFlag{
			Name:   "config-user",
			Usage:  "User of the control center REST API",
			Value:  model.DefaultConfigUser,
			EnvVar: "VRO_CONFIG_USER",
		},
		&cli.StringFlag{
			Name:   "config-password",
			Usage:  "Password of the control center REST API (default: keyring, then prompt)",
			EnvVar: "VRO_CONFIG_PASSWORD",
		},
		&cli.StringFlag{
			Name:   "artifact-dir",
			Usage:  "Directory containing the plugin file",
			Value:  model.DefaultArtifactDir,
			EnvVar: "VRO_ARTIFACT_DIR",
		},
		&cli.StringFlag{
			Name:   "file-name",
			Usage:  "Plugin file name, the bundle suffix is appended when missing",
			EnvVar: "VRO_FILE_NAME",
		},
		&cli.StringFlag{
			Name:   "bundle",
			Usage:  "Plugin bundle kind: DAR or VMOAPP",
			Value:  model.BundleDAR.String(),
			EnvVar: "VRO_BUNDLE",
		},
		&cli.BoolFlag{
			Name:   "overwrite",
			Usage:  "Overwrite an already installed plugin",
			EnvVar: "VRO_OVERWRITE",
		},
		&cli.BoolFlag{
			Name:   "delete-package",
			Usage:  "Delete the plugin package before installing",
			EnvVar: "VRO_DELETE_PACKAGE",
		},
		&cli.StringFlag{
			Name:   "package-name",
			Usage:  "Name of the package to delete",
			EnvVar: "VRO_PACKAGE_NAME",
		},
		&cli.StringFlag{
			Name:   "delete-strategy",
			Usage:  "deletePackage, deletePackageWithContent or deletePackageKeepingShared",
			Value:  model.DefaultDeleteStrategy.Label(),
			EnvVar: "VRO_DELETE_STRATEGY",
		},
		&cli.BoolFlag{
			Name:   "restart",
			Usage:  "Restart the orchestrator service after installing",
			EnvVar: "VRO_RESTART",
		},
		&cli.BoolFlag{
			Name:   "wait",
			Usage:  "Wait for the service restart to complete",
			EnvVar: "VRO_WAIT",
		},
		&cli.BoolFlag{
			Name:   "health-check",
			Usage:  "Poll the control center status while waiting for the restart",
			EnvVar: "VRO_HEALTH_CHECK",
		},
		&cli.BoolFlag{
			Name:   "insecure",
			Usage:  "Skip TLS certificate verification",
			EnvVar: "VRO_INSECURE",
		},
		&cli.BoolFlag{
			Name:   "multipart-content-type",
			Usage:  "Declare multipart/form-data instead of application/json as content type of plugin uploads",
			EnvVar: "VRO_MULTIPART_CONTENT_TYPE",
		},
		&cli.DurationFlag{
			Name:   "timeout",
			Usage:  "Timeout of a single request",
			Value:  model.DefaultRequestTimeout,
			EnvVar: "VRO_TIMEOUT",
		},
		&cli.BoolTFlag{
			Name:   "keyring",
			Usage:  "Look up missing passwords in the OS keyring",
			EnvVar: "VRO_KEYRING",
		},
		&cli.BoolFlag{
			Name:   "prompt",
			Usage:  "Prompt for missing passwords when attached to a terminal",
			EnvVar: "VRO_PROMPT",
		},
	}
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:   "host",
			Usage:  "Orchestrator server host or IP",
			Value:  model.DefaultHost,
			EnvVar: "VRO_HOST",
		},
		&cli.StringFlag{
			Name:  "api",
			Usage: "API the password belongs to: service or config",
			Value: apiService,
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "User name",
		},
	}
}

func doMain(args []string) {
	app := &cli.App{
		Name:    "vro-deploy",
		Usage:   "Deploy plugin bundles to an orchestrator server",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug mode",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
				Value: "text",
			},
		},
		Before: setupLogging,
		Commands: []cli.Command{
			{
				Name:   "deploy",
				Usage:  "Install a plugin, optionally deleting the old package and restarting the service",
				Action: cmdDeploy,
				Flags:  deploymentFlags(),
			},
			{
				Name:   "validate",
				Usage:  "Check the configuration and the plugin file without contacting the server",
				Action: cmdValidate,
				Flags:  deploymentFlags(),
			},
			{
				Name:  "credentials",
				Usage: "Manage passwords stored in the OS keyring",
				Subcommands: []cli.Command{
					{
						Name:   "set",
						Usage:  "Prompt for a password and store it",
						Action: cmdCredentialsSet,
						Flags:  credentialFlags(),
					},
					{
						Name:   "delete",
						Usage:  "Remove a stored password",
						Action: cmdCredentialsDelete,
						Flags:  credentialFlags(),
					},
				},
			},
		},
	}

	err := app.Run(args)
	if err != nil {
		log.Fatal(err)
	}
}

func setupLogging(args *cli.Context) error {
	if args.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	switch args.String("log-format") {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return cli.NewExitError("unknown log format "+args.String("log-format"), exitConfiguration)
	}
	return nil
}

// runConfigFromContext layers the defaults, the configuration file and
// the flags that were explicitly set, in that order.
func runConfigFromContext(args *cli.Context) (*model.RunConfig, error) {
	cfg := model.NewRunConfig()

	if path := args.String("config"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, &model.ConfigurationError{Field: "config", Msg: err.Error()}
		}
		f.Apply(cfg)
	}

	strs := map[string]*string{
		"host":             &cfg.Host,
		"service-user":     &cfg.ServiceUser,
		"service-password": &cfg.ServicePassword,
		"config-user":      &cfg.ConfigUser,
		"config-password":  &cfg.ConfigPassword,
		"artifact-dir":     &cfg.ArtifactDir,
		"file-name":        &cfg.FileName,
		"bundle":           &cfg.Bundle,
		"package-name":     &cfg.PackageName,
		"delete-strategy":  &cfg.DeleteStrategy,
	}
	for name, dst := range strs {
		if args.IsSet(name) {
			*dst = args.String(name)
		}
	}

	ints := map[string]*int{
		"service-port": &cfg.ServicePort,
		"config-port":  &cfg.ConfigPort,
	}
	for name, dst := range ints {
		if args.IsSet(name) {
			*dst = args.Int(name)
		}
	}

	bools := map[string]*bool{
		"overwrite":              &cfg.Overwrite,
		"delete-package":         &cfg.DeletePackage,
		"restart":                &cfg.RestartService,
		"wait":                   &cfg.WaitForRestart,
		"health-check":           &cfg.HealthCheck,
		"insecure":               &cfg.Insecure,
		"multipart-content-type": &cfg.MultipartContentType,
	}
	for name, dst := range bools {
		if args.IsSet(name) {
			*dst = args.Bool(name)
		}
	}

	if args.IsSet("timeout") {
		cfg.Timeout = args.Duration("timeout")
	}
	return cfg, nil
}
