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

// Package config loads deployment options from a YAML file.
package config

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/o11n/vro-deploy/model"
)

// envVarPattern matches ${VAR_NAME} patterns in config content.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// File mirrors the command line options. Unset keys leave the
// corresponding option untouched.
type File struct {
	Server   ServerSection   `yaml:"server"`
	Artifact ArtifactSection `yaml:"artifact"`
	Package  PackageSection  `yaml:"package"`
	Restart  RestartSection  `yaml:"restart"`
}

type ServerSection struct {
	Host                 string         `yaml:"host"`
	ServicePort          int            `yaml:"servicePort"`
	ConfigPort           int            `yaml:"configPort"`
	ServiceUser          string         `yaml:"serviceUser"`
	ServicePassword      string         `yaml:"servicePassword"`
	ConfigUser           string         `yaml:"configUser"`
	ConfigPassword       string         `yaml:"configPassword"`
	Insecure             *bool          `yaml:"insecure"`
	MultipartContentType *bool          `yaml:"multipartContentType"`
	Timeout              *time.Duration `yaml:"timeout"`
}

type ArtifactSection struct {
	Directory string `yaml:"directory"`
	FileName  string `yaml:"fileName"`
	Bundle    string `yaml:"bundle"`
	Overwrite *bool  `yaml:"overwrite"`
}

type PackageSection struct {
	Delete   *bool  `yaml:"delete"`
	Name     string `yaml:"name"`
	Strategy string `yaml:"strategy"`
}

type RestartSection struct {
	Enabled     *bool `yaml:"enabled"`
	Wait        *bool `yaml:"wait"`
	HealthCheck *bool `yaml:"healthCheck"`
}

// Load reads a YAML configuration file, substitutes ${VAR} references
// with the environment and parses the result. References inside comments
// are ignored. Unknown keys are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: failed to read file %s", path)
	}

	content := stripComments(string(data))
	if err := checkEnvVars(content); err != nil {
		return nil, err
	}
	resolved := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	var f File
	dec := yaml.NewDecoder(bytes.NewReader([]byte(resolved)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "config: failed to parse YAML")
	}
	return &f, nil
}

// checkEnvVars rejects references to environment variables that are not
// set.
func checkEnvVars(data string) error {
	var unresolved []string
	seen := map[string]bool{}
	for _, m := range envVarPattern.FindAllStringSubmatch(data, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := os.LookupEnv(name); !ok {
			unresolved = append(unresolved, "${"+name+"}")
		}
	}
	if len(unresolved) > 0 {
		return errors.Errorf("config: unresolved variables found: %s", strings.Join(unresolved, ", "))
	}
	return nil
}

// stripComments drops YAML comments, leaving quoted scalars intact.
func stripComments(data string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		lines[i] = stripComment(line)
	}
	return strings.Join(lines, "\n")
}

func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t'):
			return line[:i]
		}
	}
	return line
}

// Apply copies every option set in the file onto c.
func (f *File) Apply(c *model.RunConfig) {
	setString(&c.Host, f.Server.Host)
	setInt(&c.ServicePort, f.Server.ServicePort)
	setInt(&c.ConfigPort, f.Server.ConfigPort)
	setString(&c.ServiceUser, f.Server.ServiceUser)
	setString(&c.ServicePassword, f.Server.ServicePassword)
	setString(&c.ConfigUser, f.Server.ConfigUser)
	setString(&c.ConfigPassword, f.Server.ConfigPassword)
	setBool(&c.Insecure, f.Server.Insecure)
	setBool(&c.MultipartContentType, f.Server.MultipartContentType)
	if f.Server.Timeout != nil {
		c.Timeout = *f.Server.Timeout
	}

	setString(&c.ArtifactDir, f.Artifact.Directory)
	setString(&c.FileName, f.Artifact.FileName)
	setString(&c.Bundle, f.Artifact.Bundle)
	setBool(&c.Overwrite, f.Artifact.Overwrite)

	setBool(&c.DeletePackage, f.Package.Delete)
	setString(&c.PackageName, f.Package.Name)
	setString(&c.DeleteStrategy, f.Package.Strategy)

	setBool(&c.RestartService, f.Restart.Enabled)
	setBool(&c.WaitForRestart, f.Restart.Wait)
	setBool(&c.HealthCheck, f.Restart.HealthCheck)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
