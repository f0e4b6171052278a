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

// Package credential looks up the passwords of the server APIs when they
// are not given explicitly.
package credential

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// KeyringService is the service name entries are stored under in the
// OS keyring.
const KeyringService = "vro-deploy"

// Resolver finds a password in, by order of precedence, the explicit
// value, the OS keyring and an interactive prompt.
type Resolver struct {
	UseKeyring bool
	Prompt     bool

	in           *os.File
	out          io.Writer
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

func NewResolver(useKeyring, prompt bool) *Resolver {
	return &Resolver{
		UseKeyring:   useKeyring,
		Prompt:       prompt,
		in:           os.Stdin,
		out:          os.Stderr,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// Key is the keyring entry name of user on one API of host.
func Key(host, api, user string) string {
	return fmt.Sprintf("%s/%s:%s", host, api, user)
}

// Password returns value when it is not empty. Otherwise it tries the
// keyring then the prompt, and returns an empty string if neither
// produced a password.
func (r *Resolver) Password(host, api, user, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	key := Key(host, api, user)

	if r.UseKeyring {
		secret, err := keyring.Get(KeyringService, key)
		switch {
		case err == nil:
			log.Debugf("password for %s found in keyring", key)
			return secret, nil
		case errors.Is(err, keyring.ErrNotFound):
			log.Debugf("no keyring entry for %s", key)
		default:
			log.Debugf("keyring unavailable: %v", err)
		}
	}

	if r.Prompt && r.isTerminal(int(r.in.Fd())) {
		return r.ReadPassword("Password for " + key)
	}
	return "", nil
}

// Store saves a password in the keyring.
func Store(host, api, user, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	key := Key(host, api, user)
	if err := keyring.Set(KeyringService, key, password); err != nil {
		return errors.Wrapf(err, "failed to store %s in keyring", key)
	}
	log.Infof("password for %s stored in keyring", key)
	return nil
}

// Delete removes a password from the keyring.
func Delete(host, api, user string) error {
	key := Key(host, api, user)
	if err := keyring.Delete(KeyringService, key); err != nil {
		return errors.Wrapf(err, "failed to delete %s from keyring", key)
	}
	log.Infof("password for %s removed from keyring", key)
	return nil
}

// ReadPassword prompts for a password on the terminal.
func (r *Resolver) ReadPassword(label string) (string, error) {
	if !r.isTerminal(int(r.in.Fd())) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprintf(r.out, "%s: ", label)
	data, err := r.readPassword(int(r.in.Fd()))
	fmt.Fprint(r.out, "\n")
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(data), nil
}
