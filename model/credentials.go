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

import "encoding/json"

const redacted = "******"

// Credentials is a Basic authentication pair. Formatting and JSON encoding
// never expose the password.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":" + redacted
}

func (c Credentials) GoString() string {
	return "model.Credentials{" + c.String() + "}"
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}
