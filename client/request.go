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

package client

import (
	"fmt"
	"net/url"

	"github.com/o11n/vro-deploy/model"
)

// Request describes a single call to one of the server APIs. A Request is
// built for one call and never reused.
type Request struct {
	Resource    string
	Method      string
	Credentials model.Credentials
	Query       url.Values
	Artifact    *model.ArtifactDescriptor
}

// AddQueryParam appends a query parameter to the request.
func (r *Request) AddQueryParam(key, value string) {
	if r.Query == nil {
		r.Query = url.Values{}
	}
	r.Query.Add(key, value)
}

func (r *Request) String() string {
	s := fmt.Sprintf("%s %s (auth %s)", r.Method, r.Resource, r.Credentials)
	if len(r.Query) > 0 {
		s += " ?" + r.Query.Encode()
	}
	if r.Artifact != nil {
		s += fmt.Sprintf(" file=%s format=%s overwrite=%t",
			r.Artifact.Path, r.Artifact.Kind, r.Artifact.Overwrite)
	}
	return s
}

// Response is the normalized outcome of an executed Request.
type Response struct {
	StatusCode int
	Body       string
}

// TransportError is returned when a request could not be completed: the
// URL could not be built, the payload could not be read, or the network
// call itself failed.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error while calling server API '%s': %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
