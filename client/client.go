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
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeOctetStream = "application/octet-stream"

	partFile      = "file"
	partFormat    = "format"
	partOverwrite = "overwrite"
)

// Options tune the HTTP client of a run.
type Options struct {
	Timeout time.Duration
	// Insecure disables TLS certificate verification, for servers running
	// with self-signed certificates.
	Insecure bool
	// MultipartContentType declares the multipart boundary as content type
	// of plugin uploads instead of "application/json".
	MultipartContentType bool
}

// Client executes Requests against a base URL using Basic authentication.
type Client struct {
	httpClient           *http.Client
	multipartContentType bool
}

func NewClient(opts Options) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		multipartContentType: opts.MultipartContentType,
	}
}

// Execute sends the request to baseURL+req.Resource and returns the
// status code and body. HTTP error statuses are not errors at this level;
// only failures to complete the call are, reported as *TransportError.
func (c *Client) Execute(ctx context.Context, baseURL string, req *Request) (*Response, error) {
	target := baseURL + req.Resource

	u, err := url.Parse(target)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &TransportError{URL: target, Err: errors.New("base URL must be absolute")}
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	contentType := contentTypeJSON
	if req.Method == http.MethodPost && req.Artifact != nil {
		buf, multipartType, err := encodeArtifact(req.Artifact.Path, req.Artifact.Kind.String(), req.Artifact.Overwrite)
		if err != nil {
			return nil, &TransportError{URL: u.String(), Err: err}
		}
		body = buf
		if c.multipartContentType {
			contentType = multipartType
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, &TransportError{URL: u.String(), Err: err}
	}
	httpReq.SetBasicAuth(req.Credentials.Username, req.Credentials.Password)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", contentTypeJSON)

	start := time.Now()
	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: u.String(), Err: err}
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &TransportError{URL: u.String(), Err: errors.Wrap(err, "failed to read response body")}
	}
	elapsed := time.Since(start).Milliseconds()

	log.Debugf("%-6s %-70s %d (%6d ms)", req.Method, u.String(), response.StatusCode, elapsed)

	return &Response{
		StatusCode: response.StatusCode,
		Body:       string(data),
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeArtifact builds the three-part multipart body expected by the
// plugin upload resource.
func encodeArtifact(path, format string, overwrite bool) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open plugin file")
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		partFile, quoteEscaper.Replace(filepath.Base(path))))
	h.Set("Content-Type", contentTypeOctetStream)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", errors.Wrap(err, "failed to read plugin file")
	}
	if err := w.WriteField(partFormat, format); err != nil {
		return nil, "", err
	}
	if err := w.WriteField(partOverwrite, strconv.FormatBool(overwrite)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
