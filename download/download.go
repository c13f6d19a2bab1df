// Copyright 2016 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package download implements the HTTP(S) byte sink the payload
// processor reads from: range-resumable, cancellable, with a
// certificate-pinning hook on every handshake (spec.md §4.3).
package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coreos/pkg/capnslog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/installplan"
	"github.com/flatcar/update-engine/util"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "download")

// VerifyPeerCertificate is the certificate-pinning hook spec.md §4.3
// requires on every TLS handshake. A nil return accepts the
// connection; any non-nil error rejects it, which Fetch reports as
// action.CodeErrorSecurity.
type VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// Downloader fetches a payload's bytes, honoring installplan.Plan's
// resume offset and the caller's certificate-pinning policy.
type Downloader struct {
	Client *retryablehttp.Client

	// VerifyPeerCertificate, if set, is installed as the TLS config's
	// peer-certificate callback for every request.
	VerifyPeerCertificate VerifyPeerCertificate

	// ResumeOffset is the byte offset to request via a Range header;
	// zero means fetch from the start.
	ResumeOffset int64
}

// NewDownloader builds a Downloader with a retryablehttp client
// configured for this package's logger and pinning hook.
func NewDownloader(verify VerifyPeerCertificate) *Downloader {
	client := retryablehttp.NewClient()
	client.Logger = nil // retryablehttp logs are routed through plog.RequestLog below instead
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		plog.Infof("fetching %s (attempt %d)", req.URL, attempt+1)
	}

	d := &Downloader{Client: client, VerifyPeerCertificate: verify}
	client.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			VerifyPeerCertificate: d.verifyPeerCertificate,
		},
	}
	return d
}

func (d *Downloader) verifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if d.VerifyPeerCertificate == nil {
		return nil
	}
	return d.VerifyPeerCertificate(rawCerts, verifiedChains)
}

// Result is the open byte stream handed to the payload processor,
// positioned at ResumeOffset if one was requested.
type Result struct {
	Plan   installplan.Plan
	Body   *responseBody
	Size   int64
}

// Fetch implements action.Step[installplan.Plan, Result]: it issues
// the GET (optionally ranged) and returns once headers are received,
// leaving the body to be streamed by the payload processor.
func (d *Downloader) Fetch(ctx context.Context, plan installplan.Plan) (Result, action.Code, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, plan.DownloadURL, nil)
	if err != nil {
		return Result{}, action.CodeErrorInternal, fmt.Errorf("download: building request: %w", err)
	}
	if d.ResumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", d.ResumeOffset))
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		if isCertError(err) {
			return Result{}, action.CodeErrorSecurity, fmt.Errorf("download: certificate rejected: %w", err)
		}
		return Result{}, action.CodeErrorNetwork, fmt.Errorf("download: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return Result{}, action.CodeErrorNetwork, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	body := &responseBody{
		ReadCloser: resp.Body,
		total:      resp.ContentLength,
	}
	return Result{Plan: plan, Body: body, Size: resp.ContentLength}, action.CodeSuccess, nil
}

func (d *Downloader) Terminate() {}

func isCertError(err error) bool {
	var unknownAuth x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	return errors.As(err, &unknownAuth) || errors.As(err, &hostname) || errors.As(err, &certInvalid)
}

// responseBody wraps the HTTP response body, reporting progress
// through util.CopyProgress's draw machinery as the processor reads.
type responseBody struct {
	io.ReadCloser
	total int64
}

// CopyTo drains the body into w, logging progress via util.CopyProgress.
func (b *responseBody) CopyTo(w io.Writer) (int64, error) {
	return util.CopyProgress(capnslog.INFO, "fetching payload", w, b, b.total)
}
