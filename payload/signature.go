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

package payload

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"

	"github.com/coreos/pkg/capnslog"
)

const signatureHash = crypto.SHA256

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "payload")

// NewHash returns a fresh streaming hash of the algorithm the payload
// format signs with. The processor feeds every data-blob byte through
// it as it streams the payload to disk (spec.md §4.4 point 7).
func NewHash() hash.Hash {
	return signatureHash.New()
}

// VerifySignature checks sum (the running payload hash at the
// signature offset) against sig using pubKeyPEM, an RSA public key in
// PEM/PKIX form. A nil error means sig is a valid signature of sum.
func VerifySignature(sum, sig []byte, pubKeyPEM []byte) error {
	pemBlock, _ := pem.Decode(pubKeyPEM)
	if pemBlock == nil {
		return fmt.Errorf("payload: unable to parse public key PEM")
	}

	somePub, err := x509.ParsePKIXPublicKey(pemBlock.Bytes)
	if err != nil {
		return fmt.Errorf("payload: parsing public key: %w", err)
	}

	rsaPub, ok := somePub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("payload: unexpected public key type %T", somePub)
	}

	if err := rsa.VerifyPKCS1v15(rsaPub, signatureHash, sum, sig); err != nil {
		return fmt.Errorf("payload: signature verification failed: %w", err)
	}
	plog.Infof("payload signature verified")
	return nil
}

// Sign produces a PKCS#1v1.5 signature of sum using the PEM/PKCS#1
// private key privKeyPEM. Used by test fixtures and the payload
// generator path; the running processor only ever verifies.
func Sign(sum []byte, privKeyPEM []byte) ([]byte, error) {
	pemBlock, _ := pem.Decode(privKeyPEM)
	if pemBlock == nil {
		return nil, fmt.Errorf("payload: unable to parse private key PEM")
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(pemBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("payload: parsing private key: %w", err)
	}

	return rsa.SignPKCS1v15(rand.Reader, rsaKey, signatureHash, sum)
}
