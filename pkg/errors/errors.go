/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors normalizes the error kinds that cross component boundaries so
// callers can branch on what happened without knowing which driver produced it.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned by drivers that were constructed without the
	// credentials or connectivity they need (e.g. no kubeconfig in reach).
	ErrNotConfigured = errors.New("not configured")

	// ErrComposeNotFound is returned when none of the recognized compose file
	// paths exist at the requested ref.
	ErrComposeNotFound = errors.New("compose file not found")
)

// IsNotConfigured returns true if the error indicates a driver running in
// disabled mode.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsComposeNotFound returns true if the error indicates that the repository has
// no compose file at the requested ref.
func IsComposeNotFound(err error) bool {
	return errors.Is(err, ErrComposeNotFound)
}

// FileNotFoundError indicates a repository file that does not exist at the
// requested ref.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %q not found", e.Path)
}

// IsFileNotFound returns true if the error indicates a missing repository file.
func IsFileNotFound(err error) bool {
	if err == nil {
		return false
	}
	var fnf *FileNotFoundError
	return errors.As(err, &fnf)
}

// EnvironmentNotFoundError indicates an environment row that does not exist.
type EnvironmentNotFoundError struct {
	ID int64
}

func (e *EnvironmentNotFoundError) Error() string {
	return fmt.Sprintf("environment %d not found", e.ID)
}

// IsEnvironmentNotFound returns true if the error indicates a missing
// environment row.
func IsEnvironmentNotFound(err error) bool {
	if err == nil {
		return false
	}
	var enf *EnvironmentNotFoundError
	return errors.As(err, &enf)
}

// InvalidTransitionError indicates a status change the environment state
// machine does not permit.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

// IsInvalidTransition returns true if the error indicates an illegal
// environment status transition.
func IsInvalidTransition(err error) bool {
	if err == nil {
		return false
	}
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// ProviderError wraps a failure from an LLM provider call.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s, %s", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError returns true if the error originated in an LLM provider call.
func IsProviderError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ParseError indicates model output that could not be decoded into manifests.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model response, %s", e.Reason)
}

// IsParseError returns true if the error indicates undecodable model output.
func IsParseError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ParseError
	return errors.As(err, &pe)
}

// ValidationError aggregates the blocking problems found in a generated
// manifest set.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating manifests, %s", strings.Join(e.Problems, "; "))
}

// IsValidationError returns true if the error indicates rejected manifests.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}
