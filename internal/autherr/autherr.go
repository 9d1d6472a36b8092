// Package autherr defines the failure taxonomy of a login attempt.
//
// Every failure carries a Fault so the host can tell "ask the user to log in
// again" apart from "page an operator". None of the types hold secret material.
package autherr

import (
	"errors"
	"fmt"
)

// Fault says who is responsible for a failure.
type Fault string

const (
	// CallerFault means the visitor can retry the login or is not allowed in.
	CallerFault Fault = "caller"
	// SystemFault means the provider, the store, or the host misbehaved.
	SystemFault Fault = "system"
)

// Kind names a failure for logs and metrics.
type Kind string

const (
	KindConfig         Kind = "config"
	KindState          Kind = "state"
	KindTokenExchange  Kind = "token_exchange"
	KindProfileFetch   Kind = "profile_fetch"
	KindDomainRejected Kind = "domain_rejected"
	KindHook           Kind = "hook"
	KindStore          Kind = "store"
	KindUnknown        Kind = "unknown"
)

// classified is implemented by every error in this package.
type classified interface {
	error
	Kind() Kind
	Fault() Fault
}

// ConfigError reports an invalid startup configuration. The process must not
// serve traffic with it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Kind() Kind   { return KindConfig }
func (e *ConfigError) Fault() Fault { return SystemFault }

// StateReason explains why an anti-forgery token was refused.
type StateReason string

const (
	StateMissing StateReason = "missing"
	StateUnknown StateReason = "unknown"
	StateExpired StateReason = "expired"
)

// StateError reports an invalid, expired or replayed anti-forgery token.
type StateError struct {
	Reason StateReason
}

func (e *StateError) Error() string {
	return fmt.Sprintf("authorization state %s, please retry login", e.Reason)
}

func (e *StateError) Kind() Kind   { return KindState }
func (e *StateError) Fault() Fault { return CallerFault }

// TokenExchangeError reports a failed code-for-token exchange.
type TokenExchangeError struct {
	Err error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }
func (e *TokenExchangeError) Kind() Kind    { return KindTokenExchange }
func (e *TokenExchangeError) Fault() Fault  { return SystemFault }

// ProfileFetchError reports a failed or malformed user-info lookup.
type ProfileFetchError struct {
	Err error
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("profile fetch failed: %v", e.Err)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }
func (e *ProfileFetchError) Kind() Kind    { return KindProfileFetch }
func (e *ProfileFetchError) Fault() Fault  { return SystemFault }

// DomainRejected reports an identity outside the allow-listed domains.
// Domain is empty when the identity had no email.
type DomainRejected struct {
	Domain string
}

func (e *DomainRejected) Error() string {
	if e.Domain == "" {
		return "identity without an email domain is not authorized for this application"
	}
	return fmt.Sprintf("domain '%s' is not authorized for this application", e.Domain)
}

func (e *DomainRejected) Kind() Kind   { return KindDomainRejected }
func (e *DomainRejected) Fault() Fault { return CallerFault }

// HookError reports a failure of the host enrichment hook.
type HookError struct {
	Err error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("claims enrichment failed: %v", e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
func (e *HookError) Kind() Kind    { return KindHook }
func (e *HookError) Fault() Fault  { return SystemFault }

// StoreError reports a persistence failure of a state or session.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Kind() Kind    { return KindStore }
func (e *StoreError) Fault() Fault  { return SystemFault }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var c classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}

// FaultOf returns the fault of the first classified error in err's chain.
// Unclassified errors are system faults.
func FaultOf(err error) Fault {
	var c classified
	if errors.As(err, &c) {
		return c.Fault()
	}
	return SystemFault
}
