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

// Package attempter owns the action graph's lifecycle: it builds the
// per-attempt chain {response_handler → downloader → payload_processor
// → postinstall_runner → bootable_marker}, drives it via
// action.Processor, and exposes the attempt's state to external
// observers (spec.md §4.8).
package attempter

import (
	"context"
	"sync"

	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/bootctl"
	"github.com/flatcar/update-engine/installplan"
	"github.com/flatcar/update-engine/omaha"
	"github.com/flatcar/update-engine/payload"
	"github.com/flatcar/update-engine/payloadstate"
	"github.com/flatcar/update-engine/postinstall"
	"github.com/flatcar/update-engine/prefs"
	"github.com/flatcar/update-engine/responsehandler"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "attempter")

// State is a step in the lifecycle spec.md §4.8 names.
type State int

const (
	StateIdle State = iota
	StateCheckingForUpdate
	StateUpdateAvailable
	StateDownloading
	StateVerifying
	StateFinalizing
	StateUpdatedNeedReboot
	StateReportingError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingForUpdate:
		return "checking-for-update"
	case StateUpdateAvailable:
		return "update-available"
	case StateDownloading:
		return "downloading"
	case StateVerifying:
		return "verifying"
	case StateFinalizing:
		return "finalizing"
	case StateUpdatedNeedReboot:
		return "updated-need-reboot"
	case StateReportingError:
		return "reporting-error"
	default:
		return "unknown"
	}
}

// StatusObserver is notified of every state transition. Implementing a
// system-bus status service on top of this is explicitly out of scope
// (spec.md §1); this is the seam such a service would hang off.
type StatusObserver interface {
	AttempterStateChanged(s State, lastErr action.Code)
}

// RequestOmahaResponse fetches the latest server response. Supplying
// this as a function keeps the attempter decoupled from the concrete
// server-protocol wire format, which spec.md §1 explicitly leaves
// external.
type RequestOmahaResponse func(ctx context.Context) (omaha.UpdateResponse, error)

// OpenPayloadStream opens the byte stream for plan's DownloadURL,
// already positioned for resume if plan.IsResume.
type OpenPayloadStream func(ctx context.Context, plan installplan.Plan) (payload.Input, error)

// PCRPolicyWriter installs the measured-boot PCR policy file for plan's
// new slot at plan.PCRPolicyPath.
type PCRPolicyWriter func(ctx context.Context, plan installplan.Plan) error

// Attempter drives one run of the action graph end to end and tracks
// lifecycle state across runs.
type Attempter struct {
	Prefs           prefs.Store
	PayloadState    *payloadstate.State
	ResponseFunc    RequestOmahaResponse
	OpenPayload     OpenPayloadStream
	ResponseHandler *responsehandler.Handler
	Payload         *payload.Processor
	Postinstall     *postinstall.Runner
	// WritePCRPolicy installs the PCR policy file once postinstall
	// succeeds. WritePCRPolicy (this package's function) is used if nil.
	WritePCRPolicy PCRPolicyWriter
	BootCtl        *bootctl.Setter
	Observer       StatusObserver

	mu    sync.Mutex
	state State
}

// checkForUpdateStep adapts RequestOmahaResponse into the head of the
// action graph: it takes no meaningful input (action.None) and
// produces the raw server response.
type checkForUpdateStep struct {
	fn RequestOmahaResponse
}

func (s *checkForUpdateStep) Perform(ctx context.Context, _ action.None) (omaha.UpdateResponse, action.Code, error) {
	resp, err := s.fn(ctx)
	if err != nil {
		plog.Errorf("requesting update check: %v", err)
		return omaha.UpdateResponse{}, action.CodeErrorNetwork, err
	}
	return resp, action.CodeSuccess, nil
}

// openPayloadStep adapts OpenPayloadStream so it can sit between the
// resolved install plan and the payload processor in the graph.
type openPayloadStep struct {
	fn OpenPayloadStream
}

func (s *openPayloadStep) Perform(ctx context.Context, plan installplan.Plan) (payload.Input, action.Code, error) {
	in, err := s.fn(ctx, plan)
	if err != nil {
		plog.Errorf("opening payload stream: %v", err)
		return payload.Input{}, action.CodeErrorNetwork, err
	}
	return in, action.CodeSuccess, nil
}

// postinstallStep unwraps the payload processor's Result down to the
// installplan.Plan postinstall.Runner actually operates on.
type postinstallStep struct {
	runner *postinstall.Runner
}

func (s *postinstallStep) Perform(ctx context.Context, in payload.Result) (installplan.Plan, action.Code, error) {
	return s.runner.Perform(ctx, in.Plan)
}

// pcrPolicyStep installs the PCR policy file once postinstall has
// succeeded, gated by the action graph's own advance-on-success rule:
// this step never starts unless "postinstall" completed cleanly.
type pcrPolicyStep struct {
	write PCRPolicyWriter
}

func (s *pcrPolicyStep) Perform(ctx context.Context, plan installplan.Plan) (installplan.Plan, action.Code, error) {
	write := s.write
	if write == nil {
		write = WritePCRPolicy
	}
	if err := write(ctx, plan); err != nil {
		plog.Errorf("writing PCR policy file: %v", err)
		return plan, action.CodeErrorIO, err
	}
	return plan, action.CodeSuccess, nil
}

// bootctlStep is the action graph's tail: it asks the bootloader to set
// the freshly-finalized slot as the next boot target. A nil setter
// (tests that don't exercise bootctl) passes the plan through.
type bootctlStep struct {
	setter *bootctl.Setter
}

func (s *bootctlStep) Perform(ctx context.Context, plan installplan.Plan) (installplan.Plan, action.Code, error) {
	if s.setter == nil {
		return plan, action.CodeSuccess, nil
	}
	if err := s.setter.SetNextBootSlot(ctx, plan.NewPartitionPath); err != nil {
		plog.Errorf("setting next boot slot: %v", err)
		return plan, action.CodeErrorIO, err
	}
	return plan, action.CodeSuccess, nil
}

// attemptDelegate drives Attempter's lifecycle-state transitions off of
// the action.Processor's own progress callbacks, and surfaces the
// single action.Code the scheduler backs off on.
type attemptDelegate struct {
	a         *Attempter
	finalCode action.Code
}

func (d *attemptDelegate) ActionCompleted(_ *action.Processor, act action.Action, code action.Code) {
	if code != action.CodeSuccess {
		if act.Name() == "apply-payload" &&
			(code == action.CodeErrorHash || code == action.CodeErrorSignature || code == action.CodeErrorPayloadMismatch) {
			if err := d.a.PayloadState.ResetProgress(); err != nil {
				plog.Warningf("advancing URL after verification failure: %v", err)
			}
		}
		return
	}

	switch act.Name() {
	case "resolve-plan":
		d.a.setState(StateUpdateAvailable, action.CodeSuccess)
		d.a.setState(StateDownloading, action.CodeSuccess)
	case "open-payload":
		d.a.setState(StateVerifying, action.CodeSuccess)
	case "apply-payload":
		d.a.setState(StateFinalizing, action.CodeSuccess)
	}
}

func (d *attemptDelegate) ProcessingDone(_ *action.Processor, code action.Code) {
	d.finalCode = code
	switch code {
	case action.CodeSuccess:
		d.a.PayloadState.Clear()
		d.a.setState(StateUpdatedNeedReboot, action.CodeSuccess)
	case action.CodeErrorNoUpdate:
		d.a.setState(StateIdle, code)
	default:
		d.a.setState(StateReportingError, code)
		d.a.setState(StateIdle, code)
	}
}

func (a *Attempter) setState(s State, code action.Code) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	plog.Infof("attempter state -> %s", s)
	if a.Observer != nil {
		a.Observer.AttempterStateChanged(s, code)
	}
}

// State reports the attempter's current lifecycle state.
func (a *Attempter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Attempt runs exactly one check→fetch→verify→apply→finalize cycle by
// building the action graph spec.md §2 and §4.1 describe — one action
// per stage, connected by single-use typed pipes — and driving it with
// action.Processor. Its action.Code return is what the scheduler uses
// to drive backoff: soft codes (success, no-update) reset it; anything
// else counts as a failure.
func (a *Attempter) Attempt(ctx context.Context) action.Code {
	a.setState(StateCheckingForUpdate, action.CodeSuccess)

	respPipe := action.NewPipe[omaha.UpdateResponse]()
	planPipe := action.NewPipe[installplan.Plan]()
	inputPipe := action.NewPipe[payload.Input]()
	resultPipe := action.NewPipe[payload.Result]()
	finalPlanPipe := action.NewPipe[installplan.Plan]()
	pcrDonePipe := action.NewPipe[installplan.Plan]()

	delegate := &attemptDelegate{a: a}
	proc := action.NewProcessor(delegate)
	proc.Enqueue(action.New("check-for-update", &checkForUpdateStep{fn: a.ResponseFunc}, nil, respPipe))
	proc.Enqueue(action.New("resolve-plan", a.ResponseHandler, respPipe, planPipe))
	proc.Enqueue(action.New("open-payload", &openPayloadStep{fn: a.OpenPayload}, planPipe, inputPipe))
	proc.Enqueue(action.New("apply-payload", a.Payload, inputPipe, resultPipe))
	proc.Enqueue(action.New("postinstall", &postinstallStep{runner: a.Postinstall}, resultPipe, finalPlanPipe))
	proc.Enqueue(action.New("write-pcr-policy", &pcrPolicyStep{write: a.WritePCRPolicy}, finalPlanPipe, pcrDonePipe))
	proc.Enqueue(action.New("set-next-boot-slot", &bootctlStep{setter: a.BootCtl}, pcrDonePipe, nil))

	proc.Start(ctx)

	return delegate.finalCode
}

// UpdateBootFlags marks the currently-running slot permanently
// successful. It is idempotent and meant to be invoked once, a fixed
// interval after process start, once the caller has independently
// confirmed the running system came up cleanly (spec.md §4.5).
func (a *Attempter) UpdateBootFlags(ctx context.Context, runningPartition string) error {
	if a.BootCtl == nil {
		return nil
	}
	return a.BootCtl.SetSlotSuccessful(ctx, runningPartition)
}
