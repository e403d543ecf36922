package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/ipc"
)

// Handle serves control commands for the owner process.
func (o *Orchestrator) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		resp := o.status()
		resp.OK = true
		return resp
	case ipc.CommandStop, ipc.CommandToggle:
		return o.commandResponse(o.StopSession(), "stop requested")
	case ipc.CommandCancel:
		return o.commandResponse(o.CancelSession(), "cancel requested")
	default:
		resp := o.status()
		resp.Error = fmt.Sprintf("unknown command: %s", req.Command)
		return resp
	}
}

// Stream follows the active session and ends after its terminal report.
func (o *Orchestrator) Stream(ctx context.Context, emit func(ipc.Response) error) error {
	events, release := o.Subscribe()
	defer release()

	current := o.status()
	current.OK = true
	if err := emit(current); err != nil {
		return err
	}
	if current.SessionID == "" || fsm.Stage(current.Stage).Terminal() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Report.SessionID != current.SessionID {
				continue
			}
			resp := responseFromReport(ev.Report)
			resp.OK = ev.Result == nil || ev.Result.Err == nil
			if ev.Result != nil && ev.Result.Err != nil {
				resp.Error = ev.Result.Err.Error()
			}
			if err := emit(resp); err != nil {
				return err
			}
			if ev.Result != nil {
				return nil
			}
		}
	}
}

func (o *Orchestrator) commandResponse(err error, message string) ipc.Response {
	resp := o.status()
	switch {
	case err == nil:
		resp.OK = true
		resp.Message = message
	case errors.Is(err, ErrNotCapturing):
		resp.Error = fmt.Sprintf("cannot stop from stage %s", resp.Stage)
	default:
		resp.Error = err.Error()
	}
	return resp
}

func (o *Orchestrator) status() ipc.Response {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return ipc.Response{Stage: string(fsm.StageIdle), Message: "idle"}
	}
	return responseFromReport(o.active.report)
}

func responseFromReport(report ProgressReport) ipc.Response {
	resp := ipc.Response{
		SessionID: report.SessionID,
		Stage:     string(report.Stage),
		Message:   report.Message,
	}
	if report.Fraction.Known() {
		f := float64(report.Fraction)
		resp.Fraction = &f
	}
	if report.ETA != nil {
		eta := report.ETA.Seconds()
		resp.ETASeconds = &eta
	}
	return resp
}
