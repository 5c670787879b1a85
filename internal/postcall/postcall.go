// Package postcall turns a finished call into its dashboard rows and log
// artifacts. [Pipeline.Run] executes a fixed sequence: the job row first,
// then the call row carrying whatever ids the job POST returned, an
// emergency alert when the call ended in the safety exit, and finally the
// chunked transcript dump to the log. Each step tolerates the failure of the
// ones before it, so a bad webhook never loses the transcript.
//
// Everything here is derived from the finished [session.Session]; nothing
// mutates it, and replaying the same session produces the same documents.
package postcall

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/callweave/callweave/internal/session"
)

// Pipeline owns the post-call sequence for one deployment: a dashboard
// client and the operator email stamped into every document.
type Pipeline struct {
	dash      *Dashboard
	userEmail string
	log       *slog.Logger
}

// NewPipeline creates a pipeline. dash may be nil, in which case Run only
// emits the transcript dump.
func NewPipeline(dash *Dashboard, userEmail string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{dash: dash, userEmail: userEmail, log: log}
}

// Run executes the post-call sequence for s. It never returns an error:
// webhook failures are logged and absorbed, and the transcript dump is
// emitted regardless so the call is reconstructable from the log alone.
func (p *Pipeline) Run(ctx context.Context, s *session.Session) {
	endedAt := time.Now()

	if p.dash.Configured() {
		p.sync(ctx, s, endedAt)
	} else {
		p.log.Warn("dashboard sync skipped, jobs URL or webhook secret missing",
			"callSid", s.CallSID)
	}

	for _, line := range ChunkDump(Dump(s, endedAt), dumpChunkBytes) {
		p.log.Info(line, "callSid", s.CallSID)
	}
}

func (p *Pipeline) sync(ctx context.Context, s *session.Session, endedAt time.Time) {
	job := p.dash.SendJob(ctx, JobPayload(s, p.userEmail))
	leadID := idField(job, "lead_id")
	jobID := idField(job, "job_id")

	// The call row links to the job row, so it is never posted before the
	// job POST has finished.
	p.dash.SendCall(ctx, CallPayload(s, endedAt, p.userEmail, leadID, jobID))

	if s.State == session.StateSafetyExit {
		p.dash.SendEmergencyAlert(ctx, AlertPayload(s, p.userEmail, time.Now()))
	}

	p.log.Info("post-call sync complete",
		"callSid", s.CallSID,
		"finalState", s.State.String(),
		"endCallReason", EndCallReason(s),
		"bookingStatus", BookingStatus(s),
		"leadId", leadID,
		"jobId", jobID)
}

// idField reads an id the dashboard may return as either a string or a JSON
// number.
func idField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
