package camera

import (
	"context"
	"log/slog"

	"hostelattend/internal/attendance"
	"hostelattend/internal/queue"
)

// Ledger persists mark requests. *attendance.Service implements it.
type Ledger interface {
	Mark(ctx context.Context, req attendance.MarkRequest) (attendance.MarkResult, error)
}

// OutcomeSink receives the result of each processed request.
type OutcomeSink interface {
	RecordMark(sessionID string, o Outcome)
}

// ConsumeMarks drains mark requests from q into the ledger until ctx ends.
// A failed mark is reported to sink and the loop carries on. sink may be nil.
func ConsumeMarks(ctx context.Context, q queue.Queue, ledger Ledger, sink OutcomeSink, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "marks")
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != queue.TypeMark {
			log.Debug("skipping message", "type", msg.Type)
			continue
		}
		var req attendance.MarkRequest
		if err := msg.Decode(&req); err != nil {
			log.Warn("malformed mark request", "error", err)
			continue
		}
		res, err := ledger.Mark(ctx, req)
		o := Outcome{StudentKey: req.StudentKey, Err: err, At: req.At}
		if err == nil {
			o.StudentName = res.StudentName
			o.AlreadyMarked = res.AlreadyMarked
		}
		if sink != nil {
			sink.RecordMark(req.SessionID, o)
		} else if err != nil {
			log.Warn("auto mark failed", "student", req.StudentKey, "error", err)
		}
	}
	return ctx.Err()
}
