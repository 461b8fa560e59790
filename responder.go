package main

import (
	"context"
	"log/slog"

	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/dispatch"
	"github.com/manutech/courier-server/routing"
)

// responder carries out the action a routing turn produced: replies go
// back to the sender, forwards go to the first active contact holding
// the target profile. Forwards ride at high priority so a human sees
// them before queued routine traffic.
type responder struct {
	db *db.DB
	d  *dispatch.Dispatcher
}

func (r *responder) Respond(ctx context.Context, in routing.Inbound, act routing.Action) {
	switch act.Kind {
	case routing.ActReply:
		if _, out, err := r.d.Enqueue(ctx, in.From, act.Text, db.PriorityNormal); err != nil {
			slog.Error("responder: enqueue reply failed", "to", in.From, "err", err)
		} else {
			slog.Debug("responder: reply dispatched", "to", in.From, "code", string(out.Code))
		}

	case routing.ActForward:
		contacts, err := r.db.ContactsByRole(act.TargetProfile)
		if err != nil || len(contacts) == 0 {
			slog.Warn("responder: no contact for forward profile", "profile", act.TargetProfile, "err", err)
			return
		}
		if _, out, err := r.d.Enqueue(ctx, contacts[0].Phone, act.Text, db.PriorityHigh); err != nil {
			slog.Error("responder: enqueue forward failed", "profile", act.TargetProfile, "err", err)
		} else {
			slog.Info("responder: forwarded to profile", "profile", act.TargetProfile, "code", string(out.Code))
		}

	case routing.ActSilent:
		// Nothing to send.
	}
}
