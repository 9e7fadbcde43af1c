package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cdr.dev/slog/v3"

	goBioKey "github.com/MrEthical07/goBioKey"
	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/soft"
)

type actionKind int

const (
	actTouch actionKind = iota
	actWrongTouch
	actPin
	actWrongPin
	actUserCancel
	actCancel
	actFallback
	actPause
)

var actionsByName = map[string]actionKind{
	"touch":      actTouch,
	"wrong":      actWrongTouch,
	"pin":        actPin,
	"wrongpin":   actWrongPin,
	"usercancel": actUserCancel,
	"cancel":     actCancel,
	"fallback":   actFallback,
}

type action struct {
	kind  actionKind
	pause time.Duration
}

func actionNames() []string {
	names := make([]string, 0, len(actionsByName)+1)
	for name := range actionsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, "pause:<duration>")
}

// parseScript reads a comma separated action list. An empty script does
// nothing, which leaves the challenge to time out or be interrupted.
func parseScript(script string) ([]action, error) {
	var out []action
	for _, raw := range strings.Split(script, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if d, ok := strings.CutPrefix(name, "pause:"); ok {
			pause, err := time.ParseDuration(d)
			if err != nil || pause < 0 {
				return nil, fmt.Errorf("bad pause %q", raw)
			}
			out = append(out, action{kind: actPause, pause: pause})
			continue
		}
		kind, ok := actionsByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown action %q", raw)
		}
		out = append(out, action{kind: kind})
	}
	return out, nil
}

// simUser plays the user's side of a challenge on the software platform.
type simUser struct {
	platform   *soft.Platform
	pending    *goBioKey.Pending
	credential string
	template   []byte
	logger     slog.Logger
}

func (u *simUser) play(ctx context.Context, actions []action) {
	for _, a := range actions {
		select {
		case <-u.pending.Done():
			return
		default:
		}
		if err := u.do(ctx, a); err != nil {
			u.logger.Warn(ctx, "action failed", slog.F("action", a.kind), slog.Error(err))
		}
	}
}

func (u *simUser) do(ctx context.Context, a action) error {
	switch a.kind {
	case actPause:
		select {
		case <-time.After(a.pause):
		case <-ctx.Done():
		}
		return nil
	case actCancel:
		u.pending.Cancel()
		return nil
	case actFallback:
		if err := u.await(ctx, challenge.KindBiometric); err != nil {
			return err
		}
		return u.pending.Fallback()
	case actTouch, actWrongTouch:
		if err := u.await(ctx, challenge.KindBiometric); err != nil {
			return err
		}
		template := u.template
		if a.kind == actWrongTouch {
			template = []byte("not-a-finger")
		}
		return u.platform.Touch(ctx, template)
	case actPin, actWrongPin:
		if err := u.await(ctx, challenge.KindDeviceCredential); err != nil {
			return err
		}
		credential := u.credential
		if a.kind == actWrongPin {
			credential = credential + "x"
		}
		return u.platform.SubmitCredential(ctx, credential)
	case actUserCancel:
		if err := u.await(ctx, challenge.KindBiometric); err != nil {
			return err
		}
		return u.platform.UserCancel(challenge.KindBiometric)
	}
	return fmt.Errorf("unhandled action %d", a.kind)
}

// await blocks until a request of kind is listening, or the pending request
// resolves first.
func (u *simUser) await(ctx context.Context, kind challenge.Kind) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-u.pending.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return u.platform.WaitActive(waitCtx, kind)
}
