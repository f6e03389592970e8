package hotkeys

import (
	"errors"
	"log/slog"

	"github.com/BurntSushi/xgb/xproto"
)

// conflictScope collects the checked requests issued for one registration.
// settle reads every outcome back before the registration returns, so a
// conflict is attributed to the call that caused it.
type conflictScope struct {
	pending []pendingRequest
}

type pendingRequest struct {
	display string
	screen  int
	mods    uint16
	cookie  Cookie
}

func (s *conflictScope) track(display string, screen int, mods uint16, cookie Cookie) {
	s.pending = append(s.pending, pendingRequest{
		display: display,
		screen:  screen,
		mods:    mods,
		cookie:  cookie,
	})
}

// settle checks every tracked request. It reports whether any of them failed
// with BadAccess, which the server returns when another client already holds
// the grab. Other protocol errors are logged only.
func (s *conflictScope) settle(logger *slog.Logger) bool {
	conflict := false
	for _, req := range s.pending {
		err := req.cookie.Check()
		if err == nil {
			continue
		}

		var access xproto.AccessError
		if errors.As(err, &access) {
			conflict = true
			logger.Debug("grab refused by server",
				"display", req.display,
				"screen", req.screen,
				"mods", req.mods,
				"error", err)
			continue
		}
		logger.Debug("protocol error",
			"display", req.display,
			"screen", req.screen,
			"mods", req.mods,
			"error", err)
	}
	s.pending = nil
	return conflict
}
