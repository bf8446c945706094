package websocket

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/bhandras/codetutor/server/internal/session"
)

// Resume query parameters sent by a reconnecting client.
const (
	ParamRun  = "run"
	ParamOut  = "out"
	ParamExpl = "expl"
	ParamDone = "done"
)

// parseResume extracts the catch-up position from the handshake query. It
// returns nil when the client sent none.
func parseResume(q url.Values) (*session.Resume, error) {
	if !q.Has(ParamRun) && !q.Has(ParamOut) && !q.Has(ParamExpl) && !q.Has(ParamDone) {
		return nil, nil
	}

	r := &session.Resume{RunID: q.Get(ParamRun)}
	var err error
	if r.OutputSeen, err = count(q, ParamOut); err != nil {
		return nil, err
	}
	if r.ExplanationSeen, err = count(q, ParamExpl); err != nil {
		return nil, err
	}
	if v := q.Get(ParamDone); v != "" {
		if r.SawTerminal, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ParamDone, err)
		}
	}
	return r, nil
}

func count(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}
