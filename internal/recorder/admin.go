package recorder

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gazestream/internal/httputil"
)

// AttachAdminRoutes mounts a tailsql console over the recorder database and
// a JSON stats page under /debug/.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+r.path, r.db, &tailsql.DBOptions{
		Label: "Gaze session recorder",
	})
	debug.Handle("tailsql/", "SQL over recorded sessions", tsql.NewMux())

	debug.HandleFunc("recorder", "Recorder counters (JSON)", func(w http.ResponseWriter, req *http.Request) {
		if httputil.RequireGet(w, req) {
			httputil.WriteJSONOK(w, r.Stats())
		}
	})
	return nil
}
