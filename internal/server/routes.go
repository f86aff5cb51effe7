package server

import "net/http"

// registerRoutes sets up the Request Surface's routes on mux. Both the
// training and dataset-assembly binaries call this with the same handler
// set — the difference between the two services is entirely in which
// trainer kinds their Manager's Registry has enabled, not in routing.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/api/jobs/ws", s.handleJobsWS)
	mux.HandleFunc("/api/jobs/", s.routeJobs)
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleSubmitJob(w, r)
		case http.MethodGet:
			s.handleListJobs(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}
